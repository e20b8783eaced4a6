package core

// convert.go turns cleaned cell text into typed row fields.
//
// Unlike a lenient spreadsheet import, the license file format is strict:
// dates must be yyyy-MM-dd, seat counts must be plain non-negative integers
// and identifiers must be UUIDs. Each parser reports ok=false rather than
// guessing.

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ParseSeatCount parses a non-negative whole number. Blank input is (nil, true).
func ParseSeatCount(s string) (*int, bool) {
	if s == "" {
		return nil, true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, false
	}
	return &n, true
}

// ParseExpiresOn parses an exact yyyy-MM-dd date at UTC midnight. Blank input is (nil, true).
func ParseExpiresOn(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	if len(s) != len(ExpiresOnLayout) {
		return nil, false
	}
	t, err := time.ParseInLocation(ExpiresOnLayout, s, time.UTC)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// ParseLicenseID parses a license identifier. Blank input is (nil, true).
func ParseLicenseID(s string) (*uuid.UUID, bool) {
	if s == "" {
		return nil, true
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// FormatExpiresOn renders a date in the import format, or "" for nil.
func FormatExpiresOn(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(ExpiresOnLayout)
}

// FormatCount renders an optional count, or "" for nil.
func FormatCount(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

// NormalizeKeyPart lower-cases and trims one component of a natural key.
func NormalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NaturalKey builds the name|vendor|category matching key.
func NaturalKey(name, vendor, category string) string {
	return NormalizeKeyPart(name) + "|" + NormalizeKeyPart(vendor) + "|" + NormalizeKeyPart(category)
}

// charCount counts characters, not bytes.
func charCount(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateChars cuts s to at most n characters.
func truncateChars(s string, n int) string {
	if charCount(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// joinErrors renders row errors as one space-separated, length-capped message.
func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return truncateChars(strings.Join(errs, " "), MaxErrorMessageLength)
}
