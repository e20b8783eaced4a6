package core

// columns.go is the catalog of CSV columns an import file may carry.
//
// The catalog drives header validation, the downloadable template and the
// column order of the invalid-row export. It is never modified at runtime.

import (
	"fmt"
	"strings"
)

// Column names as they appear in the header row.
const (
	ColLicenseID      = "LicenseId"
	ColLicenseName    = "LicenseName"
	ColCategoryName   = "CategoryName"
	ColVendor         = "Vendor"
	ColSeatsPurchased = "SeatsPurchased"
	ColSeatsAssigned  = "SeatsAssigned"
	ColExpiresOn      = "ExpiresOn"
	ColNotes          = "Notes"
	ColErrorMessage   = "ErrorMessage"
)

// Field length limits.
const (
	MaxNameLength         = 200
	MaxVendorLength       = 200
	MaxNotesLength        = 2000
	MaxLicenseIDLength    = 50
	MaxErrorMessageLength = 1000
)

// ExpiresOnLayout is the only accepted date format (yyyy-MM-dd).
const ExpiresOnLayout = "2006-01-02"

// FieldType is the expected data type of a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldUUID
	FieldCount
	FieldDate
)

// FieldSpec describes one import column.
type FieldSpec struct {
	Name      string
	Type      FieldType
	Required  bool // column must exist in the header and the value must be non-blank
	MaxLength int  // 0 means unbounded
}

// ImportColumns lists every accepted column in template order.
var ImportColumns = []FieldSpec{
	{Name: ColLicenseID, Type: FieldUUID, MaxLength: MaxLicenseIDLength},
	{Name: ColLicenseName, Type: FieldText, Required: true, MaxLength: MaxNameLength},
	{Name: ColCategoryName, Type: FieldText, Required: true, MaxLength: MaxNameLength},
	{Name: ColVendor, Type: FieldText, MaxLength: MaxVendorLength},
	{Name: ColSeatsPurchased, Type: FieldCount},
	{Name: ColSeatsAssigned, Type: FieldCount},
	{Name: ColExpiresOn, Type: FieldDate},
	{Name: ColNotes, Type: FieldText, MaxLength: MaxNotesLength},
}

// ColumnNames returns the header names of ImportColumns in order.
func ColumnNames() []string {
	names := make([]string, len(ImportColumns))
	for i, spec := range ImportColumns {
		names[i] = spec.Name
	}
	return names
}

// RequiredColumns returns the names of columns that must be in the header.
func RequiredColumns() []string {
	var names []string
	for _, spec := range ImportColumns {
		if spec.Required {
			names = append(names, spec.Name)
		}
	}
	return names
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased for case-insensitive matching.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// Cell returns the cleaned value of the named column, or "" when the column
// is absent or the row is short.
func (h HeaderIndex) Cell(row []string, name string) string {
	pos, ok := h[strings.ToLower(name)]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

// Has reports whether the header contains the named column.
func (h HeaderIndex) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// ValidateHeaders checks the header row against ImportColumns.
// Missing required columns and repeated known columns are structural failures.
func ValidateHeaders(header []string) (HeaderIndex, error) {
	seen := make(map[string]bool, len(header))
	var repeated []string
	for _, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if seen[key] && isKnownColumn(key) {
			repeated = append(repeated, CleanCell(h))
		}
		seen[key] = true
	}
	if len(repeated) > 0 {
		return nil, &StructuralError{Reason: fmt.Sprintf("column(s) appear more than once: %s", strings.Join(repeated, ", "))}
	}

	idx := MakeHeaderIndex(header)
	var missing []string
	for _, name := range RequiredColumns() {
		if !idx.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &StructuralError{Reason: "header check failed", Missing: missing}
	}

	return idx, nil
}

func isKnownColumn(lower string) bool {
	for _, spec := range ImportColumns {
		if strings.ToLower(spec.Name) == lower {
			return true
		}
	}
	return false
}

// CleanCell trims surrounding whitespace. Cell contents are otherwise kept
// as written.
func CleanCell(s string) string {
	return strings.TrimSpace(s)
}
