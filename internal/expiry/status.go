// Package expiry classifies licenses by how close they are to their expiry date.
//
// The same calculator is used when an import is committed and by anything that
// reports on license health, so threshold handling lives here and nowhere else:
// callers resolve a Thresholds value with [Resolve] and ask it for a [Status].
package expiry

import "time"

// Status is the expiry classification of a license.
type Status string

const (
	StatusUnknown  Status = "Unknown"
	StatusGood     Status = "Good"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
	StatusExpired  Status = "Expired"
)

// ParseStatus returns the Status named by s, or StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusGood, StatusWarning, StatusCritical, StatusExpired:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// Compute classifies expiresOn against raw day thresholds as of now.
//
// A nil expiry is Unknown. Otherwise the whole-day distance between the UTC
// calendar dates decides: negative is Expired, up to criticalDays is Critical,
// up to warningDays is Warning, anything further out is Good.
//
// Compute does not normalize its thresholds. Use [Thresholds.Status] unless the
// pair is already known to be normalized.
func Compute(expiresOn *time.Time, criticalDays, warningDays int, now time.Time) Status {
	if expiresOn == nil {
		return StatusUnknown
	}

	days := DaysUntil(*expiresOn, now)
	switch {
	case days < 0:
		return StatusExpired
	case days <= criticalDays:
		return StatusCritical
	case days <= warningDays:
		return StatusWarning
	default:
		return StatusGood
	}
}

// DaysUntil returns the number of calendar days from now to t, both taken as UTC dates.
func DaysUntil(t, now time.Time) int {
	return int(DateOf(t).Sub(DateOf(now)).Hours() / 24)
}

// DateOf truncates t to midnight UTC of its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
