package expiry

import (
	"fmt"
	"time"
)

// System defaults used when no setting has been configured.
const (
	DefaultCriticalDays = 30
	DefaultWarningDays  = 90
)

// Thresholds is a critical/warning day pair.
type Thresholds struct {
	CriticalDays int `json:"criticalDays"`
	WarningDays  int `json:"warningDays"`
}

// Defaults returns the built-in system thresholds.
func Defaults() Thresholds {
	return Thresholds{CriticalDays: DefaultCriticalDays, WarningDays: DefaultWarningDays}
}

// Normalize returns a pair satisfying WarningDays > CriticalDays > 0.
// A non-positive critical threshold becomes 1; a warning threshold at or
// below the critical one is raised to CriticalDays+1.
func (t Thresholds) Normalize() Thresholds {
	if t.CriticalDays <= 0 {
		t.CriticalDays = 1
	}
	if t.WarningDays <= t.CriticalDays {
		t.WarningDays = t.CriticalDays + 1
	}
	return t
}

// Status classifies expiresOn as of now using the normalized pair.
func (t Thresholds) Status(expiresOn *time.Time, now time.Time) Status {
	n := t.Normalize()
	return Compute(expiresOn, n.CriticalDays, n.WarningDays, now)
}

func (t Thresholds) String() string {
	return fmt.Sprintf("critical=%dd warning=%dd", t.CriticalDays, t.WarningDays)
}

// Override is a per-license threshold pair. Nil fields fall back to the system value.
type Override struct {
	CriticalDays *int `json:"criticalDays,omitempty"`
	WarningDays  *int `json:"warningDays,omitempty"`
}

// Resolve applies the override to the system pair field by field and normalizes the result.
func Resolve(system Thresholds, override Override) Thresholds {
	resolved := system
	if override.CriticalDays != nil {
		resolved.CriticalDays = *override.CriticalDays
	}
	if override.WarningDays != nil {
		resolved.WarningDays = *override.WarningDays
	}
	return resolved.Normalize()
}
