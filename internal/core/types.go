package core

import (
	"strings"
	"time"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an import session.
// The only transitions are Pending to Committed and Pending to Cancelled.
type SessionStatus string

const (
	SessionPending   SessionStatus = "Pending"
	SessionCommitted SessionStatus = "Committed"
	SessionCancelled SessionStatus = "Cancelled"
)

// RowAction is the classification outcome of an import row.
type RowAction string

const (
	RowActionNone    RowAction = ""
	RowActionNew     RowAction = "New"
	RowActionUpdate  RowAction = "Update"
	RowActionInvalid RowAction = "Invalid"
)

// ImportSession is one upload attempt.
type ImportSession struct {
	ID               uuid.UUID     `json:"id"`
	CreatedAt        time.Time     `json:"createdAt"`
	CreatedByUserID  string        `json:"createdByUserId"`
	CreatedByEmail   string        `json:"createdByEmail,omitempty"`
	Status           SessionStatus `json:"status"`
	OriginalFileName string        `json:"originalFileName"`
	StoredFileName   string        `json:"storedFileName"`
	TotalRows        int           `json:"totalRows"`
	ValidRows        int           `json:"validRows"`
	InvalidRows      int           `json:"invalidRows"`
	NewLicenses      int           `json:"newLicenses"`
	UpdatedLicenses  int           `json:"updatedLicenses"`
	NewCategories    int           `json:"newCategories"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
}

// ImportRow is one candidate license record read from the uploaded file.
//
// The typed fields hold parsed values; the *Raw fields keep the cell text so
// invalid rows can be exported back to the user unchanged.
type ImportRow struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`
	RowNumber int       `json:"rowNumber"`

	RawLicenseID string     `json:"rawLicenseId,omitempty"`
	LicenseID    *uuid.UUID `json:"licenseId,omitempty"` // set only when the row resolved to a stored license

	LicenseName       string     `json:"licenseName"`
	CategoryName      string     `json:"categoryName"`
	Vendor            string     `json:"vendor,omitempty"`
	SeatsPurchased    *int       `json:"seatsPurchased,omitempty"`
	SeatsAssigned     *int       `json:"seatsAssigned,omitempty"`
	ExpiresOn         *time.Time `json:"expiresOn,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	SeatsPurchasedRaw string     `json:"-"`
	SeatsAssignedRaw  string     `json:"-"`
	ExpiresOnRaw      string     `json:"-"`

	IsValid      bool      `json:"isValid"`
	Action       RowAction `json:"action"`
	ErrorMessage string    `json:"errorMessage,omitempty"`

	// Errors holds the rule messages behind ErrorMessage while the row is
	// being validated and classified. It is not persisted.
	Errors []string `json:"-"`
}

// addError records a rule violation and keeps IsValid and ErrorMessage in step.
func (r *ImportRow) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
	r.ErrorMessage = joinErrors(r.Errors)
}

// clone returns a copy that shares no mutable state with r.
func (r ImportRow) clone() ImportRow {
	c := r
	if r.Errors != nil {
		c.Errors = append([]string(nil), r.Errors...)
	}
	if r.LicenseID != nil {
		id := *r.LicenseID
		c.LicenseID = &id
	}
	return c
}

// Category is a stored license category.
type Category struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// License is a stored license. CategoryName is loaded from the referenced
// category and is not a column of its own.
type License struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Vendor         string          `json:"vendor,omitempty"`
	CategoryID     *uuid.UUID      `json:"categoryId,omitempty"`
	CategoryName   string          `json:"categoryName,omitempty"`
	SeatsPurchased *int            `json:"seatsPurchased,omitempty"`
	SeatsAssigned  *int            `json:"seatsAssigned,omitempty"`
	ExpiresOn      *time.Time      `json:"expiresOn,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Status         expiry.Status   `json:"status"`
	Thresholds     expiry.Override `json:"thresholds"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
}

// Snapshot is the set of stored entities rows are resolved against.
type Snapshot struct {
	Categories []Category
	Licenses   []License
}

// RowFilter selects rows in preview listings.
type RowFilter string

const (
	RowFilterAll     RowFilter = "all"
	RowFilterValid   RowFilter = "valid"
	RowFilterInvalid RowFilter = "invalid"
	RowFilterNew     RowFilter = "new"
	RowFilterUpdate  RowFilter = "update"
)

// ParseRowFilter maps a query value to a RowFilter. Unknown values select all rows.
func ParseRowFilter(s string) RowFilter {
	switch f := RowFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case RowFilterValid, RowFilterInvalid, RowFilterNew, RowFilterUpdate:
		return f
	default:
		return RowFilterAll
	}
}

// Match reports whether row is selected by the filter.
func (f RowFilter) Match(row ImportRow) bool {
	switch f {
	case RowFilterValid:
		return row.IsValid
	case RowFilterInvalid:
		return !row.IsValid
	case RowFilterNew:
		return row.Action == RowActionNew
	case RowFilterUpdate:
		return row.Action == RowActionUpdate
	default:
		return true
	}
}

// ListOptions pages session listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// CommitOptions adjusts commit preconditions.
type CommitOptions struct {
	// SkipInvalid allows committing a session that has invalid rows; they are
	// left out and only valid rows are written.
	SkipInvalid bool
}

// CommitResult describes a committed session.
type CommitResult struct {
	Session         ImportSession `json:"session"`
	NewLicenses     int           `json:"newLicenses"`
	UpdatedLicenses int           `json:"updatedLicenses"`
	NewCategories   int           `json:"newCategories"`
	AuditEntries    int           `json:"auditEntries"`
}
