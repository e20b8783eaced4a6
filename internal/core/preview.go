package core

// preview.go aggregates classified rows into a session that a person can
// review before anything is written to licenses or categories.

import (
	"time"

	"github.com/google/uuid"
)

// SessionDraft carries what BuildSession needs besides the rows.
type SessionDraft struct {
	ID               uuid.UUID
	Actor            ActorContext
	OriginalFileName string
	StoredFileName   string
	CreatedAt        time.Time
}

// BuildSession creates a Pending session and its rows from a classification.
// Row order is kept; every row gets an identifier and the session reference.
func BuildSession(draft SessionDraft, c *Classification) (*ImportSession, []ImportRow) {
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}

	session := &ImportSession{
		ID:               draft.ID,
		CreatedAt:        draft.CreatedAt.UTC(),
		CreatedByUserID:  draft.Actor.UserID,
		CreatedByEmail:   draft.Actor.Email,
		Status:           SessionPending,
		OriginalFileName: draft.OriginalFileName,
		StoredFileName:   draft.StoredFileName,
		TotalRows:        len(c.Rows),
		InvalidRows:      c.InvalidRows,
		ValidRows:        c.NewLicenses + c.UpdatedLicenses,
		NewLicenses:      c.NewLicenses,
		UpdatedLicenses:  c.UpdatedLicenses,
		NewCategories:    c.NewCategories,
	}

	rows := make([]ImportRow, len(c.Rows))
	for i := range c.Rows {
		rows[i] = c.Rows[i].clone()
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		rows[i].SessionID = session.ID
	}

	return session, rows
}

// SessionPreview is a session with the rows selected by Filter.
type SessionPreview struct {
	Session ImportSession `json:"session"`
	Filter  RowFilter     `json:"filter"`
	Rows    []ImportRow   `json:"rows"`
}

// FilterRows returns the rows selected by f, in row order.
func FilterRows(rows []ImportRow, f RowFilter) []ImportRow {
	out := make([]ImportRow, 0, len(rows))
	for _, row := range rows {
		if f.Match(row) {
			out = append(out, row)
		}
	}
	return out
}
