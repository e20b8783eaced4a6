package core

import (
	"context"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/google/uuid"
)

// Store persists sessions, rows, entities and audit entries.
//
// Implementations return ErrSessionNotFound for unknown sessions and
// ErrSessionNotPending when a terminal transition targets a session that has
// already left Pending.
type Store interface {
	SessionReader

	// CreateSession stores a Pending session with its rows in one unit.
	CreateSession(ctx context.Context, session *ImportSession, rows []ImportRow) error

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, opts ListOptions) ([]ImportSession, error)

	// CancelSession moves a Pending session to Cancelled.
	CancelSession(ctx context.Context, session *ImportSession) error

	// LoadSnapshot reads every category and license.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// ListAudit returns the audit entries recorded for a session, oldest first.
	ListAudit(ctx context.Context, sessionID uuid.UUID) ([]AuditEntry, error)

	// InTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SessionReader is the read side shared by Store and Tx.
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*ImportSession, error)
	ListRows(ctx context.Context, sessionID uuid.UUID, filter RowFilter) ([]ImportRow, error)
}

// Tx is the write surface of the commit transaction.
type Tx interface {
	SessionReader
	AuditSink

	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	InsertCategory(ctx context.Context, c *Category) error
	InsertLicense(ctx context.Context, l *License) error

	// UpdateLicense overwrites l when the stored version equals
	// expectedVersion, and returns ErrConcurrentChange otherwise.
	UpdateLicense(ctx context.Context, l *License, expectedVersion int) error

	// CompleteSession writes the terminal counters, status and completion
	// time of a session that is still Pending.
	CompleteSession(ctx context.Context, session *ImportSession) error
}

// AuditSink receives audit entries. A failed append fails the operation.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// SettingsProvider supplies the system-wide expiry thresholds.
type SettingsProvider interface {
	Thresholds(ctx context.Context) (expiry.Thresholds, error)
}

// FileStore keeps uploaded bytes under names it generates.
type FileStore interface {
	Save(ctx context.Context, data []byte) (name string, err error)
	Delete(ctx context.Context, name string) error
}
