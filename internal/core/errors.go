package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Upload errors. The messages carry the patterns MapError keys on.
var (
	ErrNoFile              = errors.New("no file provided")
	ErrEmptyFile           = errors.New("empty file: no data rows found")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type: only .csv files are accepted")
	ErrUnsupportedContent  = errors.New("unsupported content type")
)

// Session lifecycle and commit precondition errors.
var (
	ErrSessionNotFound       = errors.New("import session not found")
	ErrSessionNotPending     = errors.New("import session is not pending")
	ErrSessionHasInvalidRows = errors.New("import session has invalid rows")
	ErrNothingToCommit       = errors.New("import session has nothing to commit")
	ErrConcurrentChange      = errors.New("licenses changed since preview")
)

// StructuralError reports a file that cannot be imported at all: unreadable
// CSV, no header, missing or repeated columns. No session is created for it.
type StructuralError struct {
	Reason  string
	Missing []string // required columns absent from the header
	Err     error
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString("invalid csv: ")
	b.WriteString(e.Reason)
	if len(e.Missing) > 0 {
		b.WriteString(": missing required column(s) ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// CommitError wraps a failure that happened inside the commit transaction.
// When it is returned nothing was written and the session is still Pending.
type CommitError struct {
	SessionID uuid.UUID
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit import %s: no changes were applied: %v", e.SessionID, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// ConcurrentChangeError names the row whose resolution no longer matches the preview.
type ConcurrentChangeError struct {
	RowNumber int
	Previewed RowAction
	Resolved  RowAction
}

func (e *ConcurrentChangeError) Error() string {
	return fmt.Sprintf("%s: row %d previewed as %s but now resolves as %s",
		ErrConcurrentChange, e.RowNumber, e.Previewed, e.Resolved)
}

func (e *ConcurrentChangeError) Is(target error) bool {
	return target == ErrConcurrentChange
}
