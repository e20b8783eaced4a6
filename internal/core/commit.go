package core

// commit.go materializes a Pending session.
//
// Everything a commit writes (categories, licenses, audit entries and the
// session transition) happens in one store transaction. Rows are resolved
// again against data read inside that transaction; if any row no longer
// resolves the way it did at preview time the commit is refused.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
	"github.com/google/uuid"
)

// Commit transitions a Pending session to Committed, creating and updating
// licenses and categories from its valid rows.
//
// Precondition failures are returned before any transaction starts. Any
// failure after that is returned as a *CommitError; in that case nothing was
// written and the session is still Pending.
func (s *Service) Commit(ctx context.Context, actor ActorContext, id uuid.UUID, opts CommitOptions) (*CommitResult, error) {
	logger := logging.WithFields(ctx, "session_id", id, "user_id", actor.UserID)

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkCommitPreconditions(session, opts); err != nil {
		return nil, err
	}

	rows, err := s.store.ListRows(ctx, id, RowFilterAll)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	valid := FilterRows(rows, RowFilterValid)
	if len(rows) == 0 || len(valid) == 0 {
		return nil, ErrNothingToCommit
	}

	th, err := s.Thresholds(ctx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info("import commit started", "valid_rows", len(valid), "thresholds", th.String())

	var result *CommitResult
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != SessionPending {
			return fmt.Errorf("%w: status is %s", ErrSessionNotPending, current.Status)
		}

		snap, err := tx.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}

		now := s.clock()
		plan := Resolver{Thresholds: th, Now: func() time.Time { return now }}.Resolve(valid, snap)
		if err := verifyPlan(valid, plan); err != nil {
			return err
		}

		audit := newAuditRecorder(ctx, tx, actor, id, now)
		if err := applyPlan(ctx, tx, audit, plan); err != nil {
			return err
		}

		current.Status = SessionCommitted
		current.CompletedAt = &now
		current.NewLicenses = plan.NewLicenses
		current.UpdatedLicenses = plan.UpdatedLicenses
		current.NewCategories = plan.NewCategories
		if err := tx.CompleteSession(ctx, current); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}

		if err := audit.LogImportCommit(ctx, current); err != nil {
			return err
		}

		result = &CommitResult{
			Session:         *current,
			NewLicenses:     plan.NewLicenses,
			UpdatedLicenses: plan.UpdatedLicenses,
			NewCategories:   plan.NewCategories,
			AuditEntries:    audit.count,
		}
		return nil
	})
	if err != nil {
		logger.Error("import commit failed", "error", err)
		return nil, &CommitError{SessionID: id, Err: err}
	}

	s.deleteFile(ctx, session.StoredFileName)

	logger.Info("import committed",
		"new_licenses", result.NewLicenses,
		"updated_licenses", result.UpdatedLicenses,
		"new_categories", result.NewCategories,
		"audit_entries", result.AuditEntries,
	)
	return result, nil
}

// checkCommitPreconditions rejects sessions that cannot be committed.
func checkCommitPreconditions(session *ImportSession, opts CommitOptions) error {
	switch {
	case session.Status != SessionPending:
		return fmt.Errorf("%w: status is %s", ErrSessionNotPending, session.Status)
	case session.InvalidRows > 0 && !opts.SkipInvalid:
		return fmt.Errorf("%w: %d invalid row(s)", ErrSessionHasInvalidRows, session.InvalidRows)
	case session.ValidRows <= 0:
		return ErrNothingToCommit
	}
	return nil
}

// verifyPlan checks that every row resolves as it did when it was previewed.
func verifyPlan(rows []ImportRow, plan *Plan) error {
	byRow := make(map[int]RowResolution, len(plan.Resolutions))
	for _, res := range plan.Resolutions {
		byRow[res.RowNumber] = res
	}

	for _, row := range rows {
		res, ok := byRow[row.RowNumber]
		if !ok {
			return fmt.Errorf("row %d was not resolved", row.RowNumber)
		}
		if res.Action != row.Action {
			return &ConcurrentChangeError{RowNumber: row.RowNumber, Previewed: row.Action, Resolved: res.Action}
		}
		if res.Action == RowActionUpdate && (row.LicenseID == nil || *row.LicenseID != res.LicenseID) {
			return &ConcurrentChangeError{RowNumber: row.RowNumber, Previewed: row.Action, Resolved: res.Action}
		}
	}
	return nil
}

// applyPlan executes the intents in order, auditing each one.
func applyPlan(ctx context.Context, tx Tx, audit *auditRecorder, plan *Plan) error {
	for _, in := range plan.Intents {
		switch in.Kind {
		case IntentCreateCategory:
			if err := tx.InsertCategory(ctx, in.Category); err != nil {
				return fmt.Errorf("row %d: create category %q: %w", in.RowNumber, in.Category.Name, err)
			}
			if err := audit.LogCategoryCreate(ctx, in.Category, in.RowNumber); err != nil {
				return err
			}

		case IntentCreateLicense:
			if err := tx.InsertLicense(ctx, in.License); err != nil {
				return fmt.Errorf("row %d: create license %q: %w", in.RowNumber, in.License.Name, err)
			}
			if err := audit.LogLicenseCreate(ctx, in.License, in.RowNumber); err != nil {
				return err
			}

		case IntentUpdateLicense:
			if err := tx.UpdateLicense(ctx, in.License, in.ExpectedVersion); err != nil {
				return fmt.Errorf("row %d: update license %s: %w", in.RowNumber, in.License.ID, err)
			}
			if err := audit.LogLicenseUpdate(ctx, in.Previous, in.License, in.RowNumber); err != nil {
				return err
			}

		default:
			return errors.New("unknown intent " + string(in.Kind))
		}
	}
	return nil
}
