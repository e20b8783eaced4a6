package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// queries runs every statement against db. Inside a transaction session
// reads take a row lock so a concurrent commit or cancel waits.
type queries struct {
	db        DBTX
	forUpdate bool
}

var _ core.Tx = (*queries)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// ----------------------------------------------------------------------------
// Sessions
// ----------------------------------------------------------------------------

const sessionColumns = `id, created_at, created_by_user_id, created_by_email, status,
	original_file_name, stored_file_name, total_rows, valid_rows, invalid_rows,
	new_licenses, updated_licenses, new_categories, completed_at`

func scanSession(row scanner) (*core.ImportSession, error) {
	var (
		s           core.ImportSession
		id          pgtype.UUID
		status      string
		completedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &s.CreatedAt, &s.CreatedByUserID, &s.CreatedByEmail, &status,
		&s.OriginalFileName, &s.StoredFileName, &s.TotalRows, &s.ValidRows, &s.InvalidRows,
		&s.NewLicenses, &s.UpdatedLicenses, &s.NewCategories, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ID = uuid.UUID(id.Bytes)
	s.Status = core.SessionStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.CompletedAt = timePtr(completedAt)
	return &s, nil
}

func (q *queries) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM import_sessions WHERE id = $1`
	if q.forUpdate {
		query += ` FOR UPDATE`
	}

	s, err := scanSession(q.db.QueryRow(ctx, query, pgUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func (q *queries) insertSession(ctx context.Context, s *core.ImportSession) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO import_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pgUUID(s.ID), s.CreatedAt.UTC(), s.CreatedByUserID, s.CreatedByEmail, string(s.Status),
		s.OriginalFileName, s.StoredFileName, s.TotalRows, s.ValidRows, s.InvalidRows,
		s.NewLicenses, s.UpdatedLicenses, s.NewCategories, pgTimestamptz(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

func (q *queries) listSessions(ctx context.Context, opts core.ListOptions) ([]core.ImportSession, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	rows, err := q.db.Query(ctx, `SELECT `+sessionColumns+` FROM import_sessions
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []core.ImportSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// finishSession applies a terminal transition to a session that is still Pending.
func (q *queries) finishSession(ctx context.Context, s *core.ImportSession) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE import_sessions
		SET status = $2, completed_at = $3, new_licenses = $4, updated_licenses = $5, new_categories = $6
		WHERE id = $1 AND status = 'Pending'`,
		pgUUID(s.ID), string(s.Status), pgTimestamptz(s.CompletedAt),
		s.NewLicenses, s.UpdatedLicenses, s.NewCategories,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := q.GetSession(ctx, s.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", core.ErrSessionNotPending, current.Status)
}

func (q *queries) CompleteSession(ctx context.Context, s *core.ImportSession) error {
	return q.finishSession(ctx, s)
}

// ----------------------------------------------------------------------------
// Rows
// ----------------------------------------------------------------------------

var rowColumns = []string{
	"id", "session_id", "row_number", "raw_license_id", "license_id",
	"license_name", "category_name", "vendor", "seats_purchased", "seats_assigned",
	"expires_on", "notes", "seats_purchased_raw", "seats_assigned_raw", "expires_on_raw",
	"is_valid", "action", "error_message",
}

func (q *queries) copyRows(ctx context.Context, sessionID uuid.UUID, rows []core.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		return []any{
			pgUUID(id), pgUUID(sessionID), r.RowNumber, r.RawLicenseID, pgUUIDPtr(r.LicenseID),
			r.LicenseName, r.CategoryName, r.Vendor, pgInt4(r.SeatsPurchased), pgInt4(r.SeatsAssigned),
			pgDate(r.ExpiresOn), r.Notes, r.SeatsPurchasedRaw, r.SeatsAssignedRaw, r.ExpiresOnRaw,
			r.IsValid, string(r.Action), r.ErrorMessage,
		}, nil
	})

	n, err := q.db.CopyFrom(ctx, pgx.Identifier{"import_rows"}, rowColumns, src)
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy rows: wrote %d of %d", n, len(rows))
	}
	return nil
}

// rowFilterClause is the SQL form of a core.RowFilter.
func rowFilterClause(f core.RowFilter) string {
	switch f {
	case core.RowFilterValid:
		return ` AND is_valid`
	case core.RowFilterInvalid:
		return ` AND NOT is_valid`
	case core.RowFilterNew:
		return ` AND action = 'New'`
	case core.RowFilterUpdate:
		return ` AND action = 'Update'`
	default:
		return ``
	}
}

func (q *queries) ListRows(ctx context.Context, sessionID uuid.UUID, filter core.RowFilter) ([]core.ImportRow, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_sessions WHERE id = $1)`, pgUUID(sessionID)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}

	rows, err := q.db.Query(ctx, `SELECT id, session_id, row_number, raw_license_id, license_id,
			license_name, category_name, vendor, seats_purchased, seats_assigned,
			expires_on, notes, seats_purchased_raw, seats_assigned_raw, expires_on_raw,
			is_valid, action, error_message
		FROM import_rows
		WHERE session_id = $1`+rowFilterClause(filter)+`
		ORDER BY row_number`, pgUUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	out := []core.ImportRow{}
	for rows.Next() {
		var (
			r                      core.ImportRow
			id, session, licenseID pgtype.UUID
			purchased, assigned    pgtype.Int4
			expiresOn              pgtype.Date
			action                 string
		)
		err := rows.Scan(
			&id, &session, &r.RowNumber, &r.RawLicenseID, &licenseID,
			&r.LicenseName, &r.CategoryName, &r.Vendor, &purchased, &assigned,
			&expiresOn, &r.Notes, &r.SeatsPurchasedRaw, &r.SeatsAssignedRaw, &r.ExpiresOnRaw,
			&r.IsValid, &action, &r.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.ID = uuid.UUID(id.Bytes)
		r.SessionID = uuid.UUID(session.Bytes)
		r.LicenseID = uuidPtr(licenseID)
		r.SeatsPurchased = intPtr(purchased)
		r.SeatsAssigned = intPtr(assigned)
		r.ExpiresOn = datePtr(expiresOn)
		r.Action = core.RowAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Categories and licenses
// ----------------------------------------------------------------------------

func (q *queries) LoadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	snap := &core.Snapshot{}

	rows, err := q.db.Query(ctx, `SELECT id, name, version, created_at, updated_at FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	for rows.Next() {
		var (
			c         core.Category
			id        pgtype.UUID
			updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &c.Name, &c.Version, &c.CreatedAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.ID = uuid.UUID(id.Bytes)
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = timePtr(updatedAt)
		snap.Categories = append(snap.Categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	rows, err = q.db.Query(ctx, `SELECT l.id, l.name, l.vendor, l.category_id, COALESCE(c.name, ''),
			l.seats_purchased, l.seats_assigned, l.expires_on, l.notes, l.status,
			l.critical_days_override, l.warning_days_override, l.version, l.created_at, l.updated_at
		FROM licenses l
		LEFT JOIN categories c ON c.id = l.category_id
		ORDER BY l.name, l.id`)
	if err != nil {
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                   core.License
			id, categoryID      pgtype.UUID
			purchased, assigned pgtype.Int4
			expiresOn           pgtype.Date
			status              string
			critical, warning   pgtype.Int4
			updatedAt           pgtype.Timestamptz
		)
		err := rows.Scan(
			&id, &l.Name, &l.Vendor, &categoryID, &l.CategoryName,
			&purchased, &assigned, &expiresOn, &l.Notes, &status,
			&critical, &warning, &l.Version, &l.CreatedAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		l.ID = uuid.UUID(id.Bytes)
		l.CategoryID = uuidPtr(categoryID)
		l.SeatsPurchased = intPtr(purchased)
		l.SeatsAssigned = intPtr(assigned)
		l.ExpiresOn = datePtr(expiresOn)
		l.Status = expiry.ParseStatus(status)
		l.Thresholds = expiry.Override{CriticalDays: intPtr(critical), WarningDays: intPtr(warning)}
		l.CreatedAt = l.CreatedAt.UTC()
		l.UpdatedAt = timePtr(updatedAt)
		snap.Licenses = append(snap.Licenses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	return snap, nil
}

func (q *queries) InsertCategory(ctx context.Context, c *core.Category) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO categories (id, name, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		pgUUID(c.ID), c.Name, c.Version, c.CreatedAt.UTC(), pgTimestamptz(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.Name, describeWriteError(err))
	}
	return nil
}

func (q *queries) InsertLicense(ctx context.Context, l *core.License) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO licenses (id, name, vendor, category_id, seats_purchased, seats_assigned,
			expires_on, notes, status, critical_days_override, warning_days_override,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pgUUID(l.ID), l.Name, l.Vendor, pgUUIDPtr(l.CategoryID), pgInt4(l.SeatsPurchased), pgInt4(l.SeatsAssigned),
		pgDate(l.ExpiresOn), l.Notes, string(l.Status), pgInt4(l.Thresholds.CriticalDays), pgInt4(l.Thresholds.WarningDays),
		l.Version, l.CreatedAt.UTC(), pgTimestamptz(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert license %s: %w", l.ID, describeWriteError(err))
	}
	return nil
}

// UpdateLicense overwrites a license whose stored version is expectedVersion.
// created_at is never rewritten.
func (q *queries) UpdateLicense(ctx context.Context, l *core.License, expectedVersion int) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE licenses
		SET name = $3, vendor = $4, category_id = $5, seats_purchased = $6, seats_assigned = $7,
			expires_on = $8, notes = $9, status = $10, critical_days_override = $11,
			warning_days_override = $12, version = $13, updated_at = $14
		WHERE id = $1 AND version = $2`,
		pgUUID(l.ID), expectedVersion,
		l.Name, l.Vendor, pgUUIDPtr(l.CategoryID), pgInt4(l.SeatsPurchased), pgInt4(l.SeatsAssigned),
		pgDate(l.ExpiresOn), l.Notes, string(l.Status), pgInt4(l.Thresholds.CriticalDays),
		pgInt4(l.Thresholds.WarningDays), l.Version, pgTimestamptz(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update license %s: %w", l.ID, describeWriteError(err))
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update license %s: %w", l.ID, core.ErrConcurrentChange)
	}
	return nil
}

// describeWriteError names the violated constraint of a unique or foreign
// key failure.
func describeWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("duplicate key on %s: %w", pgErr.ConstraintName, err)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("violates foreign key %s: %w", pgErr.ConstraintName, err)
	default:
		return err
	}
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (q *queries) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	var details []byte
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = b
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (id, action, severity, entity_type, entity_id, import_session_id,
			user_id, user_email, ip_address, user_agent, summary, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		pgUUID(e.ID), string(e.Action), string(e.Severity), e.EntityType, e.EntityID, pgUUID(e.ImportSessionID),
		pgText(e.UserID), pgText(e.UserEmail), pgInet(e.IPAddress), pgText(e.UserAgent),
		e.Summary, details, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (q *queries) listAudit(ctx context.Context, sessionID uuid.UUID) ([]core.AuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, action, severity, entity_type, entity_id, import_session_id,
			user_id, user_email, ip_address, user_agent, summary, details, created_at
		FROM audit_log
		WHERE import_session_id = $1
		ORDER BY seq`, pgUUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []core.AuditEntry{}
	for rows.Next() {
		var (
			e                            core.AuditEntry
			id, session                  pgtype.UUID
			action, severity             string
			userID, userEmail, userAgent pgtype.Text
			ipAddress                    *netip.Addr
			details                      []byte
			createdAt                    time.Time
		)
		err := rows.Scan(
			&id, &action, &severity, &e.EntityType, &e.EntityID, &session,
			&userID, &userEmail, &ipAddress, &userAgent, &e.Summary, &details, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.ID = uuid.UUID(id.Bytes)
		e.ImportSessionID = uuid.UUID(session.Bytes)
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.UserID = userID.String
		e.UserEmail = userEmail.String
		e.UserAgent = userAgent.String
		if ipAddress != nil {
			e.IPAddress = ipAddress.String()
		}
		if details != nil {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		e.CreatedAt = createdAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Settings
// ----------------------------------------------------------------------------

func (q *queries) loadThresholds(ctx context.Context) (expiry.Thresholds, bool, error) {
	var th expiry.Thresholds
	err := q.db.QueryRow(ctx, `SELECT critical_days, warning_days FROM app_settings WHERE id = 1`).
		Scan(&th.CriticalDays, &th.WarningDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return expiry.Thresholds{}, false, nil
	}
	if err != nil {
		return expiry.Thresholds{}, false, fmt.Errorf("load thresholds: %w", err)
	}
	return th, true, nil
}

func (q *queries) saveThresholds(ctx context.Context, th expiry.Thresholds, now time.Time) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO app_settings (id, critical_days, warning_days, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET critical_days = EXCLUDED.critical_days,
			warning_days = EXCLUDED.warning_days,
			updated_at = EXCLUDED.updated_at`,
		th.CriticalDays, th.WarningDays, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	return nil
}
