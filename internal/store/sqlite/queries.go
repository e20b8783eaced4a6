package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db DBTX
}

var _ core.Tx = (*queries)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// ----------------------------------------------------------------------------
// Value helpers
// ----------------------------------------------------------------------------

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(v uuid.NullUUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := v.UUID
	return &id
}

// nullDate stores a date as yyyy-MM-dd text.
func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: core.FormatExpiresOn(t), Valid: true}
}

func datePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, ok := core.ParseExpiresOn(v.String)
	if !ok {
		return nil, fmt.Errorf("invalid stored date %q", v.String)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// describeWriteError names unique and foreign key failures the way the
// error mapping expects.
func describeWriteError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("duplicate key: %w", err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("violates foreign key: %w", err)
	default:
		return err
	}
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
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.CreatedAt, &s.CreatedByUserID, &s.CreatedByEmail, &status,
		&s.OriginalFileName, &s.StoredFileName, &s.TotalRows, &s.ValidRows, &s.InvalidRows,
		&s.NewLicenses, &s.UpdatedLicenses, &s.NewCategories, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = core.SessionStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.CompletedAt = timePtr(completedAt)
	return &s, nil
}

func (q *queries) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	s, err := scanSession(q.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func (q *queries) insertSession(ctx context.Context, s *core.ImportSession) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO import_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CreatedAt.UTC(), s.CreatedByUserID, s.CreatedByEmail, string(s.Status),
		s.OriginalFileName, s.StoredFileName, s.TotalRows, s.ValidRows, s.InvalidRows,
		s.NewLicenses, s.UpdatedLicenses, s.NewCategories, nullTime(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, describeWriteError(err))
	}
	return nil
}

func (q *queries) listSessions(ctx context.Context, opts core.ListOptions) ([]core.ImportSession, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	rows, err := q.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM import_sessions
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, max(opts.Offset, 0))
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
	res, err := q.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET status = ?, completed_at = ?, new_licenses = ?, updated_licenses = ?, new_categories = ?
		WHERE id = ? AND status = 'Pending'`,
		string(s.Status), nullTime(s.CompletedAt), s.NewLicenses, s.UpdatedLicenses, s.NewCategories, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
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

const rowColumns = `id, session_id, row_number, raw_license_id, license_id,
	license_name, category_name, vendor, seats_purchased, seats_assigned,
	expires_on, notes, seats_purchased_raw, seats_assigned_raw, expires_on_raw,
	is_valid, action, error_message`

func (q *queries) insertRows(ctx context.Context, sessionID uuid.UUID, rows []core.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := q.prepare(ctx, `INSERT INTO import_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := stmt.ExecContext(ctx,
			id, sessionID, r.RowNumber, r.RawLicenseID, nullUUID(r.LicenseID),
			r.LicenseName, r.CategoryName, r.Vendor, nullInt(r.SeatsPurchased), nullInt(r.SeatsAssigned),
			nullDate(r.ExpiresOn), r.Notes, r.SeatsPurchasedRaw, r.SeatsAssignedRaw, r.ExpiresOnRaw,
			r.IsValid, string(r.Action), r.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", r.RowNumber, err)
		}
	}
	return nil
}

// prepare prepares query on the underlying *sql.DB or *sql.Tx.
func (q *queries) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	type preparer interface {
		PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	}
	p, ok := q.db.(preparer)
	if !ok {
		return nil, errors.New("connection cannot prepare statements")
	}
	return p.PrepareContext(ctx, query)
}

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
	if err := q.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM import_sessions WHERE id = ?)`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}

	rows, err := q.db.QueryContext(ctx, `SELECT `+rowColumns+`
		FROM import_rows
		WHERE session_id = ?`+rowFilterClause(filter)+`
		ORDER BY row_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	out := []core.ImportRow{}
	for rows.Next() {
		var (
			r                   core.ImportRow
			licenseID           uuid.NullUUID
			purchased, assigned sql.NullInt64
			expiresOn           sql.NullString
			action              string
		)
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.RowNumber, &r.RawLicenseID, &licenseID,
			&r.LicenseName, &r.CategoryName, &r.Vendor, &purchased, &assigned,
			&expiresOn, &r.Notes, &r.SeatsPurchasedRaw, &r.SeatsAssignedRaw, &r.ExpiresOnRaw,
			&r.IsValid, &action, &r.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if r.ExpiresOn, err = datePtr(expiresOn); err != nil {
			return nil, fmt.Errorf("row %d: %w", r.RowNumber, err)
		}
		r.LicenseID = uuidPtr(licenseID)
		r.SeatsPurchased = intPtr(purchased)
		r.SeatsAssigned = intPtr(assigned)
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

	rows, err := q.db.QueryContext(ctx, `SELECT id, name, version, created_at, updated_at FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	for rows.Next() {
		var (
			c         core.Category
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Version, &c.CreatedAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = timePtr(updatedAt)
		snap.Categories = append(snap.Categories, c)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	rows, err = q.db.QueryContext(ctx, `SELECT l.id, l.name, l.vendor, l.category_id, COALESCE(c.name, ''),
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
			categoryID          uuid.NullUUID
			purchased, assigned sql.NullInt64
			expiresOn           sql.NullString
			status              string
			critical, warning   sql.NullInt64
			updatedAt           sql.NullTime
		)
		err := rows.Scan(
			&l.ID, &l.Name, &l.Vendor, &categoryID, &l.CategoryName,
			&purchased, &assigned, &expiresOn, &l.Notes, &status,
			&critical, &warning, &l.Version, &l.CreatedAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		if l.ExpiresOn, err = datePtr(expiresOn); err != nil {
			return nil, fmt.Errorf("license %s: %w", l.ID, err)
		}
		l.CategoryID = uuidPtr(categoryID)
		l.SeatsPurchased = intPtr(purchased)
		l.SeatsAssigned = intPtr(assigned)
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
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Version, c.CreatedAt.UTC(), nullTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.Name, describeWriteError(err))
	}
	return nil
}

func (q *queries) InsertLicense(ctx context.Context, l *core.License) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO licenses (id, name, vendor, category_id, seats_purchased, seats_assigned,
			expires_on, notes, status, critical_days_override, warning_days_override,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Vendor, nullUUID(l.CategoryID), nullInt(l.SeatsPurchased), nullInt(l.SeatsAssigned),
		nullDate(l.ExpiresOn), l.Notes, string(l.Status), nullInt(l.Thresholds.CriticalDays), nullInt(l.Thresholds.WarningDays),
		l.Version, l.CreatedAt.UTC(), nullTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert license %s: %w", l.ID, describeWriteError(err))
	}
	return nil
}

func (q *queries) UpdateLicense(ctx context.Context, l *core.License, expectedVersion int) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE licenses
		SET name = ?, vendor = ?, category_id = ?, seats_purchased = ?, seats_assigned = ?,
			expires_on = ?, notes = ?, status = ?, critical_days_override = ?,
			warning_days_override = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.Name, l.Vendor, nullUUID(l.CategoryID), nullInt(l.SeatsPurchased), nullInt(l.SeatsAssigned),
		nullDate(l.ExpiresOn), l.Notes, string(l.Status), nullInt(l.Thresholds.CriticalDays),
		nullInt(l.Thresholds.WarningDays), l.Version, nullTime(l.UpdatedAt),
		l.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update license %s: %w", l.ID, describeWriteError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license %s: %w", l.ID, err)
	}
	if n != 1 {
		return fmt.Errorf("update license %s: %w", l.ID, core.ErrConcurrentChange)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (q *queries) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, severity, entity_type, entity_id, import_session_id,
			user_id, user_email, ip_address, user_agent, summary, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), string(e.Severity), e.EntityType, e.EntityID, e.ImportSessionID,
		nullString(e.UserID), nullString(e.UserEmail), nullString(e.IPAddress), nullString(e.UserAgent),
		e.Summary, details, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (q *queries) listAudit(ctx context.Context, sessionID uuid.UUID) ([]core.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, action, severity, entity_type, entity_id, import_session_id,
			user_id, user_email, ip_address, user_agent, summary, details, created_at
		FROM audit_log
		WHERE import_session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []core.AuditEntry{}
	for rows.Next() {
		var (
			e                                       core.AuditEntry
			action, severity                        string
			userID, userEmail, ipAddress, userAgent sql.NullString
			details                                 sql.NullString
		)
		err := rows.Scan(
			&e.ID, &action, &severity, &e.EntityType, &e.EntityID, &e.ImportSessionID,
			&userID, &userEmail, &ipAddress, &userAgent, &e.Summary, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.UserID = userID.String
		e.UserEmail = userEmail.String
		e.IPAddress = ipAddress.String
		e.UserAgent = userAgent.String
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Settings
// ----------------------------------------------------------------------------

func (q *queries) loadThresholds(ctx context.Context) (expiry.Thresholds, bool, error) {
	var th expiry.Thresholds
	err := q.db.QueryRowContext(ctx, `SELECT critical_days, warning_days FROM app_settings WHERE id = 1`).
		Scan(&th.CriticalDays, &th.WarningDays)
	if errors.Is(err, sql.ErrNoRows) {
		return expiry.Thresholds{}, false, nil
	}
	if err != nil {
		return expiry.Thresholds{}, false, fmt.Errorf("load thresholds: %w", err)
	}
	return th, true, nil
}

func (q *queries) saveThresholds(ctx context.Context, th expiry.Thresholds, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, critical_days, warning_days, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET critical_days = excluded.critical_days,
			warning_days = excluded.warning_days,
			updated_at = excluded.updated_at`,
		th.CriticalDays, th.WarningDays, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	return nil
}
