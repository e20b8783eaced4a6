// Package sqlite stores import sessions, licenses, categories and audit
// entries in a single SQLite file. It suits single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/config"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// defaultParams are added to DSNs that carry no query string.
const defaultParams = "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// Store implements core.Store on database/sql with the go-sqlite3 driver.
type Store struct {
	db  *sql.DB
	q   *queries
	now func() time.Time
}

var _ core.Store = (*Store)(nil)

// DSN turns a DATABASE_URL value into a go-sqlite3 data source name. A
// sqlite:// scheme is stripped and connection defaults are added.
func DSN(url string) string {
	dsn := url
	for _, scheme := range []string{"sqlite3://", "sqlite://"} {
		dsn = strings.TrimPrefix(dsn, scheme)
	}
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + defaultParams
}

// Open opens the database at url. The pool holds a single connection since
// SQLite allows one writer.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("sqlite3", DSN(url))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.FromContext(ctx).Info("connected to database", "driver", config.DriverSQLite, "path", strings.SplitN(DSN(url), "?", 2)[0])
	return &Store{db: db, q: &queries{db: db}, now: time.Now}, nil
}

// Migrate applies the embedded migrations to the database at url. It uses
// its own connection, which is closed before returning.
func Migrate(ctx context.Context, url string) error {
	db, err := sql.Open("sqlite3", DSN(url))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()

	return store.Up(ctx, m)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ----------------------------------------------------------------------------
// core.Store
// ----------------------------------------------------------------------------

// CreateSession inserts the session and its rows in one transaction.
func (s *Store) CreateSession(ctx context.Context, session *core.ImportSession, rows []core.ImportRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := &queries{db: tx}
	if err := q.insertSession(ctx, session); err != nil {
		return err
	}
	if err := q.insertRows(ctx, session.ID, rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	return s.q.GetSession(ctx, id)
}

func (s *Store) ListRows(ctx context.Context, sessionID uuid.UUID, filter core.RowFilter) ([]core.ImportRow, error) {
	return s.q.ListRows(ctx, sessionID, filter)
}

func (s *Store) ListSessions(ctx context.Context, opts core.ListOptions) ([]core.ImportSession, error) {
	return s.q.listSessions(ctx, opts)
}

func (s *Store) CancelSession(ctx context.Context, session *core.ImportSession) error {
	return s.q.finishSession(ctx, session)
}

func (s *Store) LoadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	return s.q.LoadSnapshot(ctx)
}

func (s *Store) ListAudit(ctx context.Context, sessionID uuid.UUID) ([]core.AuditEntry, error) {
	return s.q.listAudit(ctx, sessionID)
}

// InTx runs fn in an immediate transaction, which takes the write lock up front.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Settings
// ----------------------------------------------------------------------------

// LoadThresholds implements settings.Source.
func (s *Store) LoadThresholds(ctx context.Context) (expiry.Thresholds, bool, error) {
	return s.q.loadThresholds(ctx)
}

// SaveThresholds stores the system thresholds.
func (s *Store) SaveThresholds(ctx context.Context, th expiry.Thresholds) error {
	return s.q.saveThresholds(ctx, th, s.now())
}
