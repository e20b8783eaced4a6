// Package postgres stores import sessions, licenses, categories and audit
// entries in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/config"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	q    *queries
	now  func() time.Time
}

var _ core.Store = (*Store)(nil)

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		q:    &queries{db: pool},
		now:  time.Now,
	}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger := logging.FromContext(ctx)
	if u, err := url.Parse(cfg.URL); err == nil && u.Path != "" {
		logger.Info("connected to database", "driver", config.DriverPostgres, "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		logger.Info("connected to database", "driver", config.DriverPostgres)
	}
	return pool, nil
}

// Migrate applies the embedded migrations to the database at dsn. It uses
// its own connection, which is closed before returning.
func Migrate(ctx context.Context, dsn string) error {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	db := stdlib.OpenDB(*connConfig)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()

	return store.Up(ctx, m)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ----------------------------------------------------------------------------
// core.Store
// ----------------------------------------------------------------------------

// CreateSession inserts the session and bulk-copies its rows in one transaction.
func (s *Store) CreateSession(ctx context.Context, session *core.ImportSession, rows []core.ImportRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := &queries{db: tx}
	if err := q.insertSession(ctx, session); err != nil {
		return err
	}
	if err := q.copyRows(ctx, session.ID, rows); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
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

// InTx runs fn in a read-committed transaction. Session reads inside fn
// lock the session row.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &queries{db: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
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
