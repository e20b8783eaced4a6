package postgres_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/config"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/filestore"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/settings"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store/postgres"
)

const header = "LicenseId,LicenseName,CategoryName,Vendor,SeatsPurchased,SeatsAssigned,ExpiresOn,Notes\n"

// openTestStore connects to TEST_DATABASE_URL, migrates and empties it.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	require.NoError(t, postgres.Migrate(ctx, dsn))
	// A second run finds nothing to do.
	require.NoError(t, postgres.Migrate(ctx, dsn))

	pool, err := postgres.Connect(ctx, config.DatabaseConfig{
		URL:             dsn,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE audit_log, import_rows, import_sessions, licenses, categories, app_settings`)
	require.NoError(t, err)

	return postgres.New(pool)
}

func newService(t *testing.T, store *postgres.Store) *core.Service {
	t.Helper()
	files, err := filestore.NewLocal(t.TempDir())
	require.NoError(t, err)
	svc, err := core.NewService(store, files, settings.NewCached(store, expiry.Defaults(), 0), core.Options{})
	require.NoError(t, err)
	return svc
}

func upload(t *testing.T, svc *core.Service, body string) *core.ImportSession {
	t.Helper()
	data := header + body
	session, err := svc.Upload(context.Background(), core.ActorContext{UserID: "u1", Email: "u1@example.com"}, core.UploadInput{
		FileName:    "licenses.csv",
		ContentType: "text/csv",
		Size:        int64(len(data)),
		Body:        strings.NewReader(data),
	})
	require.NoError(t, err)
	return session
}

func TestStore_ImportLifecycle(t *testing.T) {
	store := openTestStore(t)
	svc := newService(t, store)
	actor := core.ActorContext{UserID: "u1", Email: "u1@example.com"}
	ctx := core.ContextWithIPAddress(context.Background(), "198.51.100.4")

	session := upload(t, svc, ""+
		",Figma,Design,Figma Inc,20,12,2030-01-31,team plan\n"+
		",Miro,design,,,,,\n"+
		",,Design,,,,,\n")
	assert.Equal(t, 2, session.ValidRows)
	assert.Equal(t, 1, session.NewCategories)

	invalid, err := store.ListRows(ctx, session.ID, core.RowFilterInvalid)
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Equal(t, 3, invalid[0].RowNumber)
	assert.Equal(t, "LicenseName is required.", invalid[0].ErrorMessage)

	result, err := svc.Commit(ctx, actor, session.ID, core.CommitOptions{SkipInvalid: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLicenses)
	assert.Equal(t, 1, result.NewCategories)

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Categories, 1)
	require.Len(t, snap.Licenses, 2)
	figma := snap.Licenses[0]
	assert.Equal(t, "Figma", figma.Name)
	assert.Equal(t, "Design", figma.CategoryName)
	assert.Equal(t, 20, *figma.SeatsPurchased)
	assert.Equal(t, "2030-01-31", core.FormatExpiresOn(figma.ExpiresOn))

	entries, err := store.ListAudit(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, core.ActionCategoryCreate, entries[0].Action)
	assert.Equal(t, core.ActionImportCommit, entries[3].Action)
	assert.Equal(t, "198.51.100.4", entries[3].IPAddress)
	assert.Equal(t, "u1@example.com", entries[3].UserEmail)

	// An update bumps the version.
	update := upload(t, svc, ",Figma,Design,Figma Inc,25,,,\n")
	require.Equal(t, 1, update.UpdatedLicenses)
	_, err = svc.Commit(ctx, actor, update.ID, core.CommitOptions{})
	require.NoError(t, err)

	snap, err = store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Licenses[0].Version)
	assert.Equal(t, figma.CreatedAt, snap.Licenses[0].CreatedAt)

	_, err = svc.Commit(ctx, actor, update.ID, core.CommitOptions{})
	assert.ErrorIs(t, err, core.ErrSessionNotPending)
}

func TestStore_UpdateLicenseChecksVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	lic := &core.License{ID: uuid.New(), Name: "Zoom", Status: expiry.StatusUnknown, Version: 1, CreatedAt: time.Now()}

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.InsertLicense(ctx, lic)
	}))

	next := *lic
	next.Version = 2
	err := store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.UpdateLicense(ctx, &next, 5)
	})
	assert.ErrorIs(t, err, core.ErrConcurrentChange)

	err = store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.InsertCategory(ctx, &core.Category{ID: uuid.New(), Name: "Video", Version: 1, CreatedAt: time.Now()})
	})
	require.NoError(t, err)
	err = store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.InsertCategory(ctx, &core.Category{ID: uuid.New(), Name: " VIDEO", Version: 1, CreatedAt: time.Now()})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestStore_CancelledSessionIsTerminal(t *testing.T) {
	store := openTestStore(t)
	svc := newService(t, store)
	session := upload(t, svc, ",Figma,Design,,,,,\n")

	_, err := svc.Cancel(context.Background(), core.ActorContext{UserID: "u1"}, session.ID)
	require.NoError(t, err)

	got, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = svc.Cancel(context.Background(), core.ActorContext{UserID: "u1"}, session.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotPending)

	_, err = store.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStore_Thresholds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LoadThresholds(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveThresholds(ctx, expiry.Thresholds{CriticalDays: 10, WarningDays: 40}))
	require.NoError(t, store.SaveThresholds(ctx, expiry.Thresholds{CriticalDays: 14, WarningDays: 60}))

	th, ok, err := store.LoadThresholds(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, expiry.Thresholds{CriticalDays: 14, WarningDays: 60}, th)
}
