package sqlite_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/filestore"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/settings"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store/sqlite"
)

const header = "LicenseId,LicenseName,CategoryName,Vendor,SeatsPurchased,SeatsAssigned,ExpiresOn,Notes\n"

var actor = core.ActorContext{UserID: "u1", Email: "u1@example.com"}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "licenses.db")

	require.NoError(t, sqlite.Migrate(ctx, path))
	require.NoError(t, sqlite.Migrate(ctx, path), "second run is a no-op")

	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newService(t *testing.T, store *sqlite.Store, now time.Time) *core.Service {
	t.Helper()
	files, err := filestore.NewLocal(t.TempDir())
	require.NoError(t, err)
	svc, err := core.NewService(store, files, settings.NewCached(store, expiry.Defaults(), time.Minute), core.Options{})
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return now })
	return svc
}

func upload(t *testing.T, svc *core.Service, body string) *core.ImportSession {
	t.Helper()
	data := header + body
	session, err := svc.Upload(context.Background(), actor, core.UploadInput{
		FileName:    "licenses.csv",
		ContentType: "text/csv",
		Size:        int64(len(data)),
		Body:        strings.NewReader(data),
	})
	require.NoError(t, err)
	return session
}

func TestDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"data/licenses.db", "data/licenses.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"},
		{"sqlite:///var/lib/lw.db", "/var/lib/lw.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"},
		{"file:test.db?cache=shared", "file:test.db?cache=shared"},
	}
	for _, tt := range tests {
		if got := sqlite.DSN(tt.in); got != tt.want {
			t.Errorf("DSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_ImportLifecycle(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newService(t, store, now)
	ctx := core.ContextWithUserAgent(context.Background(), "go-test")

	session := upload(t, svc, ""+
		",Figma,Design,Figma Inc,20,12,2025-06-20,team plan\n"+
		",Miro,design,,,,,\n"+
		",Sketch,Design,,3,4,,\n")

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.CreatedAt, got.CreatedAt)
	assert.Equal(t, core.SessionPending, got.Status)

	preview, err := svc.Preview(ctx, session.ID, core.RowFilterNew)
	require.NoError(t, err)
	assert.Len(t, preview.Rows, 2)

	rows, err := store.ListRows(ctx, session.ID, core.RowFilterAll)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2025-06-20", core.FormatExpiresOn(rows[0].ExpiresOn))
	assert.Equal(t, 12, *rows[0].SeatsAssigned)
	assert.False(t, rows[2].IsValid)
	assert.Equal(t, "4", rows[2].SeatsAssignedRaw)

	_, err = svc.Commit(ctx, actor, session.ID, core.CommitOptions{})
	require.ErrorIs(t, err, core.ErrSessionHasInvalidRows)

	result, err := svc.Commit(ctx, actor, session.ID, core.CommitOptions{SkipInvalid: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLicenses)

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Categories, 1)
	require.Len(t, snap.Licenses, 2)
	assert.Equal(t, "Figma", snap.Licenses[0].Name)
	assert.Equal(t, "Design", snap.Licenses[0].CategoryName)
	assert.Equal(t, expiry.StatusCritical, snap.Licenses[0].Status)
	assert.Equal(t, expiry.StatusUnknown, snap.Licenses[1].Status)

	entries, err := svc.AuditTrail(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, core.ActionImportCommit, entries[3].Action)
	assert.Equal(t, "go-test", entries[3].UserAgent)
	assert.EqualValues(t, 2, entries[3].Details["newLicenses"])

	committed, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCommitted, committed.Status)
	require.NotNil(t, committed.CompletedAt)
	assert.Equal(t, now, *committed.CompletedAt)
}

func TestStore_RollsBackFailedTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cat := &core.Category{ID: uuid.New(), Name: "Design", Version: 1, CreatedAt: time.Now()}

	err := store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		if err := tx.InsertCategory(ctx, cat); err != nil {
			return err
		}
		missing := uuid.New()
		return tx.InsertLicense(ctx, &core.License{ID: uuid.New(), Name: "Figma", CategoryID: &missing, Version: 1, CreatedAt: time.Now()})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violates foreign key")

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Categories)
}

func TestStore_Constraints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	lic := &core.License{ID: uuid.New(), Name: "Zoom", Status: expiry.StatusUnknown, Version: 1, CreatedAt: time.Now()}
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		if err := tx.InsertCategory(ctx, &core.Category{ID: uuid.New(), Name: "Video", Version: 1, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.InsertLicense(ctx, lic)
	}))

	err := store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.InsertCategory(ctx, &core.Category{ID: uuid.New(), Name: "video ", Version: 1, CreatedAt: time.Now()})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")

	next := *lic
	next.Version = 2
	err = store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.UpdateLicense(ctx, &next, 7)
	})
	assert.ErrorIs(t, err, core.ErrConcurrentChange)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.UpdateLicense(ctx, &next, 1)
	}))
	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Licenses, 1)
	assert.Equal(t, 2, snap.Licenses[0].Version)
}

func TestStore_UnrecognizedLicenseStatusReadsAsUnknown(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.InsertLicense(ctx, &core.License{ID: uuid.New(), Name: "Zoom", Status: "Stale", Version: 1, CreatedAt: time.Now()})
	}))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Licenses, 1)
	assert.Equal(t, expiry.StatusUnknown, snap.Licenses[0].Status)
}

func TestStore_SessionsAndCancel(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		svc := newService(t, store, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, upload(t, svc, ",Figma,Design,,,,,\n").ID)
	}

	sessions, err := store.ListSessions(context.Background(), core.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, ids[1], sessions[0].ID)
	assert.Equal(t, ids[0], sessions[1].ID)

	svc := newService(t, store, base.Add(time.Hour))
	cancelled, err := svc.Cancel(context.Background(), actor, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.SessionCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), actor, ids[0])
	assert.ErrorIs(t, err, core.ErrSessionNotPending)

	_, err = store.ListRows(context.Background(), uuid.New(), core.RowFilterAll)
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
