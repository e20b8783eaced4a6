package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/settings"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store/memory"
)

func TestCommit_EndToEnd(t *testing.T) {
	f := newFixture(t)
	_, office := f.seedOffice()

	session := f.upload(t, ""+
		",Office 365,Productivity,Microsoft,40,35,2025-06-21,renewed\n"+
		",Slack,Productivity,Salesforce,100,,2026-03-01,\n"+
		",,Productivity,,,,,\n")

	require.Equal(t, 3, session.TotalRows)
	require.Equal(t, 2, session.ValidRows)
	require.Equal(t, 1, session.InvalidRows)
	require.Equal(t, 1, session.NewLicenses)
	require.Equal(t, 1, session.UpdatedLicenses)
	require.Equal(t, 0, session.NewCategories)

	invalid, err := f.svc.Preview(context.Background(), session.ID, core.RowFilterInvalid)
	require.NoError(t, err)
	require.Len(t, invalid.Rows, 1)
	assert.Equal(t, 3, invalid.Rows[0].RowNumber)
	assert.Equal(t, core.RowActionInvalid, invalid.Rows[0].Action)
	assert.Contains(t, invalid.Rows[0].ErrorMessage, "LicenseName is required.")

	// Invalid rows block a plain commit.
	_, err = f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.ErrorIs(t, err, core.ErrSessionHasInvalidRows)
	var ce *core.CommitError
	assert.False(t, errors.As(err, &ce), "precondition failures are not commit errors")

	ctx := core.ContextWithUserAgent(core.ContextWithIPAddress(context.Background(), "203.0.113.7"), "curl/8.0")
	result, err := f.svc.Commit(ctx, testActor, session.ID, core.CommitOptions{SkipInvalid: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.NewLicenses)
	assert.Equal(t, 1, result.UpdatedLicenses)
	assert.Equal(t, 0, result.NewCategories)
	assert.Equal(t, 3, result.AuditEntries)
	assert.Equal(t, core.SessionCommitted, result.Session.Status)
	require.NotNil(t, result.Session.CompletedAt)
	assert.Equal(t, f.now, *result.Session.CompletedAt)
	assert.Equal(t, 1, result.Session.InvalidRows)

	stored, err := f.svc.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCommitted, stored.Status)
	assert.False(t, f.files.has(session.StoredFileName))

	// Licenses
	licenses := f.store.Licenses()
	require.Len(t, licenses, 2)
	assert.Len(t, f.store.Categories(), 1)

	updated, ok := f.store.License(office.ID)
	require.True(t, ok)
	assert.Equal(t, 40, *updated.SeatsPurchased)
	assert.Equal(t, 35, *updated.SeatsAssigned)
	assert.Equal(t, "renewed", updated.Notes)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, expiry.StatusCritical, updated.Status)
	assert.Equal(t, office.CreatedAt, updated.CreatedAt)

	var slack core.License
	for _, l := range licenses {
		if l.Name == "Slack" {
			slack = l
		}
	}
	require.NotEqual(t, uuid.Nil, slack.ID)
	assert.Equal(t, "Productivity", slack.CategoryName)
	assert.Equal(t, expiry.StatusGood, slack.Status)
	assert.Equal(t, 1, slack.Version)

	// Audit trail
	entries, err := f.svc.AuditTrail(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, core.ActionLicenseUpdate, entries[0].Action)
	assert.Equal(t, core.ActionLicenseCreate, entries[1].Action)
	assert.Equal(t, core.ActionImportCommit, entries[2].Action)
	assert.Equal(t, core.SeverityHigh, entries[2].Severity)
	assert.Equal(t, session.ID.String(), entries[2].EntityID)
	for _, e := range entries {
		assert.Equal(t, session.ID, e.ImportSessionID)
		assert.Equal(t, testActor.UserID, e.UserID)
		assert.Equal(t, testActor.Email, e.UserEmail)
		assert.Equal(t, "203.0.113.7", e.IPAddress)
		assert.Equal(t, "curl/8.0", e.UserAgent)
	}
	old := entries[0].Details["old"].(map[string]any)
	assert.Equal(t, "10", old["seatsPurchased"])

	// Terminal
	_, err = f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{SkipInvalid: true})
	assert.ErrorIs(t, err, core.ErrSessionNotPending)
	_, err = f.svc.Cancel(context.Background(), testActor, session.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotPending)
	assert.Len(t, f.store.AuditEntries(), 3)
}

func TestCommit_StatusIgnoresLicenseOverride(t *testing.T) {
	f := newFixture(t)
	_, office := f.seedOffice()
	criticalOverride := 5
	office.Thresholds = expiry.Override{CriticalDays: &criticalOverride}
	f.store.PutLicense(office)

	// 10 days out: Critical under the system 30/90, Warning under the override.
	session := f.upload(t, ",Office 365,Productivity,Microsoft,10,,2025-06-11,\n")
	_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.NoError(t, err)

	updated, ok := f.store.License(office.ID)
	require.True(t, ok)
	assert.Equal(t, expiry.StatusCritical, updated.Status)
	require.NotNil(t, updated.Thresholds.CriticalDays)
	assert.Equal(t, 5, *updated.Thresholds.CriticalDays, "override is kept")

	reported, th, err := f.svc.LicenseStatus(context.Background(), updated.ExpiresOn, updated.Thresholds)
	require.NoError(t, err)
	assert.Equal(t, expiry.StatusWarning, reported)
	assert.Equal(t, expiry.Thresholds{CriticalDays: 5, WarningDays: 90}, th)
}

func TestCommit_CreatesCategoriesOnce(t *testing.T) {
	f := newFixture(t)
	session := f.upload(t, ""+
		",Figma,Design,,,,,\n"+
		",Miro,design,,,,,\n"+
		",Jira,Engineering,Atlassian,,,,\n")

	result, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewCategories)
	assert.Equal(t, 3, result.NewLicenses)
	assert.Equal(t, 6, result.AuditEntries)

	categories := f.store.Categories()
	require.Len(t, categories, 2)
	assert.Equal(t, "Design", categories[0].Name)
	assert.Equal(t, "Engineering", categories[1].Name)

	for _, l := range f.store.Licenses() {
		require.NotNil(t, l.CategoryID)
	}
}

func TestCommit_UsesRawLicenseIDForNewLicense(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	session := f.upload(t, id.String()+",Notion,Docs,,,,,\n")

	_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.NoError(t, err)

	l, ok := f.store.License(id)
	require.True(t, ok)
	assert.Equal(t, "Notion", l.Name)
}

func TestCommit_IsAllOrNothing(t *testing.T) {
	body := "" +
		",Office 365,Productivity,Microsoft,12,,,\n" + // update
		",Figma,Design,,,,,\n" // new category + new license

	// Audit appends in order: license update, category, license, summary.
	tests := []struct {
		name string
		op   memory.Op
		skip int
	}{
		{"category insert", memory.OpInsertCategory, 0},
		{"license insert", memory.OpInsertLicense, 0},
		{"license update", memory.OpUpdateLicense, 0},
		{"session completion", memory.OpCompleteSession, 0},
		{"first audit entry", memory.OpAppendAudit, 0},
		{"summary audit entry", memory.OpAppendAudit, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, office := f.seedOffice()
			session := f.upload(t, body)

			f.store.FailOn(tt.op, tt.skip, nil)
			_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
			require.Error(t, err)

			var ce *core.CommitError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, session.ID, ce.SessionID)
			assert.ErrorIs(t, err, memory.ErrInjected)
			assert.Contains(t, err.Error(), "no changes were applied")
			assert.Equal(t, "IMP006", core.MapError(err).Code)

			// Nothing was written.
			assert.Len(t, f.store.Licenses(), 1)
			assert.Len(t, f.store.Categories(), 1)
			assert.Empty(t, f.store.AuditEntries())
			unchanged, _ := f.store.License(office.ID)
			assert.Equal(t, 1, unchanged.Version)
			assert.Equal(t, 10, *unchanged.SeatsPurchased)

			stored, err := f.svc.GetSession(context.Background(), session.ID)
			require.NoError(t, err)
			assert.Equal(t, core.SessionPending, stored.Status)
			assert.Nil(t, stored.CompletedAt)
			assert.True(t, f.files.has(session.StoredFileName))

			// The session can still be committed.
			result, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
			require.NoError(t, err)
			assert.Equal(t, 4, result.AuditEntries)
		})
	}
}

func TestCommit_RefusesWhenDataChangedSincePreview(t *testing.T) {
	f := newFixture(t)
	cat, _ := f.seedOffice()
	session := f.upload(t, ",Slack,Productivity,Salesforce,,,,\n")

	// Someone else creates the same license before the commit.
	f.store.PutLicense(core.License{
		ID:         uuid.New(),
		Name:       "Slack",
		Vendor:     "Salesforce",
		CategoryID: &cat.ID,
		Version:    1,
	})

	_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.ErrorIs(t, err, core.ErrConcurrentChange)

	var cce *core.ConcurrentChangeError
	require.ErrorAs(t, err, &cce)
	assert.Equal(t, 1, cce.RowNumber)
	assert.Equal(t, core.RowActionNew, cce.Previewed)
	assert.Equal(t, core.RowActionUpdate, cce.Resolved)
	assert.Equal(t, "IMP005", core.MapError(err).Code)

	stored, err := f.svc.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionPending, stored.Status)
	assert.Len(t, f.store.Licenses(), 2)
	assert.Empty(t, f.store.AuditEntries())
}

func TestCommit_ConcurrentEditOfTargetIsApplied(t *testing.T) {
	f := newFixture(t)
	_, office := f.seedOffice()
	session := f.upload(t, ",Office 365,Productivity,Microsoft,99,,,\n")

	// A direct edit bumps the version; the row still targets the same license.
	edited := office
	edited.Version = 2
	edited.Notes = "edited"
	f.store.PutLicense(edited)

	_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.NoError(t, err)

	l, _ := f.store.License(office.ID)
	assert.Equal(t, 3, l.Version)
	assert.Equal(t, 99, *l.SeatsPurchased)
	assert.Empty(t, l.Notes, "blank cells overwrite stored values")
}

func TestCommit_Preconditions(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Commit(context.Background(), testActor, uuid.New(), core.CommitOptions{})
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		assert.Equal(t, "IMP001", core.MapError(err).Code)
	})

	t.Run("no valid rows", func(t *testing.T) {
		f := newFixture(t)
		session := f.upload(t, ",,Design,,,,,\n,Miro,,,,,,\n")

		_, err := f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
		assert.ErrorIs(t, err, core.ErrSessionHasInvalidRows)

		_, err = f.svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{SkipInvalid: true})
		assert.ErrorIs(t, err, core.ErrNothingToCommit)

		stored, err := f.svc.GetSession(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionPending, stored.Status)
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(t)
		session := f.upload(t, ",Figma,Design,,,,,\n")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.svc.Commit(ctx, testActor, session.ID, core.CommitOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.store.Licenses())
	})
}

func TestCommit_ThresholdsFromSettings(t *testing.T) {
	f := newFixture(t)
	store := memory.New()
	require.NoError(t, store.SaveThresholds(context.Background(), expiry.Thresholds{CriticalDays: 5, WarningDays: 10}))
	svc, err := core.NewService(store, f.files, settings.NewCached(store, expiry.Defaults(), 0), core.Options{})
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return f.now })

	session, err := svc.Upload(context.Background(), testActor, csvInput("a.csv", header+",Figma,Design,,,,2025-06-08,\n"))
	require.NoError(t, err)
	_, err = svc.Commit(context.Background(), testActor, session.ID, core.CommitOptions{})
	require.NoError(t, err)

	// 7 days out is past critical (5) but inside warning (10).
	licenses := store.Licenses()
	require.Len(t, licenses, 1)
	assert.Equal(t, expiry.StatusWarning, licenses[0].Status)
}
