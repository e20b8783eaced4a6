// Package memory is an in-process implementation of core.Store.
//
// Transactions run against a private copy of the data that replaces the
// shared state only when the transaction function succeeds, so a failed
// commit leaves nothing behind. Transactions are serialized. Faults can be
// injected per operation to exercise rollback paths.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
)

// Op names a transactional write for fault injection.
type Op string

const (
	OpInsertCategory  Op = "InsertCategory"
	OpInsertLicense   Op = "InsertLicense"
	OpUpdateLicense   Op = "UpdateLicense"
	OpCompleteSession Op = "CompleteSession"
	OpAppendAudit     Op = "AppendAudit"
)

// ErrInjected is the default injected failure.
var ErrInjected = errors.New("injected failure")

type fault struct {
	skip int
	err  error
}

// Store holds everything in maps guarded by a mutex.
type Store struct {
	mu     sync.Mutex
	data   *state
	faults map[Op]*fault
}

type state struct {
	sessions   map[uuid.UUID]core.ImportSession
	rows       map[uuid.UUID][]core.ImportRow
	categories map[uuid.UUID]core.Category
	licenses   map[uuid.UUID]core.License
	audit      []core.AuditEntry
	thresholds *expiry.Thresholds
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: &state{
			sessions:   make(map[uuid.UUID]core.ImportSession),
			rows:       make(map[uuid.UUID][]core.ImportRow),
			categories: make(map[uuid.UUID]core.Category),
			licenses:   make(map[uuid.UUID]core.License),
		},
		faults: make(map[Op]*fault),
	}
}

var _ core.Store = (*Store)(nil)

// FailOn makes the (skip+1)th call of op inside a transaction fail with err
// (ErrInjected when nil). The fault fires once.
func (s *Store) FailOn(op Op, skip int, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{skip: skip, err: err}
}

func (s *Store) checkFault(op Op) error {
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(s.faults, op)
	return fmt.Errorf("%s: %w", op, f.err)
}

// ----------------------------------------------------------------------------
// Seeding and inspection
// ----------------------------------------------------------------------------

// PutCategory stores c as is.
func (s *Store) PutCategory(c core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.categories[c.ID] = c
}

// PutLicense stores l as is.
func (s *Store) PutLicense(l core.License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.CategoryName = ""
	s.data.licenses[l.ID] = cloneLicense(l)
}

// License returns a stored license.
func (s *Store) License(id uuid.UUID) (core.License, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.licenses[id]
	if ok {
		l = s.data.withCategoryName(l)
	}
	return l, ok
}

// Licenses returns all stored licenses ordered by name.
func (s *Store) Licenses() []core.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.snapshot().Licenses
}

// Categories returns all stored categories ordered by name.
func (s *Store) Categories() []core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.snapshot().Categories
}

// AuditEntries returns every audit entry in append order.
func (s *Store) AuditEntries() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.data.audit...)
}

// ----------------------------------------------------------------------------
// core.Store
// ----------------------------------------------------------------------------

// CreateSession implements core.Store.
func (s *Store) CreateSession(ctx context.Context, session *core.ImportSession, rows []core.ImportRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.sessions[session.ID]; exists {
		return fmt.Errorf("create session %s: duplicate key", session.ID)
	}
	s.data.sessions[session.ID] = *session
	s.data.rows[session.ID] = cloneRows(rows)
	return nil
}

// GetSession implements core.Store.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getSession(id)
}

// ListRows implements core.Store.
func (s *Store) ListRows(ctx context.Context, sessionID uuid.UUID, filter core.RowFilter) ([]core.ImportRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listRows(sessionID, filter)
}

// ListSessions implements core.Store.
func (s *Store) ListSessions(ctx context.Context, opts core.ListOptions) ([]core.ImportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.ImportSession, 0, len(s.data.sessions))
	for _, sess := range s.data.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}
	if opts.Offset >= len(out) {
		return []core.ImportSession{}, nil
	}
	out = out[max(opts.Offset, 0):]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CancelSession implements core.Store.
func (s *Store) CancelSession(ctx context.Context, session *core.ImportSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.finishSession(session)
}

// LoadSnapshot implements core.Store.
func (s *Store) LoadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.snapshot(), nil
}

// ListAudit implements core.Store.
func (s *Store) ListAudit(ctx context.Context, sessionID uuid.UUID) ([]core.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.AuditEntry
	for _, e := range s.data.audit {
		if e.ImportSessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// InTx implements core.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

// LoadThresholds implements settings.Source.
func (s *Store) LoadThresholds(ctx context.Context) (expiry.Thresholds, bool, error) {
	if err := ctx.Err(); err != nil {
		return expiry.Thresholds{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.thresholds == nil {
		return expiry.Thresholds{}, false, nil
	}
	return *s.data.thresholds, true, nil
}

// SaveThresholds stores the system thresholds.
func (s *Store) SaveThresholds(ctx context.Context, th expiry.Thresholds) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.thresholds = &th
	return nil
}

// ----------------------------------------------------------------------------
// Transaction
// ----------------------------------------------------------------------------

type memTx struct {
	store *Store
	data  *state
}

func (t *memTx) GetSession(ctx context.Context, id uuid.UUID) (*core.ImportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.data.getSession(id)
}

func (t *memTx) ListRows(ctx context.Context, sessionID uuid.UUID, filter core.RowFilter) ([]core.ImportRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.data.listRows(sessionID, filter)
}

func (t *memTx) LoadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.data.snapshot(), nil
}

func (t *memTx) InsertCategory(ctx context.Context, c *core.Category) error {
	if err := t.store.checkFault(OpInsertCategory); err != nil {
		return err
	}
	if _, exists := t.data.categories[c.ID]; exists {
		return fmt.Errorf("insert category %s: duplicate key", c.ID)
	}
	for _, existing := range t.data.categories {
		if core.NormalizeKeyPart(existing.Name) == core.NormalizeKeyPart(c.Name) {
			return fmt.Errorf("insert category %q: violates unique constraint on name", c.Name)
		}
	}
	t.data.categories[c.ID] = *c
	return nil
}

func (t *memTx) InsertLicense(ctx context.Context, l *core.License) error {
	if err := t.store.checkFault(OpInsertLicense); err != nil {
		return err
	}
	if _, exists := t.data.licenses[l.ID]; exists {
		return fmt.Errorf("insert license %s: duplicate key", l.ID)
	}
	if l.CategoryID != nil {
		if _, ok := t.data.categories[*l.CategoryID]; !ok {
			return fmt.Errorf("insert license %s: violates foreign key on category", l.ID)
		}
	}
	stored := cloneLicense(*l)
	stored.CategoryName = ""
	t.data.licenses[l.ID] = stored
	return nil
}

func (t *memTx) UpdateLicense(ctx context.Context, l *core.License, expectedVersion int) error {
	if err := t.store.checkFault(OpUpdateLicense); err != nil {
		return err
	}
	current, ok := t.data.licenses[l.ID]
	if !ok || current.Version != expectedVersion {
		return fmt.Errorf("update license %s: %w", l.ID, core.ErrConcurrentChange)
	}
	stored := cloneLicense(*l)
	stored.CategoryName = ""
	stored.CreatedAt = current.CreatedAt
	t.data.licenses[l.ID] = stored
	return nil
}

func (t *memTx) CompleteSession(ctx context.Context, session *core.ImportSession) error {
	if err := t.store.checkFault(OpCompleteSession); err != nil {
		return err
	}
	return t.data.finishSession(session)
}

func (t *memTx) AppendAudit(ctx context.Context, entry *core.AuditEntry) error {
	if err := t.store.checkFault(OpAppendAudit); err != nil {
		return err
	}
	t.data.audit = append(t.data.audit, *entry)
	return nil
}

// ----------------------------------------------------------------------------
// State helpers
// ----------------------------------------------------------------------------

func (d *state) clone() *state {
	c := &state{
		sessions:   make(map[uuid.UUID]core.ImportSession, len(d.sessions)),
		rows:       make(map[uuid.UUID][]core.ImportRow, len(d.rows)),
		categories: make(map[uuid.UUID]core.Category, len(d.categories)),
		licenses:   make(map[uuid.UUID]core.License, len(d.licenses)),
		audit:      append([]core.AuditEntry(nil), d.audit...),
		thresholds: d.thresholds,
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	// Rows are never modified after creation.
	for k, v := range d.rows {
		c.rows[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.licenses {
		c.licenses[k] = cloneLicense(v)
	}
	return c
}

func (d *state) getSession(id uuid.UUID) (*core.ImportSession, error) {
	sess, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}
	return &sess, nil
}

func (d *state) listRows(sessionID uuid.UUID, filter core.RowFilter) ([]core.ImportRow, error) {
	if _, ok := d.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionNotFound)
	}
	out := make([]core.ImportRow, 0, len(d.rows[sessionID]))
	for _, r := range d.rows[sessionID] {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return cloneRows(out), nil
}

// finishSession applies a terminal transition to a session that is still Pending.
func (d *state) finishSession(session *core.ImportSession) error {
	current, ok := d.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, core.ErrSessionNotFound)
	}
	if current.Status != core.SessionPending {
		return fmt.Errorf("%w: status is %s", core.ErrSessionNotPending, current.Status)
	}
	d.sessions[session.ID] = *session
	return nil
}

func (d *state) withCategoryName(l core.License) core.License {
	if l.CategoryID != nil {
		if c, ok := d.categories[*l.CategoryID]; ok {
			l.CategoryName = c.Name
		}
	}
	return l
}

func (d *state) snapshot() *core.Snapshot {
	snap := &core.Snapshot{
		Categories: make([]core.Category, 0, len(d.categories)),
		Licenses:   make([]core.License, 0, len(d.licenses)),
	}
	for _, c := range d.categories {
		snap.Categories = append(snap.Categories, c)
	}
	for _, l := range d.licenses {
		snap.Licenses = append(snap.Licenses, d.withCategoryName(cloneLicense(l)))
	}
	sort.Slice(snap.Categories, func(i, j int) bool { return snap.Categories[i].Name < snap.Categories[j].Name })
	sort.Slice(snap.Licenses, func(i, j int) bool {
		if snap.Licenses[i].Name == snap.Licenses[j].Name {
			return snap.Licenses[i].ID.String() < snap.Licenses[j].ID.String()
		}
		return snap.Licenses[i].Name < snap.Licenses[j].Name
	})
	return snap
}

func cloneRows(rows []core.ImportRow) []core.ImportRow {
	out := make([]core.ImportRow, len(rows))
	for i, r := range rows {
		if r.LicenseID != nil {
			id := *r.LicenseID
			r.LicenseID = &id
		}
		r.ExpiresOn = copyPtr(r.ExpiresOn)
		r.SeatsPurchased = copyPtr(r.SeatsPurchased)
		r.SeatsAssigned = copyPtr(r.SeatsAssigned)
		r.Errors = append([]string(nil), r.Errors...)
		out[i] = r
	}
	return out
}

func cloneLicense(l core.License) core.License {
	if l.CategoryID != nil {
		id := *l.CategoryID
		l.CategoryID = &id
	}
	l.SeatsPurchased = copyPtr(l.SeatsPurchased)
	l.SeatsAssigned = copyPtr(l.SeatsAssigned)
	l.ExpiresOn = copyPtr(l.ExpiresOn)
	l.UpdatedAt = copyPtr(l.UpdatedAt)
	l.Thresholds.CriticalDays = copyPtr(l.Thresholds.CriticalDays)
	l.Thresholds.WarningDays = copyPtr(l.Thresholds.WarningDays)
	return l
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
