package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
	"github.com/google/uuid"
)

// DefaultMaxFileSize is the upload limit used when Options leaves it unset.
const DefaultMaxFileSize int64 = 10 << 20

// DefaultAllowedContentTypes is the content-type allow-list for uploads.
var DefaultAllowedContentTypes = []string{
	"text/csv",
	"application/csv",
	"application/vnd.ms-excel",
	"text/plain",
}

// Options configures a Service.
type Options struct {
	MaxFileSize          int64
	AllowedContentTypes  []string
	MaxConcurrentUploads int
	MaxUploadWait        time.Duration
}

// Service is the entry point for every import operation.
type Service struct {
	store    Store
	files    FileStore
	settings SettingsProvider
	limiter  *UploadLimiter
	opts     Options
	now      func() time.Time
}

// NewService wires a Service. store, files and settings are required.
func NewService(store Store, files FileStore, settings SettingsProvider, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("new service: store is required")
	}
	if files == nil {
		return nil, errors.New("new service: file store is required")
	}
	if settings == nil {
		return nil, errors.New("new service: settings provider is required")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if len(opts.AllowedContentTypes) == 0 {
		opts.AllowedContentTypes = DefaultAllowedContentTypes
	}

	return &Service{
		store:    store,
		files:    files,
		settings: settings,
		limiter:  NewUploadLimiter(opts.MaxConcurrentUploads, opts.MaxUploadWait),
		opts:     opts,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// UploadInput is an uploaded file as received from the caller.
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64 // declared size, or -1 when unknown
	Body        io.Reader
}

// Upload validates, parses and classifies a file and stores it as a Pending
// session. Structural failures return an error and create nothing.
func (s *Service) Upload(ctx context.Context, actor ActorContext, in UploadInput) (*ImportSession, error) {
	logger := logging.WithFields(ctx, "file", in.FileName, "user_id", actor.UserID)

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if err := s.checkUpload(in); err != nil {
		logger.Warn("upload rejected", "error", err)
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.opts.MaxFileSize+1))
	if err != nil {
		return nil, &StructuralError{Reason: "file could not be read", Err: err}
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.opts.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	parsed, err := ParseFile(data)
	if err != nil {
		logger.Warn("upload rejected", "error", err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	classified := Classify(parsed.Rows, snap)

	stored, err := s.files.Save(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	session, rows := BuildSession(SessionDraft{
		ID:               uuid.New(),
		Actor:            actor,
		OriginalFileName: filepath.Base(in.FileName),
		StoredFileName:   stored,
		CreatedAt:        s.clock(),
	}, classified)

	if err := s.store.CreateSession(ctx, session, rows); err != nil {
		s.deleteFile(ctx, stored)
		return nil, fmt.Errorf("create session: %w", err)
	}

	logger.Info("import session created",
		"session_id", session.ID,
		"total_rows", session.TotalRows,
		"valid_rows", session.ValidRows,
		"invalid_rows", session.InvalidRows,
		"new_licenses", session.NewLicenses,
		"updated_licenses", session.UpdatedLicenses,
		"new_categories", session.NewCategories,
		"skipped_blank", parsed.SkippedBlank,
	)
	return session, nil
}

// checkUpload applies the extension, content-type and size rules.
func (s *Service) checkUpload(in UploadInput) error {
	if in.Body == nil || strings.TrimSpace(in.FileName) == "" {
		return ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(in.FileName), ".csv") {
		return ErrUnsupportedFileType
	}
	if !s.contentTypeAllowed(in.ContentType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedContent, in.ContentType)
	}
	if in.Size > s.opts.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, in.Size, s.opts.MaxFileSize)
	}
	if in.Size == 0 {
		return ErrEmptyFile
	}
	return nil
}

func (s *Service) contentTypeAllowed(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedContentTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*ImportSession, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns sessions newest first.
func (s *Service) ListSessions(ctx context.Context, opts ListOptions) ([]ImportSession, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.store.ListSessions(ctx, opts)
}

// Preview returns a session with the rows selected by filter.
func (s *Service) Preview(ctx context.Context, id uuid.UUID, filter RowFilter) (*SessionPreview, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListRows(ctx, id, filter)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	return &SessionPreview{Session: *session, Filter: filter, Rows: rows}, nil
}

// AuditTrail returns the audit entries written for a session.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID) ([]AuditEntry, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, id)
}

// Cancel moves a Pending session to Cancelled and deletes its temp file.
// No entities or audit entries are written.
func (s *Service) Cancel(ctx context.Context, actor ActorContext, id uuid.UUID) (*ImportSession, error) {
	logger := logging.WithFields(ctx, "session_id", id, "user_id", actor.UserID)

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionPending {
		return nil, fmt.Errorf("%w: status is %s", ErrSessionNotPending, session.Status)
	}

	now := s.clock()
	session.Status = SessionCancelled
	session.CompletedAt = &now

	if err := s.store.CancelSession(ctx, session); err != nil {
		return nil, err
	}

	s.deleteFile(ctx, session.StoredFileName)
	logger.Info("import session cancelled")
	return session, nil
}

// Thresholds returns the system thresholds, normalized.
func (s *Service) Thresholds(ctx context.Context) (expiry.Thresholds, error) {
	th, err := s.settings.Thresholds(ctx)
	if err != nil {
		return expiry.Thresholds{}, fmt.Errorf("load thresholds: %w", err)
	}
	return th.Normalize(), nil
}

// LicenseStatus classifies an expiry date with the system thresholds and an
// optional per-license override, as of now.
func (s *Service) LicenseStatus(ctx context.Context, expiresOn *time.Time, override expiry.Override) (expiry.Status, expiry.Thresholds, error) {
	system, err := s.Thresholds(ctx)
	if err != nil {
		return expiry.StatusUnknown, expiry.Thresholds{}, err
	}
	th := expiry.Resolve(system, override)
	return th.Status(expiresOn, s.clock()), th, nil
}

// UploadLimiterStatus reports upload slot usage.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight uploads finish or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// deleteFile removes a temp file. Failures are logged and otherwise ignored.
func (s *Service) deleteFile(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := s.files.Delete(ctx, name); err != nil {
		logging.FromContext(ctx).Warn("failed to delete import file", "file", name, "error", err)
	}
}
