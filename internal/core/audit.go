package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionCategoryCreate AuditAction = "category_create"
	ActionLicenseCreate  AuditAction = "license_create"
	ActionLicenseUpdate  AuditAction = "license_update"
	ActionImportCommit   AuditAction = "import_commit"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// Audited entity types.
const (
	EntityCategory      = "Category"
	EntityLicense       = "License"
	EntityImportSession = "ImportSession"
)

// AuditEntry is an append-only audit record.
type AuditEntry struct {
	ID              uuid.UUID      `json:"id"`
	Action          AuditAction    `json:"action"`
	Severity        AuditSeverity  `json:"severity"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	ImportSessionID uuid.UUID      `json:"importSessionId"`
	UserID          string         `json:"userId,omitempty"`
	UserEmail       string         `json:"userEmail,omitempty"`
	IPAddress       string         `json:"ipAddress,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
	Summary         string         `json:"summary"`
	Details         map[string]any `json:"details,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImportCommit:
		return SeverityHigh
	case ActionCategoryCreate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// auditRecorder writes the audit entries of one commit to a sink.
type auditRecorder struct {
	sink      AuditSink
	actor     ActorContext
	sessionID uuid.UUID
	ip        string
	userAgent string
	now       time.Time
	count     int
}

func newAuditRecorder(ctx context.Context, sink AuditSink, actor ActorContext, sessionID uuid.UUID, now time.Time) *auditRecorder {
	return &auditRecorder{
		sink:      sink,
		actor:     actor,
		sessionID: sessionID,
		ip:        IPAddressFromContext(ctx),
		userAgent: UserAgentFromContext(ctx),
		now:       now,
	}
}

func (a *auditRecorder) log(ctx context.Context, action AuditAction, entityType, entityID, summary string, details map[string]any) error {
	entry := &AuditEntry{
		ID:              uuid.New(),
		Action:          action,
		Severity:        determineSeverity(action),
		EntityType:      entityType,
		EntityID:        entityID,
		ImportSessionID: a.sessionID,
		UserID:          a.actor.UserID,
		UserEmail:       a.actor.Email,
		IPAddress:       a.ip,
		UserAgent:       a.userAgent,
		Summary:         summary,
		Details:         details,
		CreatedAt:       a.now,
	}
	if err := a.sink.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit %s %s: %w", action, entityID, err)
	}
	a.count++
	return nil
}

// LogCategoryCreate records a category created by the import.
func (a *auditRecorder) LogCategoryCreate(ctx context.Context, c *Category, rowNumber int) error {
	return a.log(ctx, ActionCategoryCreate, EntityCategory, c.ID.String(),
		fmt.Sprintf("Created category %q during import", c.Name),
		map[string]any{"name": c.Name, "rowNumber": rowNumber})
}

// LogLicenseCreate records a license created by the import.
func (a *auditRecorder) LogLicenseCreate(ctx context.Context, l *License, rowNumber int) error {
	return a.log(ctx, ActionLicenseCreate, EntityLicense, l.ID.String(),
		fmt.Sprintf("Created license %q during import", l.Name),
		map[string]any{"rowNumber": rowNumber, "new": licenseFields(l)})
}

// LogLicenseUpdate records a license overwritten by the import.
func (a *auditRecorder) LogLicenseUpdate(ctx context.Context, prev, next *License, rowNumber int) error {
	return a.log(ctx, ActionLicenseUpdate, EntityLicense, next.ID.String(),
		fmt.Sprintf("Updated license %q during import", next.Name),
		map[string]any{"rowNumber": rowNumber, "old": licenseFields(prev), "new": licenseFields(next)})
}

// LogImportCommit records the summary of a committed session.
func (a *auditRecorder) LogImportCommit(ctx context.Context, s *ImportSession) error {
	return a.log(ctx, ActionImportCommit, EntityImportSession, s.ID.String(),
		fmt.Sprintf("Committed import of %q: %d new, %d updated, %d new categories",
			s.OriginalFileName, s.NewLicenses, s.UpdatedLicenses, s.NewCategories),
		map[string]any{
			"fileName":        s.OriginalFileName,
			"totalRows":       s.TotalRows,
			"validRows":       s.ValidRows,
			"invalidRows":     s.InvalidRows,
			"newLicenses":     s.NewLicenses,
			"updatedLicenses": s.UpdatedLicenses,
			"newCategories":   s.NewCategories,
		})
}

// licenseFields is the audited view of a license.
func licenseFields(l *License) map[string]any {
	m := map[string]any{
		"name":           l.Name,
		"vendor":         l.Vendor,
		"category":       l.CategoryName,
		"seatsPurchased": FormatCount(l.SeatsPurchased),
		"seatsAssigned":  FormatCount(l.SeatsAssigned),
		"expiresOn":      FormatExpiresOn(l.ExpiresOn),
		"status":         string(l.Status),
	}
	if l.Notes != "" {
		m["notes"] = l.Notes
	}
	return m
}
