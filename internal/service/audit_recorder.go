// Package service provides the business logic services of the pipeline.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/audit"
)

// AuditRecorder builds and persists immutable config-change records.
//
// Mutations that must be atomic with their change build the record here and
// hand it to the mutating store method; standalone records go through Record.
type AuditRecorder struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditRecorder creates a new AuditRecorder.
func NewAuditRecorder(store audit.Store, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, logger: logger, now: time.Now}
}

// Build assembles a validated record for transactional use. Unknown actions
// or entity types fail the enclosing mutation.
func (r *AuditRecorder) Build(userID string, action audit.Action, entityType audit.EntityType, entityID string, before, after map[string]any) (*audit.Record, error) {
	rec := &audit.Record{
		ID:          uuid.New().String(),
		UserID:      userID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		BeforeValue: before,
		AfterValue:  after,
		CreatedAt:   r.now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Record validates and persists a standalone audit record.
func (r *AuditRecorder) Record(ctx context.Context, userID string, action audit.Action, entityType audit.EntityType, entityID string, before, after map[string]any) (*audit.Record, error) {
	rec, err := r.Build(userID, action, entityType, entityID, before, after)
	if err != nil {
		return nil, err
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Info("audit record written",
		"action", rec.Action, "entity_type", rec.EntityType, "entity_id", rec.EntityID, "user_id", rec.UserID)
	return rec, nil
}

// List returns the most recent audit records, newest first.
func (r *AuditRecorder) List(ctx context.Context, limit int) ([]audit.Record, error) {
	return r.store.List(ctx, limit)
}
