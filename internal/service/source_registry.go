package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/credential"
	"github.com/driftline/driftline/internal/domain/source"
)

// SourceRegistry provides CRUD over ingestion sources, credential generation
// and rotation, and credential verification for the ingest path.
type SourceRegistry struct {
	sources  source.Store
	auditor  *AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewSourceRegistry creates a new SourceRegistry.
func NewSourceRegistry(sources source.Store, auditor *AuditRecorder, logger *slog.Logger) *SourceRegistry {
	return &SourceRegistry{
		sources:  sources,
		auditor:  auditor,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSourceInput holds the input for creating a source.
type CreateSourceInput struct {
	Key              string `json:"key" validate:"required,min=1,max=100"`
	Name             string `json:"name" validate:"required,min=1,max=200"`
	Description      string `json:"description,omitempty" validate:"max=2000"`
	RedactResourceID bool   `json:"redactResourceId"`
	RetentionDays    int    `json:"retentionDays" validate:"gte=0"`
	RateLimit        int    `json:"rateLimit" validate:"gte=0"`
}

// Create registers a new source and returns it with the plaintext API key.
// The plaintext is returned exactly once and never stored.
func (r *SourceRegistry) Create(ctx context.Context, adminID string, in CreateSourceInput) (*source.Source, string, error) {
	if err := r.validate.Struct(in); err != nil {
		return nil, "", fmt.Errorf("invalid source input: %w", err)
	}
	if in.RetentionDays == 0 {
		in.RetentionDays = source.DefaultRetentionDays
	}
	if in.RateLimit == 0 {
		in.RateLimit = source.DefaultRateLimit
	}

	plaintext, err := credential.Generate()
	if err != nil {
		return nil, "", err
	}
	hash, err := credential.Hash(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	now := r.now().UTC()
	src := &source.Source{
		ID:               uuid.New().String(),
		Key:              in.Key,
		Name:             in.Name,
		Description:      in.Description,
		APIKeyHash:       hash,
		Enabled:          true,
		RedactResourceID: in.RedactResourceID,
		RetentionDays:    in.RetentionDays,
		RateLimit:        in.RateLimit,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	rec, err := r.auditor.Build(adminID, audit.ActionSourceCreated, audit.EntitySource, src.ID,
		nil, sourceAuditValue(src))
	if err != nil {
		return nil, "", err
	}
	if err := r.sources.Create(ctx, src, rec); err != nil {
		return nil, "", err
	}

	r.logger.Info("source created", "id", src.ID, "key", src.Key, "name", src.Name)
	return src, plaintext, nil
}

// Update patches a source's mutable fields.
func (r *SourceRegistry) Update(ctx context.Context, adminID, id string, patch source.Patch) (*source.Source, error) {
	if err := r.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("invalid source patch: %w", err)
	}

	src, err := r.sources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := sourceAuditValue(src)
	patch.Apply(src)
	src.UpdatedAt = r.now().UTC()

	rec, err := r.auditor.Build(adminID, audit.ActionSourceUpdated, audit.EntitySource, src.ID,
		before, sourceAuditValue(src))
	if err != nil {
		return nil, err
	}
	if err := r.sources.Update(ctx, src, rec); err != nil {
		return nil, err
	}

	r.logger.Info("source updated", "id", src.ID, "key", src.Key)
	return src, nil
}

// RotateAPIKey generates a new credential for the source and returns the new
// plaintext exactly once. The old credential becomes invalid atomically with
// the commit. The audit record carries sentinels, never secret material.
func (r *SourceRegistry) RotateAPIKey(ctx context.Context, adminID, id string) (*source.Source, string, error) {
	plaintext, err := credential.Generate()
	if err != nil {
		return nil, "", err
	}
	hash, err := credential.Hash(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	rec, err := r.auditor.Build(adminID, audit.ActionSourceAPIKeyRotated, audit.EntitySource, id,
		map[string]any{"apiKey": audit.RotationSentinel},
		map[string]any{"apiKey": audit.RotationSentinel})
	if err != nil {
		return nil, "", err
	}
	src, err := r.sources.RotateKey(ctx, id, hash, rec)
	if err != nil {
		return nil, "", err
	}

	r.logger.Info("source api key rotated", "id", src.ID, "key", src.Key)
	return src, plaintext, nil
}

// GetByID returns the source, or source.ErrNotFound.
func (r *SourceRegistry) GetByID(ctx context.Context, id string) (*source.Source, error) {
	return r.sources.GetByID(ctx, id)
}

// List returns all sources ordered by creation time.
func (r *SourceRegistry) List(ctx context.Context) ([]source.Source, error) {
	return r.sources.List(ctx)
}

// Verify returns the source iff a source with that key exists, the presented
// secret matches the stored hash, and the source is enabled.
//
// All rejection paths return source.ErrInvalidCredential and perform exactly
// one hash comparison, so unknown-key, bad-secret, and disabled-source
// rejections fall in the same timing class.
func (r *SourceRegistry) Verify(ctx context.Context, sourceKey, presentedKey string) (*source.Source, error) {
	src, err := r.sources.GetByKey(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			credential.BurnVerification(presentedKey)
			return nil, source.ErrInvalidCredential
		}
		return nil, err
	}

	match, err := credential.Verify(presentedKey, src.APIKeyHash)
	if err != nil {
		r.logger.Warn("credential comparison failed", "source_key", sourceKey, "error", err)
		return nil, source.ErrInvalidCredential
	}
	if !match || !src.Enabled {
		return nil, source.ErrInvalidCredential
	}
	return src, nil
}

// sourceAuditValue renders the auditable fields of a source. The credential
// hash is deliberately excluded.
func sourceAuditValue(s *source.Source) map[string]any {
	return map[string]any{
		"key":              s.Key,
		"name":             s.Name,
		"description":      s.Description,
		"enabled":          s.Enabled,
		"redactResourceId": s.RedactResourceID,
		"retentionDays":    s.RetentionDays,
		"rateLimit":        s.RateLimit,
	}
}
