package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/source"
)

// IngestionService normalizes raw payloads and persists the resulting events.
// Authentication and rate limiting happen before it in the HTTP pipeline.
type IngestionService struct {
	events event.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(events event.Store, logger *slog.Logger) *IngestionService {
	return &IngestionService{events: events, logger: logger, now: time.Now}
}

// Ingest normalizes the raw payload for the source and persists the event
// together with its actor upsert in one transaction.
//
// Validation and normalization failures return *event.ValidationError with no
// side effects. Duplicate payloads produce distinct events; client-supplied
// identifiers are never trusted.
func (s *IngestionService) Ingest(ctx context.Context, src *source.Source, raw map[string]any) (*event.Event, error) {
	ev, err := event.Normalize(raw, src, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.events.InsertEventWithActor(ctx, ev); err != nil {
		return nil, err
	}

	s.logger.Debug("event ingested",
		"event_id", ev.ID, "actor_id", ev.ActorID, "source_id", ev.SourceID, "action_type", ev.ActionType)
	return ev, nil
}
