package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
)

// maxBatchErrors bounds the error list returned by batch operations.
const maxBatchErrors = 20

// BaselineService computes and persists actor behavioral baselines.
type BaselineService struct {
	events    event.Store
	baselines baseline.Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewBaselineService creates a new BaselineService.
func NewBaselineService(events event.Store, baselines baseline.Store, logger *slog.Logger) *BaselineService {
	return &BaselineService{events: events, baselines: baselines, logger: logger, now: time.Now}
}

// BatchResult aggregates a batch computation. Per-actor failures never abort
// the batch.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Compute builds and persists a baseline for the actor over the trailing
// window. Actors with fewer than baseline.MinEventsForBaseline events in the
// window get the system defaults, with the actual event count recorded.
func (s *BaselineService) Compute(ctx context.Context, actorID string, windowDays int) (*baseline.Baseline, error) {
	if windowDays <= 0 {
		windowDays = baseline.DefaultWindowDays
	}
	now := s.now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	events, err := s.events.ListActorEventsSince(ctx, actorID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", actorID, err)
	}

	var b baseline.Baseline
	if len(events) < baseline.MinEventsForBaseline {
		b = baseline.Defaults(actorID, windowDays, now)
		b.EventCount = len(events)
	} else {
		b = baseline.ComputeFromEvents(actorID, events, windowDays, now)
	}

	if err := s.baselines.Insert(ctx, &b); err != nil {
		return nil, fmt.Errorf("failed to persist baseline for %s: %w", actorID, err)
	}
	return &b, nil
}

// ComputeAll computes and persists a baseline for every actor with at least
// one event in the window.
func (s *BaselineService) ComputeAll(ctx context.Context, windowDays int) (*BatchResult, error) {
	if windowDays <= 0 {
		windowDays = baseline.DefaultWindowDays
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)

	actors, err := s.events.ActiveActorsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}

	result := &BatchResult{}
	for _, actorID := range actors {
		result.Processed++
		if _, err := s.Compute(ctx, actorID, windowDays); err != nil {
			result.Failed++
			if len(result.Errors) < maxBatchErrors {
				result.Errors = append(result.Errors, err.Error())
			}
			s.logger.Warn("baseline computation failed", "actor_id", actorID, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// GetOrCompute returns the latest persisted baseline for the actor, computing
// one on demand if none exists. Falls back to system defaults.
func (s *BaselineService) GetOrCompute(ctx context.Context, actorID string) (*baseline.Baseline, error) {
	b, err := s.baselines.Latest(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}
	b, err = s.Compute(ctx, actorID, baseline.DefaultWindowDays)
	if err != nil {
		return nil, err
	}
	return b, nil
}
