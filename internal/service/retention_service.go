package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/source"
)

// RetentionService expires events per source while preserving every derived
// baseline record.
type RetentionService struct {
	sources       source.Store
	events        event.Store
	baselines     baseline.Store
	defaultDays   int
	logger        *slog.Logger
	now           func() time.Time
}

// NewRetentionService creates a new RetentionService. defaultDays <= 0 falls
// back to the system default and applies to the orphan sweep.
func NewRetentionService(sources source.Store, events event.Store, baselines baseline.Store, defaultDays int, logger *slog.Logger) *RetentionService {
	if defaultDays <= 0 {
		defaultDays = source.DefaultRetentionDays
	}
	return &RetentionService{
		sources:     sources,
		events:      events,
		baselines:   baselines,
		defaultDays: defaultDays,
		logger:      logger,
		now:         time.Now,
	}
}

// RetentionReport summarizes one cleanup run.
type RetentionReport struct {
	TotalEventsDeleted    int64            `json:"totalEventsDeleted"`
	SourcesProcessed      int              `json:"sourcesProcessed"`
	DeletionsBySource     map[string]int64 `json:"deletionsBySource"`
	OrphanedEventsDeleted int64            `json:"orphanedEventsDeleted"`
	BaselinesPreserved    int64            `json:"baselinesPreserved"`
	DryRun                bool             `json:"dryRun"`
	Success               bool             `json:"success"`
	Error                 string           `json:"error,omitempty"`
}

// Cutoff returns the retention cutoff for the given day count: events with
// OccurredAt strictly before it are expired. Whole-day arithmetic; the cutoff
// is always strictly before ref.
func Cutoff(retentionDays int, ref time.Time) time.Time {
	return ref.UTC().AddDate(0, 0, -retentionDays)
}

// Run executes one retention pass: per-source expiry by each source's own
// retentionDays, then an orphan sweep for events whose source no longer
// exists, using the default retention. Baselines are never deleted; the
// report carries their unchanged count. With dryRun, counts only.
func (s *RetentionService) Run(ctx context.Context, dryRun bool) (*RetentionReport, error) {
	report := &RetentionReport{
		DeletionsBySource: map[string]int64{},
		DryRun:            dryRun,
	}
	ref := s.now().UTC()

	sources, err := s.sources.List(ctx)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}

	knownIDs := make([]string, 0, len(sources))
	for _, src := range sources {
		knownIDs = append(knownIDs, src.ID)

		days := src.RetentionDays
		if days <= 0 {
			days = s.defaultDays
		}
		n, err := s.events.DeleteEventsBefore(ctx, src.ID, Cutoff(days, ref), dryRun)
		if err != nil {
			s.logger.Warn("retention failed for source", "source_id", src.ID, "error", err)
			report.Error = err.Error()
			continue
		}
		report.SourcesProcessed++
		report.DeletionsBySource[src.Key] = n
		report.TotalEventsDeleted += n
	}

	orphans, err := s.events.DeleteOrphanEventsBefore(ctx, knownIDs, Cutoff(s.defaultDays, ref), dryRun)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.OrphanedEventsDeleted = orphans
	report.TotalEventsDeleted += orphans

	preserved, err := s.baselines.Count(ctx)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.BaselinesPreserved = preserved
	report.Success = report.Error == ""

	s.logger.Info("retention run complete",
		"deleted", report.TotalEventsDeleted, "orphans", report.OrphanedEventsDeleted,
		"sources", report.SourcesProcessed, "baselines_preserved", report.BaselinesPreserved,
		"dry_run", dryRun)
	return report, nil
}
