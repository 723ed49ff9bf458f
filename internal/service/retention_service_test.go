package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/source"
)

func TestCutoff(t *testing.T) {
	t.Parallel()

	ref := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	got := Cutoff(90, ref)
	want := time.Date(2025, 12, 10, 15, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Cutoff(90) = %v, want %v", got, want)
	}
	if !Cutoff(1, ref).Before(ref) {
		t.Error("cutoff must be strictly before the reference time")
	}
}

func retentionFixture(t *testing.T) (*RetentionService, *fakeSourceStore, *fakeEventStore, *fakeBaselineStore, time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sources := newFakeSourceStore()
	events := newFakeEventStore()
	baselines := &fakeBaselineStore{}

	sources.sources["s1"] = &source.Source{ID: "s1", Key: "short", RetentionDays: 7}
	sources.sources["s2"] = &source.Source{ID: "s2", Key: "long", RetentionDays: 90}

	add := func(id, sourceID string, ageDays int) {
		ev := &event.Event{ID: id, ActorID: "alice", SourceID: sourceID,
			OccurredAt: now.AddDate(0, 0, -ageDays)}
		if err := events.InsertEventWithActor(context.Background(), ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	add("e1", "s1", 10) // past s1's 7 days
	add("e2", "s1", 3)  // kept
	add("e3", "s2", 10) // inside s2's 90 days
	add("e4", "s2", 120)
	add("e5", "gone", 100) // orphan past default 90
	add("e6", "gone", 10)  // orphan but recent

	if err := baselines.Insert(context.Background(), &baseline.Baseline{ActorID: "alice", ComputedAt: now.AddDate(0, 0, -200)}); err != nil {
		t.Fatalf("insert baseline: %v", err)
	}

	svc := NewRetentionService(sources, events, baselines, 90, testLogger())
	svc.now = func() time.Time { return now }
	return svc, sources, events, baselines, now
}

func TestRetentionService_Run(t *testing.T) {
	t.Parallel()

	svc, _, events, _, _ := retentionFixture(t)

	report, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.Success {
		t.Errorf("report not successful: %s", report.Error)
	}
	if report.TotalEventsDeleted != 3 {
		t.Errorf("TotalEventsDeleted = %d, want 3", report.TotalEventsDeleted)
	}
	if report.DeletionsBySource["short"] != 1 || report.DeletionsBySource["long"] != 1 {
		t.Errorf("DeletionsBySource = %v", report.DeletionsBySource)
	}
	if report.OrphanedEventsDeleted != 1 {
		t.Errorf("OrphanedEventsDeleted = %d, want 1", report.OrphanedEventsDeleted)
	}
	if report.BaselinesPreserved != 1 {
		t.Errorf("BaselinesPreserved = %d, want 1", report.BaselinesPreserved)
	}

	remaining := map[string]bool{}
	for _, ev := range events.events {
		remaining[ev.ID] = true
	}
	for _, id := range []string{"e2", "e3", "e6"} {
		if !remaining[id] {
			t.Errorf("event %s should survive", id)
		}
	}
	for _, id := range []string{"e1", "e4", "e5"} {
		if remaining[id] {
			t.Errorf("event %s should be deleted", id)
		}
	}
}

func TestRetentionService_DryRun(t *testing.T) {
	t.Parallel()

	svc, _, events, _, _ := retentionFixture(t)

	report, err := svc.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.DryRun {
		t.Error("report should be marked dry-run")
	}
	if report.TotalEventsDeleted != 3 {
		t.Errorf("dry-run TotalEventsDeleted = %d, want 3", report.TotalEventsDeleted)
	}
	if len(events.events) != 6 {
		t.Errorf("dry run deleted events: %d remain, want 6", len(events.events))
	}
}

func TestRetentionService_PerSourceFailureIsIsolated(t *testing.T) {
	t.Parallel()

	svc, _, events, _, _ := retentionFixture(t)
	events.deleteErr["s1"] = errors.New("disk full")

	report, err := svc.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Success {
		t.Error("report should not be successful after a per-source failure")
	}
	if report.Error == "" {
		t.Error("report should carry the failure")
	}
	// The other source and the orphan sweep still ran.
	if report.DeletionsBySource["long"] != 1 || report.OrphanedEventsDeleted != 1 {
		t.Errorf("other sources should still be processed: %+v", report)
	}
}
