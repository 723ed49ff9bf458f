package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/domain/alerting"
	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/scoring"
)

func passResult(actorID string, total int, at time.Time) scoring.Result {
	return scoring.Result{
		Score: scoring.RiskScore{
			ActorID:    actorID,
			TotalScore: total,
			ComputedAt: at,
			RuleContributions: []scoring.Contribution{
				{RuleID: "r1", RuleName: "Off-hours activity", Points: total, Reason: "test"},
			},
			TriggeringEventIDs: []string{"e1"},
		},
	}
}

func TestAlertingService_ThresholdGate(t *testing.T) {
	t.Parallel()

	store := newFakeAlertStore()
	svc := NewAlertingService(store, 60, time.Hour, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	bl := baseline.Defaults("alice", 14, now)

	outcome, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 59, now), bl, AlertOptions{})
	if err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	if outcome.AlertCreated || outcome.Reason != "below threshold" {
		t.Errorf("outcome = %+v, want below-threshold rejection", outcome)
	}

	outcome, err = svc.EvaluateAndAlert(context.Background(), passResult("alice", 60, now), bl, AlertOptions{})
	if err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	if !outcome.AlertCreated || outcome.Alert == nil {
		t.Fatalf("outcome = %+v, want created alert", outcome)
	}
	if outcome.Alert.Severity != alerting.SeverityLow {
		t.Errorf("Severity = %q, want low", outcome.Alert.Severity)
	}
}

func TestAlertingService_Deduplication(t *testing.T) {
	t.Parallel()

	store := newFakeAlertStore()
	svc := NewAlertingService(store, 60, time.Hour, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	bl := baseline.Defaults("alice", 14, now)

	if _, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{}); err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}

	// A second pass inside the window is suppressed.
	outcome, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 90, now), bl, AlertOptions{})
	if err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	if outcome.AlertCreated || outcome.Reason != "duplicate" {
		t.Errorf("outcome = %+v, want duplicate suppression", outcome)
	}

	// Another actor is unaffected.
	outcome, _ = svc.EvaluateAndAlert(context.Background(), passResult("bob", 80, now), bl, AlertOptions{})
	if !outcome.AlertCreated {
		t.Error("deduplication must be per actor")
	}

	// Past the window, a new alert is raised.
	now = now.Add(61 * time.Minute)
	outcome, _ = svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{})
	if !outcome.AlertCreated {
		t.Error("alert should be created after the dedup window ends")
	}

	// SkipDeduplication bypasses the gate.
	outcome, _ = svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{SkipDeduplication: true})
	if !outcome.AlertCreated {
		t.Error("SkipDeduplication should bypass the dedup gate")
	}
}

func TestAlertingService_ResolvedAlertDoesNotSuppress(t *testing.T) {
	t.Parallel()

	store := newFakeAlertStore()
	svc := NewAlertingService(store, 60, time.Hour, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	bl := baseline.Defaults("alice", 14, now)

	outcome, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{})
	if err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), outcome.Alert.ID, alerting.StatusResolved, "ana"); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	outcome, _ = svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{})
	if !outcome.AlertCreated {
		t.Error("only open alerts suppress new ones")
	}
}

func TestAlertingService_UpdateStatus(t *testing.T) {
	t.Parallel()

	store := newFakeAlertStore()
	svc := NewAlertingService(store, 60, time.Hour, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bl := baseline.Defaults("alice", 14, now)

	outcome, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 80, now), bl, AlertOptions{})
	if err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	id := outcome.Alert.ID

	a, err := svc.UpdateStatus(context.Background(), id, alerting.StatusAcknowledged, "ana")
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if a.Status != alerting.StatusAcknowledged || a.AcknowledgedBy != "ana" {
		t.Errorf("alert = %s by %s, want acknowledged by ana", a.Status, a.AcknowledgedBy)
	}

	if _, err := svc.UpdateStatus(context.Background(), id, alerting.StatusOpen, "ana"); !errors.Is(err, alerting.ErrInvalidTransition) {
		t.Errorf("reopen = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "missing", alerting.StatusResolved, "ana"); !errors.Is(err, alerting.ErrNotFound) {
		t.Errorf("unknown id = %v, want ErrNotFound", err)
	}

	// The transition is persisted.
	stored, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != alerting.StatusAcknowledged {
		t.Errorf("stored status = %q, want acknowledged", stored.Status)
	}
}

func TestAlertingService_ObserverSeesCreatedAlerts(t *testing.T) {
	t.Parallel()

	store := newFakeAlertStore()
	svc := NewAlertingService(store, 60, time.Hour, testLogger())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bl := baseline.Defaults("alice", 14, now)

	var seen []alerting.Severity
	svc.SetObserver(func(a *alerting.Alert) {
		seen = append(seen, a.Severity)
	})

	if _, err := svc.EvaluateAndAlert(context.Background(), passResult("alice", 95, now), bl, AlertOptions{}); err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}
	if _, err := svc.EvaluateAndAlert(context.Background(), passResult("bob", 10, now), bl, AlertOptions{}); err != nil {
		t.Fatalf("EvaluateAndAlert() error: %v", err)
	}

	if len(seen) != 1 || seen[0] != alerting.SeverityCritical {
		t.Errorf("observer saw %v, want one critical alert", seen)
	}
}
