package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/domain/alerting"
	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/scoring"
)

// AlertingService gates risk scores through the alert threshold with
// deduplication, and applies triage status transitions.
type AlertingService struct {
	alerts    alerting.Store
	threshold int
	dedup     time.Duration
	logger    *slog.Logger
	now       func() time.Time
	observe   func(*alerting.Alert)
}

// NewAlertingService creates a new AlertingService. threshold <= 0 and
// dedup <= 0 fall back to the system defaults.
func NewAlertingService(alerts alerting.Store, threshold int, dedup time.Duration, logger *slog.Logger) *AlertingService {
	if threshold <= 0 {
		threshold = alerting.DefaultThreshold
	}
	if dedup <= 0 {
		dedup = alerting.DefaultDeduplicationWindow
	}
	return &AlertingService{alerts: alerts, threshold: threshold, dedup: dedup, logger: logger, now: time.Now}
}

// SetObserver registers a callback invoked once per created alert. Must be
// set before the scoring jobs start.
func (s *AlertingService) SetObserver(fn func(*alerting.Alert)) {
	s.observe = fn
}

// AlertOptions tune a single evaluation pass. Zero values use the service
// configuration.
type AlertOptions struct {
	Threshold         int
	DedupWindow       time.Duration
	SkipDeduplication bool
}

// AlertOutcome reports whether a pass created an alert and why not otherwise.
type AlertOutcome struct {
	AlertCreated bool            `json:"alertCreated"`
	Reason       string          `json:"reason,omitempty"`
	Alert        *alerting.Alert `json:"alert,omitempty"`
}

// EvaluateAndAlert raises an alert for the scoring pass unless the score is
// below threshold or the actor already has an open alert inside the
// deduplication window.
func (s *AlertingService) EvaluateAndAlert(ctx context.Context, result scoring.Result, bl baseline.Baseline, opts AlertOptions) (*AlertOutcome, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}
	dedup := opts.DedupWindow
	if dedup <= 0 {
		dedup = s.dedup
	}
	now := s.now().UTC()

	alert := alerting.CreateAlertFromScore(result, bl, threshold, now)
	if alert == nil {
		return &AlertOutcome{Reason: "below threshold"}, nil
	}

	if !opts.SkipDeduplication {
		open, err := s.alerts.HasOpenAlertSince(ctx, result.Score.ActorID, now.Add(-dedup))
		if err != nil {
			return nil, err
		}
		if open {
			return &AlertOutcome{Reason: "duplicate"}, nil
		}
	}

	if err := s.alerts.Insert(ctx, alert); err != nil {
		return nil, err
	}

	s.logger.Info("alert created",
		"alert_id", alert.ID, "actor_id", alert.ActorID, "score", alert.Score, "severity", alert.Severity)
	if s.observe != nil {
		s.observe(alert)
	}
	return &AlertOutcome{AlertCreated: true, Alert: alert}, nil
}

// Get returns the alert, or alerting.ErrNotFound.
func (s *AlertingService) Get(ctx context.Context, id string) (*alerting.Alert, error) {
	return s.alerts.Get(ctx, id)
}

// UpdateStatus applies a triage transition to the alert. A resolve or
// false-positive transition that skips acknowledgment backfills the
// acknowledgment fields with the resolver's identity.
func (s *AlertingService) UpdateStatus(ctx context.Context, id string, to alerting.Status, byUser string) (*alerting.Alert, error) {
	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := alert.Transition(to, byUser, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}

	s.logger.Info("alert status updated", "alert_id", id, "status", alert.Status, "by", byUser)
	return alert, nil
}
