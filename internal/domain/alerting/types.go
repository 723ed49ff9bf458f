// Package alerting turns high risk scores into deduplicated alerts.
package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/driftline/driftline/internal/domain/scoring"
)

// Sentinel errors for alert operations.
var (
	// ErrNotFound is returned when an alert does not exist.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned for a status change outside the DAG.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// DefaultThreshold is the minimum total score that raises an alert.
const DefaultThreshold = 60

// DefaultDeduplicationWindow is how long an open alert suppresses new alerts
// for the same actor.
const DefaultDeduplicationWindow = 60 * time.Minute

// Severity is the discrete triage label attached to a numeric score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid returns true if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// SeverityForScore maps a score onto its severity bucket:
// low 60-69, medium 70-79, high 80-89, critical 90-100.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 80:
		return SeverityHigh
	case score >= 70:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status is an alert's position in the triage workflow.
type Status string

const (
	StatusOpen          Status = "open"
	StatusAcknowledged  Status = "acknowledged"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// IsValid returns true if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusFalsePositive:
		return true
	default:
		return false
	}
}

// BaselineComparison pairs the actor's baseline metrics with the activity
// that produced the alert, for display alongside the contributions.
type BaselineComparison struct {
	TypicalHours       []int   `json:"typicalHours"`
	CurrentHours       []int   `json:"currentHours"`
	AvgBytes           float64 `json:"avgBytes"`
	CurrentBytes       float64 `json:"currentBytes"`
	NormalScope        int     `json:"normalScope"`
	CurrentScope       int     `json:"currentScope"`
	NormalFailureRate  float64 `json:"normalFailureRate"`
	CurrentFailureRate float64 `json:"currentFailureRate"`
}

// Alert is a raised, triageable finding with full evidentiary context.
type Alert struct {
	ID      string `json:"id"`
	ActorID string `json:"actorId"`

	Score    int      `json:"score"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`

	RuleContributions  []scoring.Contribution `json:"ruleContributions"`
	BaselineComparison BaselineComparison     `json:"baselineComparison"`
	TriggeringEventIDs []string               `json:"triggeringEventIds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Transition applies a status change, enforcing the workflow DAG:
//
//	open -> acknowledged -> resolved
//	open -> resolved | false_positive
//	acknowledged -> false_positive
//
// Resolved and false_positive are terminal. A resolve or false-positive
// transition that skips acknowledgment backfills AcknowledgedBy/At with the
// resolver's identity and timestamp.
func (a *Alert) Transition(to Status, byUser string, at time.Time) error {
	if !to.IsValid() {
		return ErrInvalidTransition
	}
	at = at.UTC()

	switch a.Status {
	case StatusOpen:
		// any forward state is reachable from open
	case StatusAcknowledged:
		if to != StatusResolved && to != StatusFalsePositive {
			return ErrInvalidTransition
		}
	default:
		return ErrInvalidTransition
	}
	if to == StatusOpen || to == a.Status {
		return ErrInvalidTransition
	}

	switch to {
	case StatusAcknowledged:
		a.AcknowledgedBy = byUser
		a.AcknowledgedAt = &at
	case StatusResolved, StatusFalsePositive:
		if a.AcknowledgedBy == "" {
			a.AcknowledgedBy = byUser
			a.AcknowledgedAt = &at
		}
		a.ResolvedBy = byUser
		a.ResolvedAt = &at
	}

	a.Status = to
	a.UpdatedAt = at
	return nil
}

// Store is the persistence contract for alerts.
type Store interface {
	// Insert persists a new alert.
	Insert(ctx context.Context, a *Alert) error

	// Get returns the alert, or ErrNotFound.
	Get(ctx context.Context, id string) (*Alert, error)

	// HasOpenAlertSince reports whether the actor has an open alert created
	// at or after since.
	HasOpenAlertSince(ctx context.Context, actorID string, since time.Time) (bool, error)

	// Update persists status, timestamps, and triage identity changes.
	Update(ctx context.Context, a *Alert) error
}
