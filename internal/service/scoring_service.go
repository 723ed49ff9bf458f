package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/scoring"
)

// DefaultScoringWindowMinutes is the lookback for selecting actors to score.
const DefaultScoringWindowMinutes = 60

// ScoringService evaluates the rule set against recent actor activity and
// persists the resulting risk scores.
type ScoringService struct {
	events    event.Store
	scores    scoring.Store
	baselines *BaselineService
	alerts    *AlertingService
	auditor   *AuditRecorder
	compile   scoring.FilterCompiler
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex // guards filterWarned
	filterWarned map[string]bool
}

// NewScoringService creates a new ScoringService. compile may be nil, in
// which case rule filters are ignored.
func NewScoringService(events event.Store, scores scoring.Store, baselines *BaselineService, alerts *AlertingService, auditor *AuditRecorder, compile scoring.FilterCompiler, logger *slog.Logger) *ScoringService {
	return &ScoringService{
		events:       events,
		scores:       scores,
		baselines:    baselines,
		alerts:       alerts,
		auditor:      auditor,
		compile:      compile,
		logger:       logger,
		now:          time.Now,
		filterWarned: make(map[string]bool),
	}
}

// SeedDefaultRules inserts the embedded rule set for any keys not already
// present. Operator edits to existing rules are never overwritten.
func (s *ScoringService) SeedDefaultRules(ctx context.Context) error {
	rules, err := scoring.DefaultRules()
	if err != nil {
		return err
	}
	return s.scores.SeedRules(ctx, rules)
}

// ListRules returns all scoring rules in definition order.
func (s *ScoringService) ListRules(ctx context.Context) ([]scoring.Rule, error) {
	return s.scores.ListRules(ctx)
}

// UpdateRule patches a rule's mutable fields and writes the audit record in
// the same transaction. The rule key is immutable.
func (s *ScoringService) UpdateRule(ctx context.Context, adminID string, updated *scoring.Rule) (*scoring.Rule, error) {
	rules, err := s.scores.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	var current *scoring.Rule
	for i := range rules {
		if rules[i].ID == updated.ID {
			current = &rules[i]
			break
		}
	}
	if current == nil {
		return nil, scoring.ErrRuleNotFound
	}
	updated.RuleKey = current.RuleKey

	rec, err := s.auditor.Build(adminID, audit.ActionRuleUpdated, audit.EntityScoringRule, updated.ID,
		ruleAuditValue(current), ruleAuditValue(updated))
	if err != nil {
		return nil, err
	}
	if err := s.scores.UpdateRule(ctx, updated, rec); err != nil {
		return nil, err
	}

	s.logger.Info("scoring rule updated", "rule_id", updated.ID, "rule_key", updated.RuleKey)
	return updated, nil
}

// ScoreActor runs one scoring pass for the actor: loads its baseline and the
// events covering the widest rule window, evaluates the rules, and persists
// the score, the actor's current score, and any resulting alert, in that
// order.
func (s *ScoringService) ScoreActor(ctx context.Context, actorID string) (*scoring.Result, error) {
	ref := s.now().UTC()

	bl, err := s.baselines.GetOrCompute(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline for %s: %w", actorID, err)
	}

	rules, err := s.scores.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	since := ref.Add(-time.Duration(maxWindowMinutes(rules)) * time.Minute)
	events, err := s.events.ListActorEventsSince(ctx, actorID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", actorID, err)
	}

	result := scoring.ScoreActor(actorID, *bl, events, rules, ref, s.filterCompiler())

	if err := s.scores.InsertScore(ctx, &result.Score); err != nil {
		return nil, fmt.Errorf("failed to persist score for %s: %w", actorID, err)
	}
	if err := s.events.UpdateActorScore(ctx, actorID, result.Score.TotalScore, ref); err != nil {
		return nil, fmt.Errorf("failed to update actor score for %s: %w", actorID, err)
	}

	if s.alerts != nil {
		if _, err := s.alerts.EvaluateAndAlert(ctx, result, *bl, AlertOptions{}); err != nil {
			return nil, fmt.Errorf("failed to evaluate alert for %s: %w", actorID, err)
		}
	}
	return &result, nil
}

// ScoreAll scores every actor with at least one event in the trailing
// windowMinutes. Per-actor failures are logged and never abort the batch.
func (s *ScoringService) ScoreAll(ctx context.Context, windowMinutes int) (*BatchResult, error) {
	if windowMinutes <= 0 {
		windowMinutes = DefaultScoringWindowMinutes
	}
	since := s.now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	actors, err := s.events.ActiveActorsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}

	result := &BatchResult{}
	for _, actorID := range actors {
		result.Processed++
		if _, err := s.ScoreActor(ctx, actorID); err != nil {
			result.Failed++
			if len(result.Errors) < maxBatchErrors {
				result.Errors = append(result.Errors, err.Error())
			}
			s.logger.Warn("scoring failed", "actor_id", actorID, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// filterCompiler wraps the configured compiler so each broken filter
// expression is logged once rather than on every pass.
func (s *ScoringService) filterCompiler() scoring.FilterCompiler {
	if s.compile == nil {
		return nil
	}
	return func(expr string) (scoring.EventFilter, error) {
		f, err := s.compile(expr)
		if err != nil {
			s.mu.Lock()
			warned := s.filterWarned[expr]
			s.filterWarned[expr] = true
			s.mu.Unlock()
			if !warned {
				s.logger.Warn("rule filter expression rejected", "expr", expr, "error", err)
			}
		}
		return f, err
	}
}

// maxWindowMinutes returns the widest evaluation window across the rule set,
// floored at the trailing-day window used for alert statistics.
func maxWindowMinutes(rules []scoring.Rule) int {
	max := 1440
	for _, r := range rules {
		if r.WindowMinutes > max {
			max = r.WindowMinutes
		}
	}
	return max
}

func ruleAuditValue(r *scoring.Rule) map[string]any {
	return map[string]any{
		"name":          r.Name,
		"description":   r.Description,
		"enabled":       r.Enabled,
		"weight":        r.Weight,
		"threshold":     r.Threshold,
		"windowMinutes": r.WindowMinutes,
		"config":        r.Config,
	}
}
