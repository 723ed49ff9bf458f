package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/scoring"
)

func testRules() []scoring.Rule {
	return []scoring.Rule{
		{
			ID: "rule-off-hours", RuleKey: scoring.RuleOffHours, Name: "Off-hours activity",
			Enabled: true, Weight: 15, Threshold: 2, WindowMinutes: 60,
		},
		{
			ID: "rule-volume", RuleKey: scoring.RuleVolumeSpike, Name: "Volume spike",
			Enabled: true, Weight: 25, Threshold: 3, WindowMinutes: 1440,
			Config: map[string]any{"filter": `actionType == "file_download"`},
		},
	}
}

func TestScoringStore_SeedRulesIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Scoring().SeedRules(ctx, testRules()); err != nil {
		t.Fatalf("SeedRules() error: %v", err)
	}

	rules, err := s.Scoring().ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("ListRules() = %d rules, want 2", len(rules))
	}
	// Definition order is preserved.
	if rules[0].RuleKey != scoring.RuleOffHours || rules[1].RuleKey != scoring.RuleVolumeSpike {
		t.Errorf("rule order = %v, %v", rules[0].RuleKey, rules[1].RuleKey)
	}
	if rules[1].Config["filter"] != `actionType == "file_download"` {
		t.Errorf("Config = %v", rules[1].Config)
	}

	// An operator edit survives a reseed.
	edited := rules[0]
	edited.Weight = 40
	rec := testAuditRecord(audit.ActionRuleUpdated, audit.EntityScoringRule, edited.ID)
	rec.BeforeValue = map[string]any{"weight": 15}
	rec.AfterValue = map[string]any{"weight": 40}
	if err := s.Scoring().UpdateRule(ctx, &edited, rec); err != nil {
		t.Fatalf("UpdateRule() error: %v", err)
	}
	if err := s.Scoring().SeedRules(ctx, testRules()); err != nil {
		t.Fatalf("second SeedRules() error: %v", err)
	}

	after, err := s.Scoring().ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if after[0].Weight != 40 {
		t.Errorf("reseed overwrote an edit: weight = %d, want 40", after[0].Weight)
	}
}

func TestScoringStore_UpdateRule(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Scoring().SeedRules(ctx, testRules()); err != nil {
		t.Fatalf("SeedRules() error: %v", err)
	}
	rules, err := s.Scoring().ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}

	r := rules[0]
	r.Enabled = false
	r.Threshold = 5
	r.Description = "tuned down"
	rec := testAuditRecord(audit.ActionRuleUpdated, audit.EntityScoringRule, r.ID)
	if err := s.Scoring().UpdateRule(ctx, &r, rec); err != nil {
		t.Fatalf("UpdateRule() error: %v", err)
	}

	after, _ := s.Scoring().ListRules(ctx)
	if after[0].Enabled || after[0].Threshold != 5 || after[0].Description != "tuned down" {
		t.Errorf("rule not persisted: %+v", after[0])
	}

	// The change and its audit record commit together.
	recs, err := s.Audit().List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 1 || recs[0].Action != audit.ActionRuleUpdated {
		t.Errorf("audit trail = %+v, want one rule update", recs)
	}

	missing := scoring.Rule{ID: "rule-ghost", RuleKey: "ghost", Name: "x", Weight: 1, WindowMinutes: 1}
	if err := s.Scoring().UpdateRule(ctx, &missing, testAuditRecord(audit.ActionRuleUpdated, audit.EntityScoringRule, missing.ID)); !errors.Is(err, scoring.ErrRuleNotFound) {
		t.Errorf("UpdateRule(missing) = %v, want ErrRuleNotFound", err)
	}
}

func TestScoringStore_InsertScore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sc := &scoring.RiskScore{
		ActorID:    "alice",
		TotalScore: 45,
		ComputedAt: now,
		RuleContributions: []scoring.Contribution{
			{RuleID: "rule-off-hours", RuleName: "Off-hours activity", Points: 15, Reason: "3 events outside typical hours"},
		},
		TriggeringEventIDs: []string{"e1", "e2"},
	}
	if err := s.Scoring().InsertScore(ctx, sc); err != nil {
		t.Fatalf("InsertScore() error: %v", err)
	}

	// A pass that triggers nothing still records an empty breakdown.
	empty := &scoring.RiskScore{ActorID: "bob", TotalScore: 0, ComputedAt: now}
	if err := s.Scoring().InsertScore(ctx, empty); err != nil {
		t.Fatalf("InsertScore(empty) error: %v", err)
	}
}
