// Package scoring evaluates explainable risk rules against recent activity.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/event"
)

// ErrRuleNotFound is returned when a scoring rule does not exist.
var ErrRuleNotFound = errors.New("scoring rule not found")

// RuleKey identifies one of the fixed rule evaluators.
type RuleKey string

const (
	RuleOffHours       RuleKey = "off_hours"
	RuleNewIP          RuleKey = "new_ip"
	RuleVolumeSpike    RuleKey = "volume_spike"
	RuleScopeExpansion RuleKey = "scope_expansion"
	RuleFailureBurst   RuleKey = "failure_burst"
)

// IsValid returns true if the key names a known evaluator.
func (k RuleKey) IsValid() bool {
	switch k {
	case RuleOffHours, RuleNewIP, RuleVolumeSpike, RuleScopeExpansion, RuleFailureBurst:
		return true
	default:
		return false
	}
}

// Rule is the configuration of one scoring rule.
type Rule struct {
	ID          string  `json:"id" yaml:"id"`
	RuleKey     RuleKey `json:"ruleKey" yaml:"ruleKey"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`

	// Weight is the cap on points this rule can award.
	Weight int `json:"weight" yaml:"weight" validate:"gt=0"`
	// Threshold semantics are rule-specific: a minimum count for count rules,
	// a multiplier for ratio rules. Zero means "use the rule's default".
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// WindowMinutes is the evaluation lookback.
	WindowMinutes int `json:"windowMinutes" yaml:"windowMinutes" validate:"gt=0"`

	// Config is a free-form bag. A "filter" entry may hold a CEL expression
	// restricting which events the rule sees; missing or invalid config is
	// tolerated.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Contribution is a single rule's explainable addition to a risk score.
// Contributions are ordered by rule-definition order.
type Contribution struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Points   int    `json:"points"`
	Reason   string `json:"reason"`
	// CurrentValue and BaselineValue are opaque displayable values for the UI.
	CurrentValue  string `json:"currentValue"`
	BaselineValue string `json:"baselineValue"`
}

// RiskScore is the evidentiary output of one scoring pass. Append-only.
type RiskScore struct {
	ActorID            string         `json:"actorId"`
	TotalScore         int            `json:"totalScore"`
	ComputedAt         time.Time      `json:"computedAt"`
	RuleContributions  []Contribution `json:"ruleContributions"`
	TriggeringEventIDs []string       `json:"triggeringEventIds"`
}

// WindowStats summarizes the actor's activity over the trailing day of the
// scoring pass, for pairing against the baseline in alerts.
type WindowStats struct {
	CurrentHours       []int   `json:"currentHours"`
	CurrentBytes       float64 `json:"currentBytes"`
	CurrentScope       int     `json:"currentScope"`
	CurrentFailureRate float64 `json:"currentFailureRate"`
}

// Result bundles a risk score with the window statistics of the same pass.
type Result struct {
	Score RiskScore   `json:"score"`
	Stats WindowStats `json:"stats"`
}

// EventFilter restricts which events a rule sees.
type EventFilter interface {
	Match(ev event.Event) bool
}

// FilterCompiler compiles a rule's filter expression. A nil compiler, a
// compile error, or a missing expression all leave the rule unfiltered.
type FilterCompiler func(expr string) (EventFilter, error)

// Store is the persistence contract for risk scores and rule configuration.
type Store interface {
	// InsertScore appends a risk score record.
	InsertScore(ctx context.Context, s *RiskScore) error

	// ListRules returns all rules in definition order.
	ListRules(ctx context.Context) ([]Rule, error)

	// UpdateRule updates a rule's mutable fields and writes the audit record
	// in the same transaction. Returns ErrRuleNotFound if absent.
	UpdateRule(ctx context.Context, r *Rule, rec *audit.Record) error

	// SeedRules inserts the given rules if their keys are not present.
	// Existing rules are never overwritten.
	SeedRules(ctx context.Context, rules []Rule) error
}
