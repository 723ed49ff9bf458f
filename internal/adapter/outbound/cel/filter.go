// Package cel provides a CEL-based event filter for scoring rule config.
package cel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/scoring"
)

// maxExpressionLength is the maximum allowed length for filter expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// Compiler compiles rule filter expressions into event predicates. Compiled
// programs are cached per expression; rule sets are small and stable.
type Compiler struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program
}

// NewEventEnvironment creates a CEL environment exposing the event fields
// filters may reference.
func NewEventEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("actionType", cel.StringType),
		cel.Variable("resourceType", cel.StringType),
		cel.Variable("outcome", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("actorType", cel.StringType),
	)
}

// NewCompiler creates a filter compiler with the event environment.
func NewCompiler() (*Compiler, error) {
	env, err := NewEventEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}
	return &Compiler{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile parses and type-checks a filter expression. The resulting filter is
// safe for concurrent use.
func (c *Compiler) Compile(expr string) (scoring.EventFilter, error) {
	if expr == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	c.mu.Lock()
	prg, ok := c.cache[expr]
	c.mu.Unlock()
	if ok {
		return &filter{prg: prg}, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return a boolean, got %s", ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	c.mu.Lock()
	c.cache[expr] = prg
	c.mu.Unlock()
	return &filter{prg: prg}, nil
}

// filter evaluates a compiled program against a single event.
type filter struct {
	prg cel.Program
}

var _ scoring.EventFilter = (*filter)(nil)

// Match reports whether the event satisfies the expression. Evaluation errors
// and non-boolean results count as no match.
func (f *filter) Match(ev event.Event) bool {
	result, _, err := f.prg.Eval(map[string]any{
		"actionType":   ev.ActionType,
		"resourceType": ev.ResourceType,
		"outcome":      string(ev.Outcome),
		"ip":           ev.IP,
		"actorType":    string(ev.ActorType),
	})
	if err != nil {
		return false
	}
	b, ok := result.Value().(bool)
	return ok && b
}
