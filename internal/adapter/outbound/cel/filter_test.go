package cel

import (
	"strings"
	"testing"

	"github.com/driftline/driftline/internal/domain/event"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler() error: %v", err)
	}
	return c
}

func TestCompiler_RejectsBadExpressions(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"too long", `actionType == "` + strings.Repeat("x", 1024) + `"`},
		{"syntax error", `actionType == `},
		{"unknown variable", `department == "finance"`},
		{"non-boolean result", `actionType`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := c.Compile(tt.expr); err == nil {
				t.Errorf("Compile(%q) should fail", tt.expr)
			}
		})
	}
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	ev := event.Event{
		ActionType:   "file_download",
		ResourceType: "document",
		Outcome:      event.OutcomeSuccess,
		IP:           "10.0.0.1",
		ActorType:    event.ActorTypeEmployee,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"action match", `actionType == "file_download"`, true},
		{"action mismatch", `actionType == "login"`, false},
		{"resource and outcome", `resourceType == "document" && outcome == "success"`, true},
		{"ip prefix", `ip.startsWith("10.")`, true},
		{"actor type", `actorType == "employee"`, true},
		{"negation", `!(actionType == "file_download")`, false},
		{"disjunction", `actionType == "login" || outcome == "success"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := c.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tt.expr, err)
			}
			if got := f.Match(ev); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_EvalErrorMeansNoMatch(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	// Division by a zero-length substring count forces a runtime error.
	f, err := c.Compile(`1 / int(ip.size() - ip.size()) == 1`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if f.Match(event.Event{IP: "10.0.0.1"}) {
		t.Error("an evaluation error must count as no match")
	}
}

func TestCompiler_CachesPrograms(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)

	const expr = `outcome == "failure"`
	if _, err := c.Compile(expr); err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if len(c.cache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(c.cache))
	}

	f, err := c.Compile(expr)
	if err != nil {
		t.Fatalf("second Compile() error: %v", err)
	}
	if len(c.cache) != 1 {
		t.Errorf("cache size = %d, want still 1", len(c.cache))
	}
	if !f.Match(event.Event{Outcome: event.OutcomeFailure}) {
		t.Error("cached program should still evaluate")
	}
}
