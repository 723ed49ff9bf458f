package scoring

import (
	"sort"
	"time"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
)

// statsWindowMinutes is the lookback for the window statistics paired against
// the baseline in alerts (one trailing day).
const statsWindowMinutes = 1440

// ScoreActor evaluates the enabled rules against the actor's recent events
// and returns an explainable 0-100 risk score.
//
// Pure and deterministic: the reference time is explicit, rules are walked in
// definition order, and all derived collections are sorted, so identical
// inputs produce byte-identical results and event permutations cannot change
// the total score or the rule-to-points mapping.
//
// Rules with unknown keys are skipped without failing the score. A rule whose
// config carries an unusable filter expression sees all events.
func ScoreActor(actorID string, bl baseline.Baseline, events []event.Event, rules []Rule, referenceTime time.Time, compile FilterCompiler) Result {
	ref := referenceTime.UTC()

	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	score := RiskScore{
		ActorID:            actorID,
		ComputedAt:         ref,
		RuleContributions:  []Contribution{},
		TriggeringEventIDs: []string{},
	}

	total := 0
	maxTriggeredWindow := 0
	for _, rule := range rules {
		if !rule.Enabled || !rule.RuleKey.IsValid() {
			continue
		}

		windowMinutes := rule.WindowMinutes
		if windowMinutes <= 0 {
			windowMinutes = defaultWindowMinutes(rule.RuleKey)
		}
		windowEvents := eventsSince(sorted, ref.Add(-time.Duration(windowMinutes)*time.Minute))
		windowEvents = applyFilter(rule, windowEvents, compile)

		contrib := evaluateRule(rule, bl, windowEvents)
		if contrib == nil {
			continue
		}

		score.RuleContributions = append(score.RuleContributions, *contrib)
		total += contrib.Points
		if windowMinutes > maxTriggeredWindow {
			maxTriggeredWindow = windowMinutes
		}
	}

	score.TotalScore = clamp(total, 0, 100)

	if maxTriggeredWindow > 0 {
		cutoff := ref.Add(-time.Duration(maxTriggeredWindow) * time.Minute)
		for _, ev := range sorted {
			if !ev.OccurredAt.Before(cutoff) {
				score.TriggeringEventIDs = append(score.TriggeringEventIDs, ev.ID)
			}
		}
	}

	return Result{
		Score: score,
		Stats: windowStats(sorted, ref),
	}
}

// windowStats summarizes activity over the trailing day for the alert's
// baseline comparison.
func windowStats(sorted []event.Event, ref time.Time) WindowStats {
	recent := eventsSince(sorted, ref.Add(-statsWindowMinutes*time.Minute))

	stats := WindowStats{CurrentHours: []int{}}
	hours := map[int]struct{}{}
	resources := map[string]struct{}{}
	failures := 0
	var totalBytes int64

	for _, ev := range recent {
		hours[ev.OccurredAt.UTC().Hour()] = struct{}{}
		if ev.ResourceID != "" {
			resources[ev.ResourceID] = struct{}{}
		}
		if ev.Outcome == event.OutcomeFailure {
			failures++
		}
		if ev.Bytes != nil {
			totalBytes += *ev.Bytes
		}
	}

	for h := 0; h < 24; h++ {
		if _, ok := hours[h]; ok {
			stats.CurrentHours = append(stats.CurrentHours, h)
		}
	}
	stats.CurrentBytes = float64(totalBytes)
	stats.CurrentScope = len(resources)
	if len(recent) > 0 {
		stats.CurrentFailureRate = float64(failures) / float64(len(recent))
	}
	return stats
}

// eventsSince returns the suffix of a sorted slice with OccurredAt >= cutoff.
func eventsSince(sorted []event.Event, cutoff time.Time) []event.Event {
	i := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].OccurredAt.Before(cutoff)
	})
	return sorted[i:]
}

// applyFilter subsets the window through the rule's CEL filter, if one is
// configured and compiles.
func applyFilter(rule Rule, events []event.Event, compile FilterCompiler) []event.Event {
	if compile == nil || rule.Config == nil {
		return events
	}
	expr, ok := rule.Config["filter"].(string)
	if !ok || expr == "" {
		return events
	}
	filter, err := compile(expr)
	if err != nil || filter == nil {
		return events
	}
	out := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
