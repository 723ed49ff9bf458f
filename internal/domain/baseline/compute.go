package baseline

import (
	"sort"
	"time"

	"github.com/driftline/driftline/internal/domain/event"
)

// ComputeFromEvents builds a behavioral baseline from an actor's event history
// over the given window. Pure: no clock reads, no I/O. The computedAt instant
// is passed in by the caller.
//
// With no events, the numeric aggregates are zero and FirstSeen/LastSeen are
// nil; callers decide whether to substitute Defaults.
func ComputeFromEvents(actorID string, events []event.Event, windowDays int, computedAt time.Time) Baseline {
	b := Baseline{
		ActorID:            actorID,
		ComputedAt:         computedAt.UTC(),
		WindowDays:         windowDays,
		TypicalActiveHours: []int{},
		KnownIPAddresses:   []string{},
		KnownUserAgents:    []string{},
		EventCount:         len(events),
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
		b.WindowDays = windowDays
	}

	var (
		hourCounts [24]int
		ips        = map[string]struct{}{}
		agents     = map[string]struct{}{}
		resources  = map[string]struct{}{}
		totalBytes int64
		failures   int
		first      time.Time
		last       time.Time
	)

	for _, ev := range events {
		occurred := ev.OccurredAt.UTC()
		hourCounts[occurred.Hour()]++

		if ev.IP != "" {
			ips[ev.IP] = struct{}{}
		}
		if ev.UserAgent != "" {
			agents[ev.UserAgent] = struct{}{}
		}
		if ev.ResourceID != "" {
			resources[ev.ResourceID] = struct{}{}
		}
		if ev.Bytes != nil {
			totalBytes += *ev.Bytes
		}
		if ev.Outcome == event.OutcomeFailure {
			failures++
		}
		if first.IsZero() || occurred.Before(first) {
			first = occurred
		}
		if occurred.After(last) {
			last = occurred
		}
	}

	// An hour is typical when it carries at least ActiveHourShare of the
	// window's events (floored, minimum one event).
	minCount := int(float64(len(events)) * ActiveHourShare)
	if minCount < 1 {
		minCount = 1
	}
	for h := 0; h < 24; h++ {
		if hourCounts[h] >= minCount {
			b.TypicalActiveHours = append(b.TypicalActiveHours, h)
		}
	}

	b.KnownIPAddresses = sortedKeys(ips)
	b.KnownUserAgents = sortedKeys(agents)
	b.TypicalResourceScope = len(resources)
	b.AvgBytesPerDay = float64(totalBytes) / float64(windowDays)
	b.AvgEventsPerDay = float64(len(events)) / float64(windowDays)
	if len(events) > 0 {
		b.NormalFailureRate = float64(failures) / float64(len(events))
		b.FirstSeen = &first
		b.LastSeen = &last
	}

	return b
}

// sortedKeys returns the map keys in ascending order for deterministic output.
func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
