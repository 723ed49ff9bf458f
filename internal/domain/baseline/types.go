// Package baseline computes rolling behavioral profiles of actors.
package baseline

import (
	"context"
	"time"
)

// Computation constants.
const (
	// MinEventsForBaseline is the minimum event count below which the system
	// defaults are used instead of a computed profile.
	MinEventsForBaseline = 5

	// DefaultWindowDays is the rolling window for baseline computation.
	DefaultWindowDays = 14

	// ActiveHourShare is the fraction of total events an hour must carry
	// (floored, min 1) to count as typically active.
	ActiveHourShare = 0.1
)

// System defaults used for new or sparse actors.
const (
	defaultAvgBytesPerDay  = 10 * 1024 * 1024 // 10 MB
	defaultAvgEventsPerDay = 50
	defaultResourceScope   = 20
	defaultFailureRate     = 0.05
)

// Baseline is the behavioral profile of an actor over a window.
// Records are append-only: each computation persists a new record.
type Baseline struct {
	ActorID    string    `json:"actorId"`
	ComputedAt time.Time `json:"computedAt"`
	WindowDays int       `json:"windowDays"`

	// TypicalActiveHours holds hours 0..23 in ascending order.
	TypicalActiveHours []int    `json:"typicalActiveHours"`
	KnownIPAddresses   []string `json:"knownIpAddresses"`
	KnownUserAgents    []string `json:"knownUserAgents"`

	AvgBytesPerDay       float64 `json:"avgBytesPerDay"`
	AvgEventsPerDay      float64 `json:"avgEventsPerDay"`
	TypicalResourceScope int     `json:"typicalResourceScope"`
	// NormalFailureRate is in [0,1].
	NormalFailureRate float64 `json:"normalFailureRate"`

	EventCount int `json:"eventCount"`

	// FirstSeen and LastSeen are the min/max OccurredAt of the window's
	// events; nil when the window is empty.
	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// Defaults returns the system-default baseline for new or sparse actors:
// business hours 9..17, no known addresses, 10 MB/day, 50 events/day,
// scope 20, failure rate 0.05.
func Defaults(actorID string, windowDays int, computedAt time.Time) Baseline {
	hours := make([]int, 0, 9)
	for h := 9; h <= 17; h++ {
		hours = append(hours, h)
	}
	return Baseline{
		ActorID:              actorID,
		ComputedAt:           computedAt.UTC(),
		WindowDays:           windowDays,
		TypicalActiveHours:   hours,
		KnownIPAddresses:     []string{},
		KnownUserAgents:      []string{},
		AvgBytesPerDay:       defaultAvgBytesPerDay,
		AvgEventsPerDay:      defaultAvgEventsPerDay,
		TypicalResourceScope: defaultResourceScope,
		NormalFailureRate:    defaultFailureRate,
	}
}

// Store is the persistence contract for baselines. Baselines are never
// deleted; retention reports their count as preserved.
type Store interface {
	// Insert appends a new baseline record.
	Insert(ctx context.Context, b *Baseline) error

	// Latest returns the most recently computed baseline for the actor,
	// or nil if none exists.
	Latest(ctx context.Context, actorID string) (*Baseline, error)

	// Count returns the total number of baseline records.
	Count(ctx context.Context) (int64, error)
}
