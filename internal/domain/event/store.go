package event

import (
	"context"
	"errors"
	"time"
)

// ErrActorNotFound is returned when an actor does not exist.
var ErrActorNotFound = errors.New("actor not found")

// Store is the persistence contract for events and actors.
// The interface is defined in the domain to avoid circular imports;
// the SQLite adapter implements it.
type Store interface {
	// InsertEventWithActor atomically inserts the event and upserts its actor
	// in a single transaction. On actor create, FirstSeen and ActorType come
	// from the event; on update, FirstSeen keeps the minimum OccurredAt and
	// LastSeen the maximum, and ActorType never changes.
	InsertEventWithActor(ctx context.Context, ev *Event) error

	// ListActorEventsSince returns all events for the actor with
	// OccurredAt >= since, ordered by OccurredAt then ID.
	ListActorEventsSince(ctx context.Context, actorID string, since time.Time) ([]Event, error)

	// ActiveActorsSince returns the distinct actor IDs with at least one
	// event whose OccurredAt >= since, in ascending order.
	ActiveActorsSince(ctx context.Context, since time.Time) ([]string, error)

	// GetActor returns the actor, or ErrActorNotFound.
	GetActor(ctx context.Context, actorID string) (*Actor, error)

	// UpdateActorScore sets the actor's current risk score and advances
	// LastSeen if lastSeen is later than the stored value.
	UpdateActorScore(ctx context.Context, actorID string, score int, lastSeen time.Time) error

	// DeleteEventsBefore deletes events of the source with OccurredAt strictly
	// before cutoff and returns the number deleted. When dryRun is true it
	// only counts.
	DeleteEventsBefore(ctx context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error)

	// DeleteOrphanEventsBefore deletes events whose SourceID is not in
	// knownSourceIDs and whose OccurredAt is strictly before cutoff.
	// When dryRun is true it only counts.
	DeleteOrphanEventsBefore(ctx context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error)
}
