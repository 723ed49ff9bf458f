package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/driftline/driftline/internal/domain/event"
)

// eventStore implements event.Store over the shared database.
type eventStore struct {
	s *Store
}

var _ event.Store = (*eventStore)(nil)

// Events returns the event and actor view of the store.
func (s *Store) Events() event.Store {
	return &eventStore{s: s}
}

const eventColumns = `id, occurred_at, ingested_at, actor_id, actor_type, source_id, action_type, resource_type, resource_id, outcome, ip, user_agent, bytes, metadata`

// InsertEventWithActor atomically inserts the event and upserts its actor.
// The actor's FirstSeen keeps the minimum OccurredAt it has ever seen and
// LastSeen the maximum. ActorType is fixed at creation; later events never
// change it.
func (st *eventStore) InsertEventWithActor(ctx context.Context, ev *event.Event) error {
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		meta, err := marshalJSON(metaOrNil(ev.Metadata))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, formatTime(ev.OccurredAt), formatTime(ev.IngestedAt),
			ev.ActorID, string(ev.ActorType), ev.SourceID, ev.ActionType,
			nullString(ev.ResourceType), nullString(ev.ResourceID),
			string(ev.Outcome), nullString(ev.IP), nullString(ev.UserAgent),
			nullInt64(ev.Bytes), meta,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		occurred := formatTime(ev.OccurredAt)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO actors (actor_id, actor_type, first_seen, last_seen, current_risk_score)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(actor_id) DO UPDATE SET
				first_seen = MIN(first_seen, excluded.first_seen),
				last_seen  = MAX(last_seen, excluded.last_seen)`,
			ev.ActorID, string(ev.ActorType), occurred, occurred,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert actor: %w", err)
		}
		return nil
	})
}

// ListActorEventsSince returns the actor's events with OccurredAt >= since,
// ordered by occurrence then ID.
func (st *eventStore) ListActorEventsSince(ctx context.Context, actorID string, since time.Time) ([]event.Event, error) {
	rows, err := st.s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE actor_id = ? AND occurred_at >= ?
		ORDER BY occurred_at, id`,
		actorID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// ActiveActorsSince returns the distinct actor IDs with activity at or after
// since, in ascending order.
func (st *eventStore) ActiveActorsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := st.s.db.QueryContext(ctx, `
		SELECT DISTINCT actor_id FROM events WHERE occurred_at >= ? ORDER BY actor_id`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan actor id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetActor returns the actor, or event.ErrActorNotFound.
func (st *eventStore) GetActor(ctx context.Context, actorID string) (*event.Actor, error) {
	row := st.s.db.QueryRowContext(ctx, `
		SELECT actor_id, display_name, actor_type, first_seen, last_seen, current_risk_score
		FROM actors WHERE actor_id = ?`, actorID)

	var (
		a                   event.Actor
		firstSeen, lastSeen string
	)
	err := row.Scan(&a.ActorID, &a.DisplayName, &a.ActorType, &firstSeen, &lastSeen, &a.CurrentRiskScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, event.ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan actor: %w", err)
	}
	a.FirstSeen = parseTime(firstSeen)
	a.LastSeen = parseTime(lastSeen)
	return &a, nil
}

// UpdateActorScore sets the actor's current risk score and advances LastSeen
// if lastSeen is later than the stored value.
func (st *eventStore) UpdateActorScore(ctx context.Context, actorID string, score int, lastSeen time.Time) error {
	res, err := st.s.db.ExecContext(ctx, `
		UPDATE actors
		SET current_risk_score = ?, last_seen = MAX(last_seen, ?)
		WHERE actor_id = ?`,
		score, formatTime(lastSeen), actorID)
	if err != nil {
		return fmt.Errorf("failed to update actor score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return event.ErrActorNotFound
	}
	return nil
}

// DeleteEventsBefore deletes (or, with dryRun, counts) the source's events
// with OccurredAt strictly before cutoff.
func (st *eventStore) DeleteEventsBefore(ctx context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := st.s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM events WHERE source_id = ? AND occurred_at < ?`,
			sourceID, formatTime(cutoff)).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count expired events: %w", err)
		}
		return n, nil
	}
	res, err := st.s.db.ExecContext(ctx, `
		DELETE FROM events WHERE source_id = ? AND occurred_at < ?`,
		sourceID, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOrphanEventsBefore deletes (or counts) events whose source is no
// longer registered and whose OccurredAt is strictly before cutoff.
func (st *eventStore) DeleteOrphanEventsBefore(ctx context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error) {
	where := `occurred_at < ?`
	args := []any{formatTime(cutoff)}
	if len(knownSourceIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(knownSourceIDs)), ",")
		where += ` AND source_id NOT IN (` + placeholders + `)`
		for _, id := range knownSourceIDs {
			args = append(args, id)
		}
	}

	if dryRun {
		var n int64
		err := st.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE `+where, args...).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count orphan events: %w", err)
		}
		return n, nil
	}
	res, err := st.s.db.ExecContext(ctx, `DELETE FROM events WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		ev                       event.Event
		occurredAt, ingestedAt   string
		resourceType, resourceID sql.NullString
		ip, userAgent, meta      sql.NullString
		bytes                    sql.NullInt64
	)
	err := row.Scan(&ev.ID, &occurredAt, &ingestedAt, &ev.ActorID, &ev.ActorType,
		&ev.SourceID, &ev.ActionType, &resourceType, &resourceID, &ev.Outcome,
		&ip, &userAgent, &bytes, &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	ev.OccurredAt = parseTime(occurredAt)
	ev.IngestedAt = parseTime(ingestedAt)
	ev.ResourceType = resourceType.String
	ev.ResourceID = resourceID.String
	ev.IP = ip.String
	ev.UserAgent = userAgent.String
	if bytes.Valid {
		b := bytes.Int64
		ev.Bytes = &b
	}
	if err := unmarshalJSON(meta, &ev.Metadata); err != nil {
		return nil, err
	}
	return &ev, nil
}

func metaOrNil(m event.Metadata) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
