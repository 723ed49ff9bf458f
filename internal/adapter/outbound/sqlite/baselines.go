package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/driftline/internal/domain/baseline"
)

// baselineStore implements baseline.Store over the shared database.
type baselineStore struct {
	s *Store
}

var _ baseline.Store = (*baselineStore)(nil)

// Baselines returns the baseline view of the store.
func (s *Store) Baselines() baseline.Store {
	return &baselineStore{s: s}
}

// Insert appends a new baseline record. Baselines are append-only and never
// touched by retention.
func (st *baselineStore) Insert(ctx context.Context, b *baseline.Baseline) error {
	hours, err := marshalJSON(emptySliceInt(b.TypicalActiveHours))
	if err != nil {
		return err
	}
	ips, err := marshalJSON(emptySliceStr(b.KnownIPAddresses))
	if err != nil {
		return err
	}
	agents, err := marshalJSON(emptySliceStr(b.KnownUserAgents))
	if err != nil {
		return err
	}

	_, err = st.s.db.ExecContext(ctx, `
		INSERT INTO baselines (actor_id, computed_at, window_days, typical_hours, known_ips,
			known_user_agents, avg_bytes_per_day, avg_events_per_day, resource_scope,
			failure_rate, event_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ActorID, formatTime(b.ComputedAt), b.WindowDays, hours, ips, agents,
		b.AvgBytesPerDay, b.AvgEventsPerDay, b.TypicalResourceScope, b.NormalFailureRate,
		b.EventCount, nullTime(b.FirstSeen), nullTime(b.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("failed to insert baseline: %w", err)
	}
	return nil
}

// Latest returns the actor's most recently computed baseline, or nil if none
// exists.
func (st *baselineStore) Latest(ctx context.Context, actorID string) (*baseline.Baseline, error) {
	row := st.s.db.QueryRowContext(ctx, `
		SELECT actor_id, computed_at, window_days, typical_hours, known_ips, known_user_agents,
			avg_bytes_per_day, avg_events_per_day, resource_scope, failure_rate, event_count,
			first_seen, last_seen
		FROM baselines
		WHERE actor_id = ?
		ORDER BY computed_at DESC, id DESC
		LIMIT 1`, actorID)

	var (
		b                   baseline.Baseline
		computedAt          string
		hours, ips, agents  sql.NullString
		firstSeen, lastSeen sql.NullString
	)
	err := row.Scan(&b.ActorID, &computedAt, &b.WindowDays, &hours, &ips, &agents,
		&b.AvgBytesPerDay, &b.AvgEventsPerDay, &b.TypicalResourceScope, &b.NormalFailureRate,
		&b.EventCount, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan baseline: %w", err)
	}
	b.ComputedAt = parseTime(computedAt)
	if err := unmarshalJSON(hours, &b.TypicalActiveHours); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(ips, &b.KnownIPAddresses); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(agents, &b.KnownUserAgents); err != nil {
		return nil, err
	}
	if firstSeen.Valid {
		t := parseTime(firstSeen.String)
		b.FirstSeen = &t
	}
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		b.LastSeen = &t
	}
	return &b, nil
}

// Count returns the total number of baseline records.
func (st *baselineStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := st.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM baselines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count baselines: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// emptySliceInt keeps NOT NULL list columns as "[]" rather than NULL.
func emptySliceInt(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

func emptySliceStr(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
