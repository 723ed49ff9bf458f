package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/driftline/internal/domain/alerting"
	"github.com/driftline/driftline/internal/domain/scoring"
)

// alertStore implements alerting.Store over the shared database.
type alertStore struct {
	s *Store
}

var _ alerting.Store = (*alertStore)(nil)

// Alerts returns the alert view of the store.
func (s *Store) Alerts() alerting.Store {
	return &alertStore{s: s}
}

const alertColumns = `id, actor_id, score, severity, status, contributions, baseline_comparison, triggering_event_ids, created_at, updated_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at`

// Insert persists a new alert with its full evidentiary context.
func (st *alertStore) Insert(ctx context.Context, a *alerting.Alert) error {
	contribs := a.RuleContributions
	if contribs == nil {
		contribs = []scoring.Contribution{}
	}
	contributions, err := marshalJSON(contribs)
	if err != nil {
		return err
	}
	comparison, err := marshalJSON(a.BaselineComparison)
	if err != nil {
		return err
	}
	eventIDs, err := marshalJSON(emptySliceStr(a.TriggeringEventIDs))
	if err != nil {
		return err
	}

	_, err = st.s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ActorID, a.Score, string(a.Severity), string(a.Status),
		contributions, comparison, eventIDs,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		nullString(a.AcknowledgedBy), nullTime(a.AcknowledgedAt),
		nullString(a.ResolvedBy), nullTime(a.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Get returns the alert, or alerting.ErrNotFound.
func (st *alertStore) Get(ctx context.Context, id string) (*alerting.Alert, error) {
	row := st.s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)

	var (
		a                                alerting.Alert
		contributions, comparison        sql.NullString
		eventIDs                         sql.NullString
		createdAt, updatedAt             string
		ackBy, ackAt, resolvedBy, resAt  sql.NullString
	)
	err := row.Scan(&a.ID, &a.ActorID, &a.Score, &a.Severity, &a.Status,
		&contributions, &comparison, &eventIDs, &createdAt, &updatedAt,
		&ackBy, &ackAt, &resolvedBy, &resAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alerting.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	if err := unmarshalJSON(contributions, &a.RuleContributions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(comparison, &a.BaselineComparison); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(eventIDs, &a.TriggeringEventIDs); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.AcknowledgedBy = ackBy.String
	a.ResolvedBy = resolvedBy.String
	if ackAt.Valid {
		t := parseTime(ackAt.String)
		a.AcknowledgedAt = &t
	}
	if resAt.Valid {
		t := parseTime(resAt.String)
		a.ResolvedAt = &t
	}
	return &a, nil
}

// HasOpenAlertSince reports whether the actor has an open alert created at or
// after since. Used to deduplicate alerting passes.
func (st *alertStore) HasOpenAlertSince(ctx context.Context, actorID string, since time.Time) (bool, error) {
	var n int
	err := st.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE actor_id = ? AND status = ? AND created_at >= ?`,
		actorID, string(alerting.StatusOpen), formatTime(since)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check open alerts: %w", err)
	}
	return n > 0, nil
}

// Update persists status, timestamps, and triage identity changes. The
// evidentiary fields are immutable once the alert is created.
func (st *alertStore) Update(ctx context.Context, a *alerting.Alert) error {
	res, err := st.s.db.ExecContext(ctx, `
		UPDATE alerts
		SET status = ?, updated_at = ?, acknowledged_by = ?, acknowledged_at = ?,
		    resolved_by = ?, resolved_at = ?
		WHERE id = ?`,
		string(a.Status), formatTime(a.UpdatedAt),
		nullString(a.AcknowledgedBy), nullTime(a.AcknowledgedAt),
		nullString(a.ResolvedBy), nullTime(a.ResolvedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return alerting.ErrNotFound
	}
	return nil
}
