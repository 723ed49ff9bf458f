package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/audit"
)

// auditStore implements audit.Store over the shared database.
type auditStore struct {
	s *Store
}

var _ audit.Store = (*auditStore)(nil)

// Audit returns the audit trail view of the store.
func (s *Store) Audit() audit.Store {
	return &auditStore{s: s}
}

// Insert appends a standalone audit record.
func (a *auditStore) Insert(ctx context.Context, rec *audit.Record) error {
	return a.s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAuditTx(ctx, tx, rec)
	})
}

// insertAuditTx validates and writes an audit record inside the caller's
// transaction so the record commits or rolls back with the mutation it
// describes.
func insertAuditTx(ctx context.Context, tx *sql.Tx, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", audit.ErrInvalidRecord)
	}

	before, err := marshalJSON(anyOrNil(rec.BeforeValue))
	if err != nil {
		return err
	}
	after, err := marshalJSON(anyOrNil(rec.AfterValue))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, before_value, after_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Action), string(rec.EntityType), rec.EntityID,
		before, after, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// anyOrNil maps a nil map onto an untyped nil so marshalJSON emits NULL
// instead of the JSON literal "null".
func anyOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// List returns the most recent audit records, newest first.
func (a *auditStore) List(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.s.db.QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, before_value, after_value, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec           audit.Record
			before, after sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &rec.EntityType, &rec.EntityID,
			&before, &after, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if err := unmarshalJSON(before, &rec.BeforeValue); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(after, &rec.AfterValue); err != nil {
			return nil, err
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
