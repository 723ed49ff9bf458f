package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/source"
)

// sourceStore implements source.Store over the shared database.
type sourceStore struct {
	s *Store
}

var _ source.Store = (*sourceStore)(nil)

// Sources returns the source registry view of the store.
func (s *Store) Sources() source.Store {
	return &sourceStore{s: s}
}

const sourceColumns = `id, key, name, description, api_key_hash, enabled, redact_resource_id, retention_days, rate_limit, created_at, updated_at`

// Create inserts the source and its audit record atomically.
func (st *sourceStore) Create(ctx context.Context, src *source.Source, rec *audit.Record) error {
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sources (`+sourceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			src.ID, src.Key, src.Name, src.Description, src.APIKeyHash,
			boolToInt(src.Enabled), boolToInt(src.RedactResourceID),
			src.RetentionDays, src.RateLimit,
			formatTime(src.CreatedAt), formatTime(src.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return source.ErrDuplicateKey
			}
			return fmt.Errorf("failed to insert source: %w", err)
		}
		return insertAuditTx(ctx, tx, rec)
	})
}

// Update persists the source's mutable fields and the audit record atomically.
func (st *sourceStore) Update(ctx context.Context, src *source.Source, rec *audit.Record) error {
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sources
			SET name = ?, description = ?, enabled = ?, redact_resource_id = ?,
			    retention_days = ?, rate_limit = ?, updated_at = ?
			WHERE id = ?`,
			src.Name, src.Description, boolToInt(src.Enabled), boolToInt(src.RedactResourceID),
			src.RetentionDays, src.RateLimit, formatTime(src.UpdatedAt), src.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update source: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return source.ErrNotFound
		}
		return insertAuditTx(ctx, tx, rec)
	})
}

// RotateKey replaces the stored credential hash and writes the audit record
// atomically. Returns the source as it stands after the rotation.
func (st *sourceStore) RotateKey(ctx context.Context, id, newHash string, rec *audit.Record) (*source.Source, error) {
	var rotated *source.Source
	err := st.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sources SET api_key_hash = ?, updated_at = ? WHERE id = ?`,
			newHash, formatTime(rec.CreatedAt), id,
		)
		if err != nil {
			return fmt.Errorf("failed to rotate source key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return source.ErrNotFound
		}
		if err := insertAuditTx(ctx, tx, rec); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
		rotated, err = scanSource(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rotated, nil
}

// GetByID returns the source, or source.ErrNotFound.
func (st *sourceStore) GetByID(ctx context.Context, id string) (*source.Source, error) {
	row := st.s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// GetByKey returns the source with the given short key, or source.ErrNotFound.
func (st *sourceStore) GetByKey(ctx context.Context, key string) (*source.Source, error) {
	row := st.s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE key = ?`, key)
	return scanSource(row)
}

// List returns all sources ordered by creation time.
func (st *sourceStore) List(ctx context.Context) ([]source.Source, error) {
	rows, err := st.s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []source.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*source.Source, error) {
	var (
		src                  source.Source
		enabled, redact      int
		createdAt, updatedAt string
	)
	err := row.Scan(&src.ID, &src.Key, &src.Name, &src.Description, &src.APIKeyHash,
		&enabled, &redact, &src.RetentionDays, &src.RateLimit, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, source.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	src.Enabled = enabled != 0
	src.RedactResourceID = redact != 0
	src.CreatedAt = parseTime(createdAt)
	src.UpdatedAt = parseTime(updatedAt)
	return &src, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
// The driver exposes no typed error, so match on the stable message prefix.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
