package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/scoring"
)

const ruleColumns = `id, rule_key, name, description, enabled, weight, threshold, window_minutes, config`

// ListRules returns all rules in definition order.
func (st *scoringStore) ListRules(ctx context.Context) ([]scoring.Rule, error) {
	rows, err := st.s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM scoring_rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scoring rules: %w", err)
	}
	defer rows.Close()

	var out []scoring.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRule updates a rule's mutable fields and writes the audit record in
// the same transaction. The rule key is immutable.
func (st *scoringStore) UpdateRule(ctx context.Context, r *scoring.Rule, rec *audit.Record) error {
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		config, err := marshalJSON(anyOrNil(r.Config))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE scoring_rules
			SET name = ?, description = ?, enabled = ?, weight = ?, threshold = ?,
			    window_minutes = ?, config = ?
			WHERE id = ?`,
			r.Name, r.Description, boolToInt(r.Enabled), r.Weight, r.Threshold,
			r.WindowMinutes, config, r.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update scoring rule: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return scoring.ErrRuleNotFound
		}
		return insertAuditTx(ctx, tx, rec)
	})
}

// SeedRules inserts the given rules if their keys are not present. Existing
// rules are never overwritten, so operator edits survive restarts.
func (st *scoringStore) SeedRules(ctx context.Context, rules []scoring.Rule) error {
	return st.s.withTx(ctx, func(tx *sql.Tx) error {
		for i, r := range rules {
			config, err := marshalJSON(anyOrNil(r.Config))
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO scoring_rules (`+ruleColumns+`, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(rule_key) DO NOTHING`,
				r.ID, string(r.RuleKey), r.Name, r.Description, boolToInt(r.Enabled),
				r.Weight, r.Threshold, r.WindowMinutes, config, i,
			)
			if err != nil {
				return fmt.Errorf("failed to seed scoring rule %q: %w", r.RuleKey, err)
			}
		}
		return nil
	})
}

func scanRule(row rowScanner) (*scoring.Rule, error) {
	var (
		r       scoring.Rule
		enabled int
		config  sql.NullString
	)
	err := row.Scan(&r.ID, &r.RuleKey, &r.Name, &r.Description, &enabled,
		&r.Weight, &r.Threshold, &r.WindowMinutes, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scoring rule: %w", err)
	}
	r.Enabled = enabled != 0
	if err := unmarshalJSON(config, &r.Config); err != nil {
		return nil, err
	}
	return &r, nil
}
