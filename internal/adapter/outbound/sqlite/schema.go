package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations run in order inside one transaction. Statements must be
// idempotent: the schema is re-applied on every start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id                 TEXT PRIMARY KEY,
		key                TEXT NOT NULL UNIQUE,
		name               TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		api_key_hash       TEXT NOT NULL,
		enabled            INTEGER NOT NULL DEFAULT 1,
		redact_resource_id INTEGER NOT NULL DEFAULT 0,
		retention_days     INTEGER NOT NULL,
		rate_limit         INTEGER NOT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS actors (
		actor_id           TEXT PRIMARY KEY,
		display_name       TEXT NOT NULL DEFAULT '',
		actor_type         TEXT NOT NULL,
		first_seen         TEXT NOT NULL,
		last_seen          TEXT NOT NULL,
		current_risk_score INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id            TEXT PRIMARY KEY,
		occurred_at   TEXT NOT NULL,
		ingested_at   TEXT NOT NULL,
		actor_id      TEXT NOT NULL,
		actor_type    TEXT NOT NULL,
		source_id     TEXT NOT NULL,
		action_type   TEXT NOT NULL,
		resource_type TEXT,
		resource_id   TEXT,
		outcome       TEXT NOT NULL,
		ip            TEXT,
		user_agent    TEXT,
		bytes         INTEGER,
		metadata      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_actor_occurred ON events (actor_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_source_occurred ON events (source_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS baselines (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id         TEXT NOT NULL,
		computed_at      TEXT NOT NULL,
		window_days      INTEGER NOT NULL,
		typical_hours    TEXT NOT NULL,
		known_ips        TEXT NOT NULL,
		known_user_agents TEXT NOT NULL,
		avg_bytes_per_day  REAL NOT NULL,
		avg_events_per_day REAL NOT NULL,
		resource_scope   INTEGER NOT NULL,
		failure_rate     REAL NOT NULL,
		event_count      INTEGER NOT NULL,
		first_seen       TEXT,
		last_seen        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_baselines_actor_computed ON baselines (actor_id, computed_at)`,

	`CREATE TABLE IF NOT EXISTS risk_scores (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id             TEXT NOT NULL,
		total_score          INTEGER NOT NULL,
		computed_at          TEXT NOT NULL,
		contributions        TEXT NOT NULL,
		triggering_event_ids TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_scores_actor_computed ON risk_scores (actor_id, computed_at)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id                   TEXT PRIMARY KEY,
		actor_id             TEXT NOT NULL,
		score                INTEGER NOT NULL,
		severity             TEXT NOT NULL,
		status               TEXT NOT NULL,
		contributions        TEXT NOT NULL,
		baseline_comparison  TEXT NOT NULL,
		triggering_event_ids TEXT NOT NULL,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL,
		acknowledged_by      TEXT,
		acknowledged_at      TEXT,
		resolved_by          TEXT,
		resolved_at          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_actor_status_created ON alerts (actor_id, status, created_at)`,

	`CREATE TABLE IF NOT EXISTS scoring_rules (
		id             TEXT PRIMARY KEY,
		rule_key       TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		enabled        INTEGER NOT NULL DEFAULT 1,
		weight         INTEGER NOT NULL,
		threshold      REAL NOT NULL,
		window_minutes INTEGER NOT NULL,
		config         TEXT,
		position       INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		action       TEXT NOT NULL,
		entity_type  TEXT NOT NULL,
		entity_id    TEXT NOT NULL,
		before_value TEXT,
		after_value  TEXT,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs (created_at)`,
}

// migrate applies the schema.
func (s *Store) migrate(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", i, err)
			}
		}
		return nil
	})
}
