// Package config provides configuration types and loading for driftline.
package config

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Scheduler configures the background job intervals.
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`

	// Scoring configures the scoring pass.
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`

	// Alerting configures the alert threshold and deduplication.
	Alerting AlertingConfig `yaml:"alerting" mapstructure:"alerting"`

	// Retention configures the fallback retention for the orphan sweep.
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`

	// Telemetry configures tracing output.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address. Default "127.0.0.1:8080".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file path; ":memory:" keeps everything in RAM.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// SchedulerConfig holds the background job tick intervals in milliseconds.
type SchedulerConfig struct {
	BaselineIntervalMS  int `yaml:"baseline_interval_ms" mapstructure:"baseline_interval_ms" validate:"gt=0"`
	ScoringIntervalMS   int `yaml:"scoring_interval_ms" mapstructure:"scoring_interval_ms" validate:"gt=0"`
	RetentionIntervalMS int `yaml:"retention_interval_ms" mapstructure:"retention_interval_ms" validate:"gt=0"`
}

// ScoringConfig configures the scoring pass.
type ScoringConfig struct {
	// WindowMinutes is the lookback for selecting actors to score.
	WindowMinutes int `yaml:"window_minutes" mapstructure:"window_minutes" validate:"gt=0"`
}

// AlertingConfig configures the alert gate.
type AlertingConfig struct {
	// Threshold is the minimum total score that raises an alert.
	Threshold int `yaml:"threshold" mapstructure:"threshold" validate:"gt=0,lte=100"`
	// DedupWindowMinutes is how long an open alert suppresses new alerts for
	// the same actor.
	DedupWindowMinutes int `yaml:"dedup_window_minutes" mapstructure:"dedup_window_minutes" validate:"gt=0"`
}

// RetentionConfig configures the fallback event retention.
type RetentionConfig struct {
	// DefaultDays applies to the orphan sweep and to sources without their
	// own retention.
	DefaultDays int `yaml:"default_days" mapstructure:"default_days" validate:"gt=0"`
}

// TelemetryConfig configures tracing output.
type TelemetryConfig struct {
	// Enabled turns on stdout span export.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults fills in defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "driftline.db"
	}
	if c.Scheduler.BaselineIntervalMS == 0 {
		c.Scheduler.BaselineIntervalMS = 300_000
	}
	if c.Scheduler.ScoringIntervalMS == 0 {
		c.Scheduler.ScoringIntervalMS = 300_000
	}
	if c.Scheduler.RetentionIntervalMS == 0 {
		c.Scheduler.RetentionIntervalMS = 86_400_000
	}
	if c.Scoring.WindowMinutes == 0 {
		c.Scoring.WindowMinutes = 60
	}
	if c.Alerting.Threshold == 0 {
		c.Alerting.Threshold = 60
	}
	if c.Alerting.DedupWindowMinutes == 0 {
		c.Alerting.DedupWindowMinutes = 60
	}
	if c.Retention.DefaultDays == 0 {
		c.Retention.DefaultDays = 90
	}
}
