package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, standard locations are searched for
// driftline.yaml/.yml; the search requires an explicit YAML extension so the
// binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("driftline")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DRIFTLINE_SERVER_ADDR and so on.
	viper.SetEnvPrefix("DRIFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches standard locations for a driftline config file with
// an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".driftline"),
		"/etc/driftline",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "driftline"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key for environment override. The scheduler
// and pipeline keys additionally accept their historical bare names so
// existing deployments keep working unchanged.
func bindEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("scheduler.baseline_interval_ms",
		"DRIFTLINE_SCHEDULER_BASELINE_INTERVAL_MS", "BASELINE_INTERVAL_MS")
	_ = viper.BindEnv("scheduler.scoring_interval_ms",
		"DRIFTLINE_SCHEDULER_SCORING_INTERVAL_MS", "SCORING_INTERVAL_MS")
	_ = viper.BindEnv("scheduler.retention_interval_ms",
		"DRIFTLINE_SCHEDULER_RETENTION_INTERVAL_MS", "RETENTION_INTERVAL_MS")
	_ = viper.BindEnv("scoring.window_minutes",
		"DRIFTLINE_SCORING_WINDOW_MINUTES", "SCORING_WINDOW_MINUTES")
	_ = viper.BindEnv("alerting.threshold",
		"DRIFTLINE_ALERTING_THRESHOLD", "ALERT_THRESHOLD")
	_ = viper.BindEnv("alerting.dedup_window_minutes")
	_ = viper.BindEnv("retention.default_days",
		"DRIFTLINE_RETENTION_DEFAULT_DAYS", "DEFAULT_RETENTION_DAYS")

	_ = viper.BindEnv("telemetry.enabled")
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults cover everything.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or the
// empty string in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
