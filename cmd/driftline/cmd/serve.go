package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/adapter/inbound/http"
	"github.com/driftline/driftline/internal/adapter/outbound/cel"
	"github.com/driftline/driftline/internal/adapter/outbound/memory"
	"github.com/driftline/driftline/internal/adapter/outbound/sqlite"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/domain/alerting"
	"github.com/driftline/driftline/internal/service"
	"github.com/driftline/driftline/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingest server and background pipeline",
	Long: `Start the driftline HTTP server and the background jobs.

The server exposes the ingest endpoint, /healthz, and /metrics. Three jobs
run on their configured intervals: baseline computation, risk scoring, and
event retention. Baseline and scoring run once immediately at startup;
retention waits for its first interval.

Examples:
  # Start with config file settings
  driftline serve

  # Start with a specific config file
  driftline --config /path/to/driftline.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("configuration loaded", "file", file)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	shutdownTelemetry, err := telemetry.Setup("driftline", Version, cfg.Telemetry.Enabled)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	limiter := memory.NewRateLimiter()
	limiter.StartSweep(ctx)
	defer limiter.Stop()

	auditor := service.NewAuditRecorder(store.Audit(), logger)
	registry := service.NewSourceRegistry(store.Sources(), auditor, logger)
	ingestion := service.NewIngestionService(store.Events(), logger)
	baselines := service.NewBaselineService(store.Events(), store.Baselines(), logger)
	alerts := service.NewAlertingService(store.Alerts(),
		cfg.Alerting.Threshold,
		time.Duration(cfg.Alerting.DedupWindowMinutes)*time.Minute,
		logger)

	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to create filter compiler: %w", err)
	}
	scorer := service.NewScoringService(store.Events(), store.Scoring(), baselines, alerts, auditor, compiler.Compile, logger)
	if err := scorer.SeedDefaultRules(ctx); err != nil {
		return fmt.Errorf("failed to seed scoring rules: %w", err)
	}

	retention := service.NewRetentionService(store.Sources(), store.Events(), store.Baselines(), cfg.Retention.DefaultDays, logger)

	transport := http.NewTransport(registry, ingestion, limiter,
		http.WithAddr(cfg.Server.Addr),
		http.WithLogger(logger),
	)
	metrics := transport.Metrics()

	alerts.SetObserver(func(a *alerting.Alert) {
		metrics.AlertsCreated.WithLabelValues(string(a.Severity)).Inc()
	})

	scheduler := service.NewScheduler(logger, func(job, status string, d time.Duration) {
		metrics.JobRuns.WithLabelValues(job, status).Inc()
		metrics.JobDuration.WithLabelValues(job).Observe(d.Seconds())
	})
	scheduler.AddJob("baseline", time.Duration(cfg.Scheduler.BaselineIntervalMS)*time.Millisecond, true,
		func(ctx context.Context) error {
			_, err := baselines.ComputeAll(ctx, 0)
			return err
		})
	scheduler.AddJob("scoring", time.Duration(cfg.Scheduler.ScoringIntervalMS)*time.Millisecond, true,
		func(ctx context.Context) error {
			res, err := scorer.ScoreAll(ctx, cfg.Scoring.WindowMinutes)
			if err != nil {
				return err
			}
			metrics.ScoresComputed.Add(float64(res.Succeeded))
			return nil
		})
	scheduler.AddJob("retention", time.Duration(cfg.Scheduler.RetentionIntervalMS)*time.Millisecond, false,
		func(ctx context.Context) error {
			report, err := retention.Run(ctx, false)
			if err != nil {
				return err
			}
			metrics.RetentionDeleted.Add(float64(report.TotalEventsDeleted))
			return nil
		})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	transport.SetHealthChecker(http.NewHealthChecker(store, scheduler, Version))

	err = transport.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if terr := shutdownTelemetry(shutdownCtx); terr != nil {
		logger.Warn("telemetry shutdown failed", "error", terr)
	}
	return err
}

// parseLogLevel converts the configured log level name to a slog level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
