package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/adapter/outbound/sqlite"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/service"
)

var retentionDryRun bool

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Run a retention pass against the event store",
	Long: `Run one retention pass: expire events past each source's retention
period, then sweep orphaned events whose source no longer exists.

Baselines are never deleted. With --dry-run the pass only counts what
would be removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))

		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		retention := service.NewRetentionService(store.Sources(), store.Events(), store.Baselines(), cfg.Retention.DefaultDays, logger)
		report, err := retention.Run(cmd.Context(), retentionDryRun)
		if err != nil {
			return err
		}

		verb := "deleted"
		if report.DryRun {
			verb = "would delete"
		}
		fmt.Printf("Retention pass %s %d events across %d sources\n",
			verb, report.TotalEventsDeleted, report.SourcesProcessed)
		for key, n := range report.DeletionsBySource {
			fmt.Printf("  %s: %d\n", key, n)
		}
		fmt.Printf("  orphaned: %d\n", report.OrphanedEventsDeleted)
		fmt.Printf("Baselines preserved: %d\n", report.BaselinesPreserved)
		if !report.Success {
			return fmt.Errorf("retention pass finished with errors: %s", report.Error)
		}
		return nil
	},
}

func init() {
	retentionCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "count expired events without deleting them")
	rootCmd.AddCommand(retentionCmd)
}
