package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/adapter/outbound/sqlite"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/domain/source"
	"github.com/driftline/driftline/internal/service"
)

var (
	adminID           string
	sourceKey         string
	sourceName        string
	sourceDescription string
	sourceRedact      bool
	sourceRetention   int
	sourceRateLimit   int
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage ingestion sources and their API keys",
	Long: `Manage the sources that are allowed to post telemetry.

Every source carries its own API key, rate limit, and retention period.
Mutations are written to the audit log under the identity given by --admin.`,
}

var sourceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new source",
	Long: `Register a new ingestion source and print its API key.

The plaintext API key is printed exactly once and never stored; only its
hash is kept. Use "driftline source rotate" if the key is lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(registry *service.SourceRegistry) error {
			src, plaintext, err := registry.Create(cmd.Context(), adminID, service.CreateSourceInput{
				Key:              sourceKey,
				Name:             sourceName,
				Description:      sourceDescription,
				RedactResourceID: sourceRedact,
				RetentionDays:    sourceRetention,
				RateLimit:        sourceRateLimit,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Source created: %s (%s)\n", src.Key, src.ID)
			fmt.Printf("API key (shown once, store it now): %s\n", plaintext)
			return nil
		})
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(registry *service.SourceRegistry) error {
			sources, err := registry.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tNAME\tENABLED\tRETENTION\tRATE LIMIT\tCREATED")
			for _, src := range sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%dd\t%d/min\t%s\n",
					src.ID, src.Key, src.Name, src.Enabled,
					src.RetentionDays, src.RateLimit,
					src.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		})
	},
}

var sourceRotateCmd = &cobra.Command{
	Use:   "rotate <source-id>",
	Short: "Rotate a source's API key",
	Long: `Generate a new API key for the source and print it.

The old key stops working the moment the rotation commits. The new
plaintext is printed exactly once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(registry *service.SourceRegistry) error {
			src, plaintext, err := registry.RotateAPIKey(cmd.Context(), adminID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("API key rotated for %s (%s)\n", src.Key, src.ID)
			fmt.Printf("New API key (shown once, store it now): %s\n", plaintext)
			return nil
		})
	},
}

var sourceEnableCmd = &cobra.Command{
	Use:   "enable <source-id>",
	Short: "Enable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(cmd, args[0], true)
	},
}

var sourceDisableCmd = &cobra.Command{
	Use:   "disable <source-id>",
	Short: "Disable a source",
	Long: `Disable a source. Ingest requests with its key are rejected with 401
until it is re-enabled; the key itself is untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(cmd, args[0], false)
	},
}

func setSourceEnabled(cmd *cobra.Command, id string, enabled bool) error {
	return withRegistry(func(registry *service.SourceRegistry) error {
		src, err := registry.Update(cmd.Context(), adminID, id, source.Patch{Enabled: &enabled})
		if err != nil {
			return err
		}
		state := "disabled"
		if src.Enabled {
			state = "enabled"
		}
		fmt.Printf("Source %s (%s) is now %s\n", src.Key, src.ID, state)
		return nil
	})
}

// withRegistry opens the store from config, runs fn against a source
// registry, and closes the store.
func withRegistry(fn func(*service.SourceRegistry) error) error {
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

	auditor := service.NewAuditRecorder(store.Audit(), logger)
	return fn(service.NewSourceRegistry(store.Sources(), auditor, logger))
}

func init() {
	sourceCmd.PersistentFlags().StringVar(&adminID, "admin", "cli", "admin identity recorded in the audit log")

	sourceCreateCmd.Flags().StringVar(&sourceKey, "key", "", "unique source key used in the ingest URL (required)")
	sourceCreateCmd.Flags().StringVar(&sourceName, "name", "", "human-readable name (required)")
	sourceCreateCmd.Flags().StringVar(&sourceDescription, "description", "", "free-form description")
	sourceCreateCmd.Flags().BoolVar(&sourceRedact, "redact-resource-id", false, "hash resource IDs at ingest")
	sourceCreateCmd.Flags().IntVar(&sourceRetention, "retention-days", 0, "event retention in days (0 = default)")
	sourceCreateCmd.Flags().IntVar(&sourceRateLimit, "rate-limit", 0, "requests per minute (0 = default)")
	_ = sourceCreateCmd.MarkFlagRequired("key")
	_ = sourceCreateCmd.MarkFlagRequired("name")

	sourceCmd.AddCommand(sourceCreateCmd, sourceListCmd, sourceRotateCmd, sourceEnableCmd, sourceDisableCmd)
	rootCmd.AddCommand(sourceCmd)
}
