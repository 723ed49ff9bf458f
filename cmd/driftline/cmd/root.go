// Package cmd provides the CLI commands for driftline.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "driftline",
	Short: "Driftline - insider-risk telemetry pipeline",
	Long: `Driftline ingests security telemetry from registered sources, learns
per-actor behavioral baselines, scores recent activity against them, and
raises alerts when risk crosses the configured threshold.

Quick start:
  1. Create a config file: driftline.yaml
  2. Register a source: driftline source create --key laptop-agents --name "Laptop agents"
  3. Run: driftline serve

Configuration:
  Config is loaded from driftline.yaml in the current directory,
  $HOME/.driftline/, or /etc/driftline/.

  Environment variables can override config values with the DRIFTLINE_ prefix.
  Example: DRIFTLINE_SERVER_ADDR=:9090

Commands:
  serve       Start the ingest server and background pipeline
  source      Manage ingestion sources and their API keys
  retention   Run a retention pass against the event store
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./driftline.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
