// Package cmd implements the mosaic command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaichq/mosaic/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Mosaic - knowledge and member-matching platform",
	Long: `Mosaic ingests an organization's documents into a searchable knowledge
base, onboards members through an adaptive questionnaire, and computes
compatibility matches between member profiles.

Run 'mosaic serve' to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. MOSAIC_LOG_LEVEL=debug enables debug
// output; MOSAIC_LOG_FORMAT=json switches to JSON for log aggregation.
func newLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("MOSAIC_LOG_LEVEL") == "debug" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("MOSAIC_LOG_FORMAT") == "json" {
		cfg.JSON = true
	}
	return log.New(cfg)
}
