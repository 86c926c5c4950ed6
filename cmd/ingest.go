package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mosaichq/mosaic/internal/app"
	"github.com/mosaichq/mosaic/internal/config"
)

var ingestTags []string

var ingestCmd = &cobra.Command{
	Use:   "ingest <org-id> <file>...",
	Short: "Ingest documents into an organization's knowledge base",
	Long: `Reads each file, runs the full ingestion pipeline synchronously
(extract, classify, chunk, embed, index) and reports the outcome. Unlike
the HTTP upload endpoint, failures surface immediately on stderr.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tags", nil,
		"tags to attach to every ingested document")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, rawOrgID string, paths []string) error {
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return fmt.Errorf("invalid org ID %q: %w", rawOrgID, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var failed int
	for _, path := range paths {
		raw, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}

		doc, err := a.Pipeline.IngestSync(ctx, orgID, filepath.Base(path), raw, ingestTags)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s  %s  chunks=%d tokens=%d category=%s\n",
			doc.ID, doc.Title, doc.ChunkCount, doc.TokenCount, doc.Category)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}
