package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rpattn/cdranalytics/internal/ingestion"

	"github.com/spf13/cobra"
)

var ingestBatchSize int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a CDR file from disk and print the summary",
	Long: `Ingest reads a comma-delimited (or .xlsx) CDR file, persists every valid
row and prints the ingestion summary as JSON. Rejected rows are logged and
counted; they do not fail the command.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", -1, "flush every N accepted rows (overrides ingestion.batch_size)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestBatchSize >= 0 {
		cfg.Ingestion.BatchSize = ingestBatchSize
	}

	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		_ = file.Close()
		return err
	}
	defer a.Close()

	summary, err := a.ingest.Ingest(cmd.Context(), ingestion.Request{
		FileName: filepath.Base(path),
		Data:     file,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
