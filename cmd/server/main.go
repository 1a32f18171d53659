package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cdr-analytics",
	Short: "Call detail record ingestion and analytics",
	Long: `cdr-analytics ingests call detail record files into PostgreSQL and serves
aggregate queries over them.

Settings come from config.yaml (see --config) and CDR_* environment variables,
for example CDR_DATABASE_HOST or CDR_CACHE_BACKEND.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config file or directory containing config.yaml")
}
