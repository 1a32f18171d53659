package main

import (
	"github.com/rpattn/cdranalytics/internal/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return db.RunMigrations(cfg.Database.DB(), logger.Named("migrate"))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
