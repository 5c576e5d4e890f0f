package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
)

var downSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DB.DSN == "" {
			return errors.New("db.dsn is required")
		}
		return infra.Migrate(cfg.DB.DSN, cfg.DB.Migrations)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DB.DSN == "" {
			return errors.New("db.dsn is required")
		}
		return infra.MigrateDown(cfg.DB.DSN, cfg.DB.Migrations, downSteps)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back (0 rolls back all)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
