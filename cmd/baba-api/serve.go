package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/if929hong-bot/baba-taxi/internal/app"
	"github.com/if929hong-bot/baba-taxi/internal/infra"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	if migrateOnStart && cfg.Store == "postgres" {
		if err := infra.Migrate(cfg.DB.DSN, cfg.DB.Migrations); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("service close")
		}
	}()
	log.Info().Str("store", cfg.Store).Str("addr", cfg.HTTP.Addr).Msg("baba-api starting")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("baba-api stopped")
	return nil
}
