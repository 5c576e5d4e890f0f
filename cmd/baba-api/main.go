// README: Entry point; baba-api CLI with serve, migrate and token commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/if929hong-bot/baba-taxi/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "baba-api",
	Short:         "Taxi dispatch and live-tracking API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file (optional)")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
