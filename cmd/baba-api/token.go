package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var (
	tokenRole  string
	tokenID    string
	tokenFleet string
	tokenTTL   time.Duration
)

// tokenCmd mints a bearer token signed with auth.jwt_secret for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		role := infra.Role(tokenRole)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		if tokenID == "" {
			return fmt.Errorf("--id is required")
		}
		if (role == infra.RoleDriver || role == infra.RoleFleetAdmin) && tokenFleet == "" {
			return fmt.Errorf("--fleet is required for role %s", role)
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		raw, err := infra.IssueToken(cfg.Auth.JWTSecret, infra.Identity{
			Role:    role,
			ID:      types.ID(tokenID),
			FleetID: types.ID(tokenFleet),
		}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(infra.RolePassenger), "driver, passenger, fleet-admin or super-admin")
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "subject id")
	tokenCmd.Flags().StringVar(&tokenFleet, "fleet", "", "fleet id for drivers and fleet admins")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "lifetime; defaults to auth.token_ttl")
}
