package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/jobsync/internal/api"
	"github.com/dunamismax/jobsync/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for local development",
	Long:  "Issue an HS256 bearer token signed with JWT_SECRET. The marketplace must share the secret for the token to be forwarded.",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var tokenTTL time.Duration

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if len(cfg.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}

	token, err := api.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(args[0], tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
