package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkj1313/LiveBoard/internal/auth"
	"github.com/lkj1313/LiveBoard/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token <userId> [nickname]",
	Short: "Issue a signed access token for local testing",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}

		nickname := args[0]
		if len(args) == 2 {
			nickname = args[1]
		}

		token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry).GenerateToken(args[0], nickname)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
