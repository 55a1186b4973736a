package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mentormatrix/internal/middleware"
)

func newTokenCommand(c *cli) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = c.config.Auth.TokenTTL
			}
			token, err := middleware.NewTokenVerifier(c.config.Auth.JWTSecret, ttl).Issue(args[0])
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured TTL)")
	return cmd
}
