package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mentormatrix/internal/app"
	"mentormatrix/internal/config"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.Auth.JWTSecret == config.DefaultJWTSecret {
				c.logger.Warn("using the development JWT secret; set MENTORMATRIX_JWT_SECRET")
			}

			application, err := app.New(c.config, c.logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			ctx := cmd.Context()
			if err := application.Start(ctx); err != nil {
				_ = application.Stop(context.Background())
				return err
			}

			<-ctx.Done()
			c.logger.Info("shutdown requested")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.config.HTTP.ShutdownTimeout)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
}
