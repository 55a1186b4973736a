package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mentormatrix/internal/config"
	"mentormatrix/internal/logging"
)

// cli carries what PersistentPreRunE resolved to the subcommands.
type cli struct {
	configPath string
	envFile    string
	config     *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "mentormatrix",
		Short: "MentorMatrix real-time chat server",
		Long: `MentorMatrix serves project chat rooms over websockets and REST.

Configuration is read from defaults, then MENTORMATRIX_* environment
variables (a .env file is loaded first when present), then the JSON file
named by --config or MENTORMATRIX_CONFIG_FILE.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.config = cfg
			c.logger = logging.Setup(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a JSON config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		newServeCommand(c),
		newMigrateCommand(c),
		newTokenCommand(c),
		newSeedCommand(c),
		newVersionCommand(),
	)
	return root
}

var version = "dev" // set with -ldflags "-X main.version=..."

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// version needs no config
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mentormatrix %s\n", version)
		},
	}
}
