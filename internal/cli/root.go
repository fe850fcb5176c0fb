// Package cli wires configuration, storage and services into the
// blackboards command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/blackboards/internal/config"
	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
)

const serviceName = "blackboards"

// RootOptions carries state shared by every subcommand. cfg and log are
// populated before any subcommand runs.
type RootOptions struct {
	LogLevel string

	cfg *config.Config
	log *logger.Logger
}

// NewRootCommand creates the root command for the blackboards binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blackboards",
		Short: "Blackboards - session booking for the society",
		Long: `Blackboards books members onto society sessions with email verification,
and keeps the taskmaster leaderboard and ranked-choice elections.

Configuration is read from the environment (DB_DRIVER, NOTIFIER, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.cfg = cfg
			opts.log = logger.New(logger.Config{
				Level:   cfg.LogLevel,
				Format:  cfg.LogFormat,
				Service: serviceName,
			})
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewMailerCommand(opts))

	return cmd
}
