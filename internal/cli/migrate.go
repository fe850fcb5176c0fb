package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies the idempotent schema for either driver.
			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			store.Close()
			opts.log.Info("schema applied", "driver", opts.cfg.DBDriver)
			return nil
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete pending requests for sessions that have started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			booking, err := newOfflineBooking(store, opts)
			if err != nil {
				return err
			}
			n, err := booking.SweepStartedRequests(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d pending request(s)\n", n)
			return nil
		},
	}
}
