package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/blackboards/internal/service"
)

// NewLeaderboardCommand creates the leaderboard command group.
func NewLeaderboardCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Manage the taskmaster leaderboard",
	}
	cmd.AddCommand(newLeaderboardImportCommand(opts))
	return cmd
}

func newLeaderboardImportCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the leaderboard with a name,score CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open leaderboard file: %w", err)
			}
			defer f.Close()

			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := service.NewLeaderboardService(store, opts.log).Replace(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d leaderboard entries\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the CSV file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
