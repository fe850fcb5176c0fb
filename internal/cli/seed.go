package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/notify"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
	"github.com/Shivanand-hulikatti/blackboards/internal/service"
)

// SeedFile is the YAML document read by the seed command.
type SeedFile struct {
	Sessions []model.CreateSessionRequest `yaml:"sessions"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sessions listed in a YAML file",
		Long: `Create every session listed in a YAML file.

Example file:
  sessions:
    - title: Intro to Go
      start_time: 2026-11-02T18:30:00Z
      capacity: 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeedFile(file)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			booking, err := newOfflineBooking(store, opts)
			if err != nil {
				return err
			}
			for i, req := range seed.Sessions {
				session, err := booking.CreateSession(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("session %d (%q): %w", i+1, req.Title, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created session %d: %s\n", session.ID, session.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the sessions YAML file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadSeedFile(path string) (SeedFile, error) {
	var seed SeedFile
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse seed file: %w", err)
	}
	if len(seed.Sessions) == 0 {
		return seed, fmt.Errorf("seed file %s lists no sessions", path)
	}
	return seed, nil
}

// newOfflineBooking builds a BookingService for one-shot commands. Any
// email it would send is only logged.
func newOfflineBooking(store repository.Store, opts *RootOptions) (*service.BookingService, error) {
	renderer, err := notify.NewRenderer(opts.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewDispatcher(renderer, notify.NewLogSender(opts.log))
	return service.NewBookingService(store, notifier, opts.log), nil
}
