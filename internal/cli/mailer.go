package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/blackboards/internal/notify"
)

// NewMailerCommand creates the mailer command, which drains the Kafka email
// topic into the SMTP relay.
func NewMailerCommand(opts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "mailer",
		Short: "Deliver queued emails from Kafka over SMTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var sender notify.Sender = notify.NewLogSender(opts.log)
			if !dryRun {
				smtp, err := smtpSender(opts.cfg)
				if err != nil {
					return err
				}
				sender = smtp
			}

			consumer, err := notify.NewConsumer(kafkaConfig(opts.cfg), sender, opts.log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			opts.log.Info("mailer started", "topic", opts.cfg.KafkaTopic, "group", opts.cfg.KafkaGroupID, "dry_run", dryRun)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			opts.log.Info("mailer stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log emails instead of sending them")

	return cmd
}
