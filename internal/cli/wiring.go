package cli

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/blackboards/internal/config"
	"github.com/Shivanand-hulikatti/blackboards/internal/database"
	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/notify"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
)

// openStore connects to the configured backend and makes sure the schema exists.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)
		return repository.NewPostgresStore(pool), nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("opened sqlite database", "path", cfg.SQLitePath)
		return repository.NewSQLiteStore(db), nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

// smtpSender builds the relay sender used by both serve and mailer.
func smtpSender(cfg *config.Config) (*notify.SMTPSender, error) {
	return notify.NewSMTPSender(notify.SMTPConfig{
		Addr:     cfg.SMTPAddr(),
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func kafkaConfig(cfg *config.Config) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	}
}

// buildNotifier returns the Notifier selected by NOTIFIER and a function
// releasing whatever it holds open.
func buildNotifier(cfg *config.Config, log *logger.Logger) (notify.Notifier, func() error, error) {
	renderer, err := notify.NewRenderer(cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }

	switch cfg.Notifier {
	case config.NotifierLog:
		return notify.NewDispatcher(renderer, notify.NewLogSender(log)), noop, nil
	case config.NotifierSMTP:
		sender, err := smtpSender(cfg)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewDispatcher(renderer, sender), noop, nil
	case config.NotifierKafka:
		sender, err := notify.NewKafkaSender(kafkaConfig(cfg), log)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewDispatcher(renderer, sender), sender.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported NOTIFIER %q", cfg.Notifier)
}
