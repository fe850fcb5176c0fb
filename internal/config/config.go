// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	NotifierLog   = "log"
	NotifierSMTP  = "smtp"
	NotifierKafka = "kafka"
)

// Config holds every setting the binaries read at startup.
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"blackboards"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"blackboards.db"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	Notifier     string   `env:"NOTIFIER" envDefault:"log"`
	SMTPHost     string   `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int      `env:"SMTP_PORT" envDefault:"25"`
	SMTPUsername string   `env:"SMTP_USERNAME"`
	SMTPPassword string   `env:"SMTP_PASSWORD"`
	SMTPFrom     string   `env:"SMTP_FROM" envDefault:"blackboards@localhost"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"blackboards.emails"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"blackboards-mailer"`

	OTelEndpoint   string `env:"OTEL_ENDPOINT"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, b := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(b)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be between 1 and 65535, got: %s", c.Port))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("BASE_URL must be an absolute URL, got: %s", c.BaseURL))
	}

	switch c.DBDriver {
	case DriverPostgres:
		if c.DBHost == "" || c.DBName == "" {
			problems = append(problems, "DB_HOST and DB_NAME are required for the postgres driver")
		}
		if c.DBMaxConns <= 0 {
			problems = append(problems, fmt.Sprintf("DB_MAX_CONNS must be positive, got: %d", c.DBMaxConns))
		}
		if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			problems = append(problems, fmt.Sprintf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got: %d", c.DBMinConns))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			problems = append(problems, "SQLITE_PATH is required for the sqlite driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER must be one of [postgres, sqlite], got: %s", c.DBDriver))
	}

	for name, d := range map[string]time.Duration{
		"HTTP_READ_TIMEOUT":  c.ReadTimeout,
		"HTTP_WRITE_TIMEOUT": c.WriteTimeout,
		"HTTP_IDLE_TIMEOUT":  c.IdleTimeout,
		"SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
		"SWEEP_INTERVAL":     c.SweepInterval,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got: %s", name, d))
		}
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			problems = append(problems, "SMTP_HOST and SMTP_FROM are required for the smtp notifier")
		}
	case NotifierKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaBrokers[0] == "" {
			problems = append(problems, "KAFKA_BROKERS is required for the kafka notifier")
		}
		if c.KafkaTopic == "" {
			problems = append(problems, "KAFKA_TOPIC is required for the kafka notifier")
		}
	default:
		problems = append(problems, fmt.Sprintf("NOTIFIER must be one of [log, smtp, kafka], got: %s", c.Notifier))
	}

	if len(problems) == 0 {
		return nil
	}
	msg := "configuration validation failed:\n"
	for i, p := range problems {
		msg += fmt.Sprintf("  %d. %s\n", i+1, p)
	}
	return fmt.Errorf("%s", msg)
}

// DSN builds a libpq-compatible connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// SMTPAddr returns host:port for the mail relay.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// LogValues returns the configuration as slog key/value pairs with secrets redacted.
func (c *Config) LogValues() []any {
	return []any{
		"port", c.Port,
		"base_url", c.BaseURL,
		"log_level", c.LogLevel,
		"db_driver", c.DBDriver,
		"db_host", c.DBHost,
		"db_name", c.DBName,
		"db_password_set", c.DBPassword != "",
		"sqlite_path", c.SQLitePath,
		"sweep_interval", c.SweepInterval,
		"notifier", c.Notifier,
		"smtp_addr", c.SMTPAddr(),
		"smtp_password_set", c.SMTPPassword != "",
		"kafka_brokers", c.KafkaBrokers,
		"kafka_topic", c.KafkaTopic,
		"otel_enabled", c.OTelEndpoint != "",
		"metrics_enabled", c.MetricsEnabled,
	}
}
