package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, NotifierLog, cfg.Notifier)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=blackboards sslmode=disable", cfg.DSN())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://sessions.example.org/")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/bb.db")
	t.Setenv("NOTIFIER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://sessions.example.org", cfg.BaseURL)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	t.Setenv("PORT", "70000")
	t.Setenv("DB_DRIVER", "oracle")
	t.Setenv("NOTIFIER", "pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be between 1 and 65535")
	assert.Contains(t, err.Error(), "DB_DRIVER must be one of")
	assert.Contains(t, err.Error(), "NOTIFIER must be one of")
}

func TestLogValues_RedactsSecrets(t *testing.T) {
	cfg := &Config{DBPassword: "hunter2", SMTPPassword: "s3cret", SMTPHost: "mail", SMTPPort: 587}

	for _, v := range cfg.LogValues() {
		if s, ok := v.(string); ok {
			assert.NotEqual(t, "hunter2", s)
			assert.NotEqual(t, "s3cret", s)
		}
	}
}
