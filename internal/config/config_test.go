package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DAYTRADER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "fake", cfg.Quote.Mode)
	assert.Equal(t, 60*time.Second, cfg.Trading.ReservationTTL)
	assert.Equal(t, 5*time.Minute, cfg.Triggers.SweepInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
app:
  port: "9000"
  env: production
trading:
  reservation_ttl: 30s
kafka:
  brokers:
    - broker-a:9092
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("DAYTRADER_CONFIG", path)
	t.Setenv("DAYTRADER_APP_PORT", "9100")
	t.Setenv("DAYTRADER_KAFKA_BROKERS", "b1:9092,b2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.App.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.Trading.ReservationTTL)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "driver", key: "DAYTRADER_DATABASE_DRIVER", val: "mysql"},
		{name: "quote mode", key: "DAYTRADER_QUOTE_MODE", val: "carrier-pigeon"},
		{name: "ttl", key: "DAYTRADER_TRADING_RESERVATION_TTL", val: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DAYTRADER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
