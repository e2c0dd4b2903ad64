package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3000, cfg.Queue.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Queue.ActivationInterval)
	assert.Equal(t, 30*time.Minute, cfg.Queue.ActiveWindow)
	assert.Equal(t, 5*time.Minute, cfg.Reservation.HoldWindow)
	assert.Equal(t, 15*time.Second, cfg.Reservation.SweepInterval)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "reservation.commands", cfg.Events.CommandsQueue)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DB_USER")
	assert.Contains(t, err.Error(), "DB_NAME")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("STORE_DRIVER", "postgres")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestQueueConfigClamps(t *testing.T) {
	t.Setenv("QUEUE_BATCH_SIZE", "0")
	t.Setenv("QUEUE_ACTIVATION_INTERVAL", "bogus")
	t.Setenv("QUEUE_MAX_ACTIVE", "-4")

	q := LoadQueueConfig()
	assert.Equal(t, 1, q.BatchSize)
	assert.Equal(t, 10*time.Second, q.ActivationInterval)
	assert.Equal(t, 0, q.MaxActive)
}

func TestRedisConfigHostPortWins(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("REDIS_TLS", "1")

	rc := LoadRedisConfig()
	assert.Equal(t, "redis:6379", rc.Addr)
	assert.True(t, rc.TLS)
}
