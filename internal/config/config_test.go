package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, "kafka-go", cfg.KafkaDriver)
	assert.Equal(t, []string{"order-events", "order-analytics"}, cfg.Topics())
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, "strict", cfg.TransitionPolicy)
	assert.Equal(t, 3, cfg.OrderNumberAttempts)
}

func TestLoadConfigRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("OUTBOX_BATCH_SIZE", "-3")
	t.Setenv("KAFKA_DRIVER", "sarama")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorContains(t, err, "OUTBOX_BATCH_SIZE")
	assert.ErrorContains(t, err, "KAFKA_DRIVER")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	t.Setenv("KAFKA_DRIVER", "FRANZ")
	t.Setenv("ORDER_TRANSITION_POLICY", "permissive")
	t.Setenv("OUTBOX_POLL_INTERVAL_MS", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "franz", cfg.KafkaDriver)
	assert.Equal(t, "permissive", cfg.TransitionPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
}
