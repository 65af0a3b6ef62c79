package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"MATRIX_ADDR", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "MATRIX_WIDTH", "MATRIX_ORPHAN_POLICY"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 2, cfg.Matrix.Width)
	assert.Equal(t, OrphanPolicyRoot, cfg.Matrix.OrphanPolicy)
	assert.Equal(t, 8, cfg.Matrix.MaxAttempts)
	assert.Equal(t, 600, cfg.Server.WriteRateLimit)
	assert.Equal(t, time.Minute, cfg.Server.WriteRateWindow)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MATRIX_WIDTH", "3")
	t.Setenv("MATRIX_ORPHAN_POLICY", "REJECT")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("MATRIX_COUNT_CACHE_TTL", "90s")

	cfg := FromEnv()

	assert.Equal(t, 3, cfg.Matrix.Width)
	assert.Equal(t, OrphanPolicyReject, cfg.Matrix.OrphanPolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Matrix.CountCacheTTL)
}

func TestFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MATRIX_WIDTH", "-1")
	t.Setenv("MATRIX_MAX_PLACEMENT_ATTEMPTS", "many")

	cfg := FromEnv()

	assert.Equal(t, 2, cfg.Matrix.Width)
	assert.Equal(t, 8, cfg.Matrix.MaxAttempts)
}
