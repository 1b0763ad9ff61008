package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "postgres", cfg.StorageBackend)
	assert.Equal(t, 10*time.Second, cfg.CodeInterval)
	assert.Equal(t, time.Second, cfg.RotationTick)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("CODE_INTERVAL", "30s")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, 30*time.Second, cfg.CodeInterval)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
}

func TestLoadPublisherBackend(t *testing.T) {
	t.Run("follows queue backend by default", func(t *testing.T) {
		t.Setenv("QUEUE_BACKEND", "memory")
		cfg := Load()
		assert.Equal(t, "memory", cfg.PublisherBackend)
	})

	t.Run("own key wins over queue backend", func(t *testing.T) {
		t.Setenv("QUEUE_BACKEND", "memory")
		t.Setenv("PUBLISHER_BACKEND", "redis")
		cfg := Load()
		assert.Equal(t, "memory", cfg.QueueBackend)
		assert.Equal(t, "redis", cfg.PublisherBackend)
	})
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CODE_INTERVAL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.CodeInterval)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}
