package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("CALLGATE_ADDR", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 60*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "callgate:", cfg.Redis.Namespace)
	assert.Equal(t, 4*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CALLGATE_ADDR", ":9090")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REMOTE_TIMEOUT", "15s")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns, "invalid ints fall back to the default")
}
