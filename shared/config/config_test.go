package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDuelServiceConfigDefaults verifies the defaults applied when no
// environment variables are set, including the derived port and generated id.
func TestLoadDuelServiceConfigDefaults(t *testing.T) {
	cfg, err := LoadDuelServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTTL())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.GlobalRequestWindow)
	assert.Equal(t, 3, cfg.ArenaPoolSize)
	assert.Equal(t, 8082, cfg.ServicePort)
	assert.True(t, strings.HasPrefix(cfg.ServiceID, "duel-"))
	assert.Equal(t, "0.0.0.0:8082", cfg.Address())
}

// TestLoadQueueServiceConfigFromEnv verifies that environment variables
// override defaults, including comma-separated lists.
func TestLoadQueueServiceConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDRS", "redis-a:6379,redis-b:6379")
	t.Setenv("SERVICE_ID", "queue-1")
	t.Setenv("QUEUE_TICK_INTERVAL", "250ms")
	t.Setenv("QUEUE_SERVICE_LISTEN_ADDR", "127.0.0.1:9000")

	cfg, err := LoadQueueServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.RedisAddrs)
	assert.Equal(t, "queue-1", cfg.ServiceID)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 9000, cfg.ServicePort)
}

// TestLoadConfigRejectsInvalidValues verifies validation of malformed and
// out-of-range values.
func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SERVICE_HEARTBEAT_INTERVAL", "soon")
		_, err := LoadLobbyServiceConfig()
		assert.Error(t, err)
	})

	t.Run("zero pool size", func(t *testing.T) {
		t.Setenv("DUEL_ARENA_POOL_SIZE", "0")
		_, err := LoadDuelServiceConfig()
		assert.ErrorContains(t, err, "DUEL_ARENA_POOL_SIZE")
	})

	t.Run("reserved service id", func(t *testing.T) {
		t.Setenv("SERVICE_ID", "global")
		_, err := LoadQueueServiceConfig()
		assert.ErrorContains(t, err, "reserved")
	})

	t.Run("bad listen address", func(t *testing.T) {
		t.Setenv("LOBBY_SERVICE_LISTEN_ADDR", "nowhere")
		_, err := LoadLobbyServiceConfig()
		assert.Error(t, err)
	})
}

// TestExtractPort checks the accepted listen address formats.
func TestExtractPort(t *testing.T) {
	port, err := extractPort(":8082")
	require.NoError(t, err)
	assert.Equal(t, 8082, port)

	port, err = extractPort("0.0.0.0:9090")
	require.NoError(t, err)
	assert.Equal(t, 9090, port)

	_, err = extractPort(":http")
	assert.Error(t, err)
}
