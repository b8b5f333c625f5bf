package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	for _, key := range []string{"ADDR", "DB_PATH", "JWT_SECRET", "REDIS_ADDR", "REACTION_TTL", "WS_RATE_LIMIT", "DEBUG"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "coordinator.db", cfg.Storage.DBPath)
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Room.ReactionTTL)
	assert.Equal(t, 64, cfg.WebSocket.SendBuffer)
	assert.Equal(t, int64(1<<20), cfg.WebSocket.ReadLimit)
	assert.InDelta(t, 50.0, cfg.WebSocket.RateLimit, 0.001)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ADDR", ":9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REACTION_TTL", "0")
	t.Setenv("WS_WRITE_TIMEOUT", "250ms")
	t.Setenv("WS_RATE_LIMIT", "2.5")
	t.Setenv("DEBUG", "yes")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, time.Duration(0), cfg.Room.ReactionTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.WebSocket.WriteTimeout)
	assert.InDelta(t, 2.5, cfg.WebSocket.RateLimit, 0.001)
	assert.True(t, cfg.Debug)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	// .env never overrides a variable that is already set, even to "".
	t.Setenv("DB_PATH", "")
	require.NoError(t, os.Unsetenv("DB_PATH"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_PATH=from-dotenv.db\n"), 0o600))

	cfg := Load()
	assert.Equal(t, "from-dotenv.db", cfg.Storage.DBPath)
}

func TestInvalidValuesFallBack(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REDIS_DB", "two")
	t.Setenv("REACTION_TTL", "soon")
	t.Setenv("WS_RATE_LIMIT", "fast")

	cfg := Load()
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 3*time.Second, cfg.Room.ReactionTTL)
	assert.InDelta(t, 50.0, cfg.WebSocket.RateLimit, 0.001)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET", "")
	cfg := Load()
	require.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "secret"
	require.NoError(t, cfg.Validate())

	cfg.WebSocket.RateBurst = 0
	require.Error(t, cfg.Validate())
}
