package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Redis     RedisConfig
	WebSocket WebSocketConfig
	Room      RoomConfig
	Debug     bool
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string
}

// StorageConfig locates the sqlite database and export blobs.
type StorageConfig struct {
	DBPath   string
	BlobsDir string
}

// AuthConfig holds the token signing secret.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// RedisConfig enables cross-instance notification fan-out when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebSocketConfig tunes per-connection transport limits.
type WebSocketConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadLimit    int64
	RateLimit    float64
	RateBurst    int
}

// RoomConfig tunes room behavior.
type RoomConfig struct {
	ReactionTTL time.Duration
}

// Load reads a .env file when present, then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("read .env file", "err", err)
	}

	return &Config{
		Server: ServerConfig{
			Addr: getEnv("ADDR", ":8080"),
		},
		Storage: StorageConfig{
			DBPath:   getEnv("DB_PATH", "coordinator.db"),
			BlobsDir: getEnv("BLOBS_DIR", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getDuration("TOKEN_TTL", 12*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		WebSocket: WebSocketConfig{
			SendBuffer:   getInt("WS_SEND_BUFFER", 64),
			WriteTimeout: getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			ReadLimit:    int64(getInt("WS_READ_LIMIT", 1<<20)),
			RateLimit:    getFloat("WS_RATE_LIMIT", 50),
			RateBurst:    getInt("WS_RATE_BURST", 100),
		},
		Room: RoomConfig{
			ReactionTTL: getDuration("REACTION_TTL", 3*time.Second),
		},
		Debug: getBool("DEBUG", false),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateBurst <= 0 {
		return errors.New("WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
		slog.Warn("ignoring invalid integer setting", "key", key, "value", value)
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
		slog.Warn("ignoring invalid number setting", "key", key, "value", value)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		}
		return false
	}
	return defaultValue
}

// getDuration accepts Go durations ("3s", "1m") or a bare number of seconds.
// "0" yields zero.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	slog.Warn("ignoring invalid duration setting", "key", key, "value", value)
	return defaultValue
}
