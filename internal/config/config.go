// Package config provides configuration for the sync-scribe services.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int // HTTP API and /ws
	RPCPort  int // operator JSON-RPC; 0 disables

	// Storage settings
	DatabaseURL string // sqlite file DSN, or postgres:// URL

	// Relay settings
	RedisURL           string // empty disables the cross-node relay
	RelayChannelPrefix string

	// Auth settings
	JWTSecret string // empty enables header-based dev identities
	JWTIssuer string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Hub settings
	SnapshotInterval time.Duration
	SendBufferSize   int

	// Session settings
	Debounce         time.Duration
	SubscribeTimeout time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		RPCPort:            getEnvInt("RPC_PORT", 0),
		DatabaseURL:        getEnv("DATABASE_URL", "file:sync-scribe.db?_foreign_keys=on"),
		RedisURL:           getEnv("REDIS_URL", ""),
		RelayChannelPrefix: getEnv("RELAY_CHANNEL_PREFIX", "sync-scribe:relay:"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", ""),
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		SnapshotInterval:   time.Duration(getEnvInt("PRESENCE_SNAPSHOT_INTERVAL_MS", 15000)) * time.Millisecond,
		SendBufferSize:     getEnvInt("SEND_BUFFER_SIZE", 256),
		Debounce:           time.Duration(getEnvInt("DEBOUNCE_MS", 100)) * time.Millisecond,
		SubscribeTimeout:   time.Duration(getEnvInt("SUBSCRIBE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// Verbosity maps LOG_LEVEL to a glog -v level.
func (c *Config) Verbosity() int {
	switch c.LogLevel {
	case "debug":
		return 1
	case "trace":
		return 2
	default:
		return 0
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
