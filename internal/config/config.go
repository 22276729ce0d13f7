// Package config provides configuration for the chat relay.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ModeMock selects the mock upstream provider.
	ModeMock = "MOCK"
)

// ErrMissingAPIKey is returned when no upstream API key is configured.
var ErrMissingAPIKey = errors.New("UPSTREAM_API_KEY is required")

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Upstream completion provider
	Mode            string
	UpstreamURL     string
	UpstreamAPIKey  string
	UpstreamModel   string
	UpstreamTimeout time.Duration

	// Streaming
	StreamIdleTimeout time.Duration

	// Retry policy for rate limited upstream calls; 1 attempt disables retries.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Optional files
	PromptsFile string
	PolicyFile  string

	// Tenant rate limiting (enabled when RedisURL is set)
	RedisURL          string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// WebSocket settings
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	WSMaxMessageSize int64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:relay.db?cache=shared&mode=rwc"),
		Mode:              getEnv("RELAY_MODE", ""),
		UpstreamURL:       getEnv("UPSTREAM_URL", "https://api.openai.com"),
		UpstreamAPIKey:    getEnv("UPSTREAM_API_KEY", ""),
		UpstreamModel:     getEnv("UPSTREAM_MODEL", "gpt-4o-mini"),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT_MS", 30000),
		StreamIdleTimeout: getEnvDuration("STREAM_IDLE_TIMEOUT_MS", 30000),
		RetryMaxAttempts:  getEnvInt("RELAY_RETRY_MAX_ATTEMPTS", 1),
		RetryBaseDelay:    getEnvDuration("RELAY_RETRY_BASE_DELAY_MS", 500),
		PromptsFile:       getEnv("PROMPTS_FILE", ""),
		PolicyFile:        getEnv("POLICY_FILE", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW_MS", 60000),
		WSPingInterval:    getEnvDuration("WS_PING_INTERVAL_MS", 30000),
		WSWriteTimeout:    getEnvDuration("WS_WRITE_TIMEOUT_MS", 10000),
		WSReadTimeout:     getEnvDuration("WS_READ_TIMEOUT_MS", 60000),
		WSMaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that must be present at startup.
func (c *Config) Validate() error {
	if c.UpstreamAPIKey == "" && !c.IsMock() {
		return ErrMissingAPIKey
	}
	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = 1
	}
	return nil
}

// IsMock reports whether the mock upstream provider is selected.
func (c *Config) IsMock() bool {
	return c.Mode == ModeMock
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

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
