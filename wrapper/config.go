// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wrapper

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the wrapper service configuration.
//
// Values are resolved in three layers: built-in defaults, an optional
// YAML file named by WRAPPER_CONFIG, and finally environment variables.
// Environment variables always win (12-Factor App methodology).
type Config struct {
	// Port is the HTTP listen port.
	// Default: 8000
	Port string `yaml:"port"`

	// APIKey gates inbound requests when set. Clients must send it as
	// "Authorization: Bearer <key>". Empty means open access.
	APIKey string `yaml:"api_key"`

	// JWTSecret enables JWT bearer authentication as an alternative to
	// the static API key. The token subject becomes the client ID for
	// logging and usage metering.
	JWTSecret string `yaml:"jwt_secret"`

	// CORSOrigins is the list of allowed CORS origins.
	// Default: ["*"]
	CORSOrigins []string `yaml:"cors_origins"`

	// DebugMode enables the /v1/debug/request endpoint and verbose
	// request dumps. Never enable in production.
	// Default: false
	DebugMode bool `yaml:"debug_mode"`

	// RequestTimeout bounds a single upstream completion call.
	// Default: 600s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DefaultMaxTokens is used when a chat request omits max_tokens.
	// Default: 4096
	DefaultMaxTokens int `yaml:"default_max_tokens"`

	// RedisURL enables distributed rate limiting when set. Without it
	// the wrapper falls back to per-process in-memory limiting.
	RedisURL string `yaml:"redis_url"`

	// RateLimitPerMinute is the per-client request budget. Zero
	// disables rate limiting entirely.
	// Default: 60
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// DatabaseURL enables PostgreSQL usage metering when set.
	DatabaseURL string `yaml:"database_url"`

	// SessionTTL is the inactivity window after which a session expires.
	// Default: 1h
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SessionCleanupInterval is the expired-session sweep period.
	// Default: 5m
	SessionCleanupInterval time.Duration `yaml:"session_cleanup_interval"`

	// InstanceID identifies this process in usage records. Defaults to
	// HOSTNAME (the Docker container ID) or "wrapper-unknown".
	InstanceID string `yaml:"instance_id"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:                   "8000",
		CORSOrigins:            []string{"*"},
		RequestTimeout:         600 * time.Second,
		DefaultMaxTokens:       4096,
		RateLimitPerMinute:     60,
		SessionTTL:             time.Hour,
		SessionCleanupInterval: 5 * time.Minute,
	}
}

// LoadConfig resolves the full configuration: defaults, then the
// optional WRAPPER_CONFIG YAML file, then environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("WRAPPER_CONFIG"); path != "" {
		if err := loadConfigFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadConfigFile overlays values from a YAML file onto cfg.
func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Empty variables
// leave the existing value untouched.
func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSOrigins = origins
	}

	if v := os.Getenv("DEBUG_MODE"); v != "" {
		cfg.DebugMode = v == "true" || v == "1"
	}

	if v := os.Getenv("MAX_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RequestTimeout = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("DEFAULT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultMaxTokens = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RateLimitPerMinute = n
		}
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTTL = d
		}
	}

	if v := os.Getenv("SESSION_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionCleanupInterval = d
		}
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = os.Getenv("HOSTNAME") // Docker container ID
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "wrapper-unknown"
	}
}

// Validate checks for values that would break the server at runtime.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q: must be numeric", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default_max_tokens must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute cannot be negative")
	}
	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
