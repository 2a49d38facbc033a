// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Mode is "development" or "production". Production marks the session
	// cookie Secure.
	Mode      string          `yaml:"mode"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Socket    SocketConfig    `yaml:"socket"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Log       LogConfig       `yaml:"log"`
}

// HTTPConfig configures the listener and CORS.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store. A non-empty URL means PostgreSQL.
type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
	Seed       bool   `yaml:"seed"`
}

// RedisConfig enables the cross-instance bridge and shared presence.
// Connection details come from the bridge's own REDIS_* variables.
type RedisConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

// RateLimitConfig mirrors the API and login limiters.
type RateLimitConfig struct {
	Enabled    bool          `yaml:"enabled"`
	APIMax     int           `yaml:"api_max"`
	APIWindow  time.Duration `yaml:"api_window"`
	AuthMax    int           `yaml:"auth_max"`
	AuthWindow time.Duration `yaml:"auth_window"`
}

// CleanupConfig schedules removal of expired sessions and old activities.
type CleanupConfig struct {
	Interval          time.Duration `yaml:"interval"`
	ActivityRetention time.Duration `yaml:"activity_retention"`
}

// RealtimeConfig toggles optional broadcaster behavior.
type RealtimeConfig struct {
	// PersistNodePositions writes node:move positions to the store in
	// addition to broadcasting them.
	PersistNodePositions bool `yaml:"persist_node_positions"`
}

// LogConfig sets the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode: "development",
		HTTP: HTTPConfig{
			Addr: ":3001",
			AllowOrigins: []string{
				"http://localhost:8080",
				"http://localhost:5173",
			},
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			SQLitePath: "nexus.db",
			Seed:       true,
		},
		Socket: DefaultSocketConfig(),
		Session: SessionConfig{
			CookieName: "session",
			TTL:        7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			APIMax:     300,
			APIWindow:  15 * time.Minute,
			AuthMax:    20,
			AuthWindow: time.Hour,
		},
		Cleanup: CleanupConfig{
			Interval:          10 * time.Minute,
			ActivityRetention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		c.HTTP.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v, ok := envBool("REDIS_ENABLED"); ok {
		c.Redis.Enabled = v
	}
	if v, ok := envBool("RATE_LIMIT_ENABLED"); ok {
		c.RateLimit.Enabled = v
	}
	if v, ok := envBool("PERSIST_NODE_POSITIONS"); ok {
		c.Realtime.PersistNodePositions = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v, ok := envBool("LOG_PRETTY"); ok {
		c.Log.Pretty = v
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Database.URL == "" && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.url or database.sqlite_path is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool { return c.Mode == "production" }

// DatabaseKind names the configured store for health reporting.
func (c *Config) DatabaseKind() string {
	if c.Database.URL != "" {
		return "postgres"
	}
	return "sqlite"
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
