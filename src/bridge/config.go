package bridge

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is the connection shared by the bridge, the presence hash and
// the rate limiter storage.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the pub/sub topic and presence key so several
	// deployments can share one Redis.
	Prefix string
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "nexus:ws:",
	}
}

// RedisConfigFromEnv reads REDIS_URL, or REDIS_ADDR, REDIS_PASSWORD and
// REDIS_DB when no URL is set, plus REDIS_WS_PREFIX. Unparseable values keep
// their defaults.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if raw := os.Getenv("REDIS_URL"); raw != "" {
		if opt, err := redis.ParseURL(raw); err == nil {
			cfg.Addr, cfg.Password, cfg.DB = opt.Addr, opt.Password, opt.DB
		}
	} else {
		cfg.Addr = envOr("REDIS_ADDR", cfg.Addr)
		cfg.Password = envOr("REDIS_PASSWORD", cfg.Password)
		if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
			cfg.DB = n
		}
	}
	cfg.Prefix = envOr("REDIS_WS_PREFIX", cfg.Prefix)
	return cfg
}

// NewClient opens a go-redis client for this configuration.
func (c *RedisConfig) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
