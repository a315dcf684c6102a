package docmodel

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// Configuration defaults
const (
	DefaultMongoURL       = "mongodb://localhost:27017"
	DefaultDatabase       = "app"
	DefaultConnectTimeout = 10 * time.Second
	DefaultLogLevel       = "info"
)

// Config holds the settings the bootstrap needs to reach MongoDB and,
// optionally, Redis for atomic constraint claims.
//
// Environment variables (with an optional prefix, e.g. "DOCMODEL_"):
//   - MONGO_URL (default: "mongodb://localhost:27017")
//   - MONGO_DATABASE (default: "app")
//   - MONGO_CONNECT_TIMEOUT (default: "10s")
//   - REDIS_ADDR (default: "", claims disabled)
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//   - LOG_LEVEL (default: "info")
type Config struct {
	MongoURL       string        `env:"MONGO_URL" envDefault:"mongodb://localhost:27017"`
	Database       string        `env:"MONGO_DATABASE" envDefault:"app"`
	ConnectTimeout time.Duration `env:"MONGO_CONNECT_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MongoURL:       DefaultMongoURL,
		Database:       DefaultDatabase,
		ConnectTimeout: DefaultConnectTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadConfig reads Config from the environment. Variables are looked up
// with prefix prepended ("" for none).
func LoadConfig(prefix string) (Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"reason": fmt.Sprintf("parse environment: %v", err),
		})
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.MongoURL == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MongoURL",
			"reason": "mongodb url is required",
		})
	}
	if c.Database == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Database",
			"reason": "database name is required",
		})
	}
	if c.ConnectTimeout <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectTimeout",
			"value":  c.ConnectTimeout,
			"reason": "must be positive",
		})
	}
	if c.RedisDB < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RedisDB",
			"value":  c.RedisDB,
			"reason": "must be non-negative",
		})
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LogLevel",
			"value":  c.LogLevel,
			"reason": "must be one of debug, info, warn, error",
		})
	}
	return nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// RedisOptions returns redis.Options for the configured Redis, or nil when
// Redis is not configured.
//
// Example usage:
//
//	if opts := cfg.RedisOptions(); opts != nil {
//	    claims := docmodel.NewClaimManager(redis.NewClient(opts))
//	    registry := docmodel.NewRegistry(conn, docmodel.WithClaims(claims))
//	}
func (c Config) RedisOptions() *redis.Options {
	if !c.RedisEnabled() {
		return nil
	}
	return &redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
