package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// Supported KV_BACKEND values.
const (
	BackendUpstash  = "upstash"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	KVBackend    string        `env:"KV_BACKEND" envDefault:"memory"`
	KVTimeout    time.Duration `env:"KV_TIMEOUT" envDefault:"5s"`
	UpstashURL   string        `env:"UPSTASH_REDIS_REST_URL"`
	UpstashToken string        `env:"UPSTASH_REDIS_REST_TOKEN"`
	RedisURL     string        `env:"REDIS_URL"`
	DatabaseURL  string        `env:"DATABASE_URL"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://paste.sdjz.wiki,https://*.sdjz.wiki,http://localhost:3000"`

	StoreRateLimitPerMin  int `env:"STORE_RATE_LIMIT_PER_MIN" envDefault:"30"`
	SignalRateLimitPerMin int `env:"SIGNAL_RATE_LIMIT_PER_MIN" envDefault:"600"`

	// Zero disables the stale device sweep.
	DeviceStaleAfter time.Duration `env:"DEVICE_STALE_AFTER" envDefault:"0s"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	switch c.KVBackend {
	case BackendUpstash:
		if c.UpstashURL == "" || c.UpstashToken == "" {
			return fmt.Errorf("KV_BACKEND=upstash requires UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN")
		}
		u, err := url.Parse(c.UpstashURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("UPSTASH_REDIS_REST_URL must be an http(s) URL")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("KV_BACKEND=redis requires REDIS_URL")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("KV_BACKEND=postgres requires DATABASE_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown KV_BACKEND %q (want upstash, redis, postgres or memory)", c.KVBackend)
	}

	if c.KVTimeout <= 0 {
		return fmt.Errorf("KV_TIMEOUT must be positive")
	}
	if c.DeviceStaleAfter < 0 {
		return fmt.Errorf("DEVICE_STALE_AFTER must not be negative")
	}

	for _, origin := range c.CORSAllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return err
		}
	}

	if c.IsProduction() {
		if c.KVBackend == BackendMemory {
			log.Warn().Msg("KV_BACKEND=memory in production: data is lost on restart and not shared between instances")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins, not *")
	}
	if strings.Count(origin, "*") > 1 {
		return fmt.Errorf("CORS origin %q has more than one wildcard", origin)
	}
	if !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "http://") {
		return fmt.Errorf("CORS origin %q must include a scheme", origin)
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
