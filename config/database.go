package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"herald"`
	Password string `env:"PASSWORD"                envDefault:"herald"`
	Name     string `env:"NAME"                    envDefault:"herald"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the cache and fan-out guard.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains cache tuning configuration.
type CacheConfig struct {
	// TemplateTTL is the TTL for cached job template payloads.
	TemplateTTL time.Duration `env:"CACHE_TEMPLATE_TTL" envDefault:"10m"`

	// FanOutGuardTTL is the TTL on the per-shard fan-out guard keys. It must
	// comfortably exceed the longest plausible fan-out retry window.
	FanOutGuardTTL time.Duration `env:"CACHE_FANOUT_GUARD_TTL" envDefault:"1h"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.TemplateTTL <= 0 {
		c.TemplateTTL = 10 * time.Minute
	}
	if c.FanOutGuardTTL < time.Minute {
		c.FanOutGuardTTL = time.Minute
	}
}
