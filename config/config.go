// Package config loads accident-engine settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/logging"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Lagging  LaggingConfig  `yaml:"lagging"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Backend string        `yaml:"backend"` // memory or redis
	// RefreshOnWrite drops a year's summaries when the API writes to it.
	// Off: summaries stay cached until TTL or an explicit invalidate.
	RefreshOnWrite bool `yaml:"refresh_on_write"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LaggingConfig struct {
	DefaultConstant  int64   `yaml:"default_constant"`
	AllowedConstants []int64 `yaml:"allowed_constants"`
	// ExactRecount rebuilds from records for non-default constants instead
	// of scaling the default summary.
	ExactRecount bool `yaml:"exact_recount"`
}

type LogConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "accidents.db"},
		Cache:    CacheConfig{TTL: lagging.DefaultTTL, Backend: "memory"},
		Lagging: LaggingConfig{
			DefaultConstant:  lagging.DefaultConstant,
			AllowedConstants: append([]int64(nil), lagging.DefaultAllowedConstants...),
		},
		Log: LogConfig{Level: "info", Format: "json", ThrottleWindow: logging.DefaultWindow},
	}
}

// Load reads a config file from path. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// env prefix for overrides
const envPrefix = "ACCIDENT_ENGINE_"

// ApplyEnv overlays ACCIDENT_ENGINE_* variables onto c. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("DB_DRIVER"); ok {
		c.Database.Driver = strings.ToLower(v)
	}
	if v, ok := get("DB_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := get("REDIS_URL"); ok {
		c.Redis.URL = v
		c.Cache.Backend = "redis"
	}
	if v, ok := get("CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCACHE_TTL: %w", envPrefix, err)
		}
		c.Cache.TTL = d
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl: must be positive, got %s", c.Cache.TTL)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url: required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Lagging.DefaultConstant <= 0 {
		return fmt.Errorf("lagging.default_constant: must be positive")
	}
	if len(c.Lagging.AllowedConstants) == 0 {
		return fmt.Errorf("lagging.allowed_constants: at least one constant required")
	}
	found := false
	for _, k := range c.Lagging.AllowedConstants {
		if k <= 0 {
			return fmt.Errorf("lagging.allowed_constants: %d is not positive", k)
		}
		if k == c.Lagging.DefaultConstant {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("lagging.allowed_constants: must include default %d", c.Lagging.DefaultConstant)
	}
	if c.Log.ThrottleWindow < 0 {
		return fmt.Errorf("log.throttle_window: must not be negative")
	}
	return nil
}
