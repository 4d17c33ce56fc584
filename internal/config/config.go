// Package config provides configuration management for IntelForge.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/intelforge/internal/correlate"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/ratelimit"
	"github.com/lvonguyen/intelforge/internal/score"
	"github.com/lvonguyen/intelforge/internal/store"
	"github.com/lvonguyen/intelforge/internal/validate"
)

// Config holds all IntelForge configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Engine      EngineConfig              `yaml:"engine"`
	Sources     SourcesConfig             `yaml:"sources"`
	RateLimit   ratelimit.BucketConfig    `yaml:"rate_limit"`
	ProxyPool   ratelimit.ProxyPoolConfig `yaml:"proxy_pool"`
	Validation  validate.Config           `yaml:"validation"`
	Correlation correlate.Config          `yaml:"correlation"`
	Scoring     score.Config              `yaml:"scoring"`
	Storage     store.BadgerConfig        `yaml:"storage"`
	Redis       RedisConfig               `yaml:"redis"`
	Logging     LoggingConfig             `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIRateLimit    int           `yaml:"api_rate_limit"` // requests/minute per client, 0 disables
}

// EngineConfig holds orchestrator settings. Defaults apply to every
// investigation unless the submission overrides them.
type EngineConfig struct {
	Defaults intel.InvestigationConfig `yaml:"defaults"`
}

// SourcesConfig locates the source catalog.
type SourcesConfig struct {
	CatalogPath string        `yaml:"catalog_path"` // empty means built-in definitions
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// RedisConfig holds Redis connection settings. Redis backs the optional
// event-stream mirror and the inbound API rate limiter; everything else
// works without it.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	EventStream string `yaml:"event_stream"`
	EventMaxLen int64  `yaml:"event_max_len"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			APIRateLimit:    120,
		},
		Engine: EngineConfig{
			Defaults: intel.InvestigationConfig{
				MaxGlobalConcurrency:    8,
				MaxPerSourceConcurrency: 2,
				MaxRetries:              2,
				RetryBaseDelay:          500 * time.Millisecond,
				RetryMaxDelay:           30 * time.Second,
				PerTaskTimeout:          60 * time.Second,
				InvestigationTimeout:    15 * time.Minute,
				SearchDepth:             "standard",
			},
		},
		Sources: SourcesConfig{
			HTTPTimeout: 30 * time.Second,
		},
		RateLimit: ratelimit.BucketConfig{
			RatePerMinute: 30,
			Burst:         5,
		},
		ProxyPool:   ratelimit.DefaultProxyPoolConfig(),
		Validation:  validate.DefaultConfig(),
		Correlation: correlate.DefaultConfig(),
		Scoring:     score.DefaultConfig(),
		Storage:     store.DefaultBadgerConfig(),
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PasswordEnv: "INTELFORGE_REDIS_PASSWORD",
			PoolSize:    10,
			EventStream: "intelforge:events",
			EventMaxLen: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// RedisPassword resolves the Redis password from the configured environment
// variable.
func (c *Config) RedisPassword() string {
	if c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}
