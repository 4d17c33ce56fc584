package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ============================================================
// Defaults
// ============================================================

// TestDefaultConfig verifies the built-in defaults are usable without a
// config file.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.Defaults.MaxGlobalConcurrency != 8 {
		t.Errorf("MaxGlobalConcurrency = %d, want 8", cfg.Engine.Defaults.MaxGlobalConcurrency)
	}
	if cfg.Engine.Defaults.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Engine.Defaults.MaxRetries)
	}
	if cfg.Engine.Defaults.SearchDepth != "standard" {
		t.Errorf("SearchDepth = %q, want standard", cfg.Engine.Defaults.SearchDepth)
	}
	if cfg.RateLimit.RatePerMinute != 30 || cfg.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %+v, want 30/min burst 5", cfg.RateLimit)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Scoring.TierMultipliers[1] == 0 {
		t.Error("Scoring defaults missing tier multipliers")
	}
}

// ============================================================
// Load
// ============================================================

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_OverridesMergeOntoDefaults verifies a partial file only replaces
// the keys it names.
func TestLoad_OverridesMergeOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 45s
engine:
  defaults:
    max_retries: 5
    per_task_timeout: 90s
    enabled_sources: [business_registry]
rate_limit:
  rate_per_minute: 120
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("ReadTimeout = %v, want 45s", cfg.Server.ReadTimeout)
	}
	if cfg.Engine.Defaults.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Engine.Defaults.MaxRetries)
	}
	if cfg.Engine.Defaults.PerTaskTimeout != 90*time.Second {
		t.Errorf("PerTaskTimeout = %v, want 90s", cfg.Engine.Defaults.PerTaskTimeout)
	}
	if !cfg.Engine.Defaults.SourceEnabled("business_registry") ||
		cfg.Engine.Defaults.SourceEnabled("social_scraper") {
		t.Errorf("EnabledSources = %v, want only business_registry", cfg.Engine.Defaults.EnabledSources)
	}
	if cfg.RateLimit.RatePerMinute != 120 {
		t.Errorf("RatePerMinute = %d, want 120", cfg.RateLimit.RatePerMinute)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	// Keys the file never mentions keep their defaults.
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Errorf("Burst = %d, want default 5", cfg.RateLimit.Burst)
	}
	if cfg.Engine.Defaults.MaxGlobalConcurrency != 8 {
		t.Errorf("MaxGlobalConcurrency = %d, want default 8", cfg.Engine.Defaults.MaxGlobalConcurrency)
	}
}

// TestLoad_MissingFile verifies a useful error for a bad path.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// TestLoad_MalformedYAML verifies parse failures surface.
func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not, a, mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

// ============================================================
// Redis password
// ============================================================

// TestRedisPassword verifies env-based password resolution.
func TestRedisPassword(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("INTELFORGE_REDIS_PASSWORD", "s3cret")
	if got := cfg.RedisPassword(); got != "s3cret" {
		t.Errorf("RedisPassword() = %q, want s3cret", got)
	}

	cfg.Redis.PasswordEnv = ""
	if got := cfg.RedisPassword(); got != "" {
		t.Errorf("RedisPassword() with empty env name = %q, want empty", got)
	}
}
