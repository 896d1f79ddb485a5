package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaultsWithDatabaseFromEnv(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "postgres://localhost:5432/intake?sslmode=disable")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default server addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Strategy != "cache-first" {
		t.Errorf("default strategy = %q", cfg.Cache.Strategy)
	}
	if !cfg.Queue.Enabled || cfg.Queue.ReplayMode != "immediate" {
		t.Errorf("unexpected queue defaults: %+v", cfg.Queue)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "")
	path := writeConfigFile(t, `
server:
  addr: ":9090"
database:
  url: postgres://db:5432/intake
cache:
  strategy: store-first
  ttl: 1m
tiers:
  blob:
    enabled: true
    bucket: intake-fallback
    prefix: questionnaires
queue:
  replay_mode: scheduled
  replay_interval: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Strategy != "store-first" || cfg.Cache.TTL != time.Minute {
		t.Errorf("cache config = %+v", cfg.Cache)
	}
	if !cfg.Tiers.Blob.Enabled || cfg.Tiers.Blob.Bucket != "intake-fallback" {
		t.Errorf("blob tier config = %+v", cfg.Tiers.Blob)
	}
	if cfg.Queue.ReplayMode != "scheduled" || cfg.Queue.ReplayInterval != 45*time.Second {
		t.Errorf("queue config = %+v", cfg.Queue)
	}
	// Untouched sections keep their defaults.
	if !cfg.Tiers.Snapshot.Enabled {
		t.Error("snapshot tier default lost after partial file load")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://file:5432/intake
cache:
  strategy: cache-first
`)
	t.Setenv("INTAKE_DATABASE_URL", "postgres://env:5432/intake")
	t.Setenv("INTAKE_CACHE_STRATEGY", "store-first")
	t.Setenv("INTAKE_CACHE_TTL", "30s")
	t.Setenv("INTAKE_TIER_FILE_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.URL != "postgres://env:5432/intake" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Cache.Strategy != "store-first" || cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache config = %+v", cfg.Cache)
	}
	if cfg.Tiers.File.Enabled {
		t.Error("env should disable the file tier")
	}
}

func TestLegacyStrategyAliasAccepted(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "postgres://localhost/intake")
	t.Setenv("INTAKE_CACHE_STRATEGY", "redis-first")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("legacy strategy alias must validate: %v", err)
	}
	if cfg.Cache.Strategy != "redis-first" {
		t.Errorf("strategy = %q", cfg.Cache.Strategy)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "postgres://localhost/intake")

	testCases := []struct {
		name string
		yaml string
	}{
		{"unknown strategy", "cache:\n  strategy: memcached-first\n"},
		{"enabled blob tier without bucket", "tiers:\n  blob:\n    enabled: true\n"},
		{"unknown replay mode", "queue:\n  replay_mode: eventually\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, tc.yaml)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestMissingDatabaseURLFails(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(""); err == nil {
		t.Error("a configuration without a database url must not validate")
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "postgres://localhost/intake")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("a missing config file should fall back to defaults: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
}

func TestMalformedYAMLFails(t *testing.T) {
	t.Setenv("INTAKE_DATABASE_URL", "postgres://localhost/intake")

	if _, err := Load(writeConfigFile(t, "server: [not a mapping")); err == nil {
		t.Error("expected a parse error")
	}
}
