// Package config loads service configuration with priority
// env > file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" validate:"required"`
	Database DatabaseConfig `yaml:"database" validate:"required"`
	Cache    CacheConfig    `yaml:"cache"`
	Tiers    TiersConfig    `yaml:"tiers"`
	Queue    QueueConfig    `yaml:"queue"`
	Health   HealthConfig   `yaml:"health"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// CacheConfig tunes the fast in-process cache and the read strategy.
type CacheConfig struct {
	// Strategy is cache-first or store-first. The legacy redis-first and
	// cassandra-first spellings are accepted as aliases.
	Strategy string        `yaml:"strategy" validate:"omitempty,oneof=cache-first store-first redis-first cassandra-first"`
	TTL      time.Duration `yaml:"ttl" validate:"min=0"`
}

// TiersConfig enables and locates the ranked fallback tiers. Each tier
// is independent; disabling all of them leaves only the fast cache
// between a store outage and ErrUnavailable.
type TiersConfig struct {
	Snapshot SnapshotTierConfig `yaml:"snapshot"`
	Blob     BlobTierConfig     `yaml:"blob"`
	File     FileTierConfig     `yaml:"file"`

	// WarmInterval bounds read-path re-warming per questionnaire.
	WarmInterval time.Duration `yaml:"warm_interval" validate:"min=0"`
}

type SnapshotTierConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

type BlobTierConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix"`
}

type FileTierConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir" validate:"required_if=Enabled true"`
	CacheSize int    `yaml:"cache_size" validate:"min=0"`
}

// QueueConfig tunes the durable write queue. Replay always runs on the
// recovery transition; scheduled mode adds a timer-based safety net.
type QueueConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path" validate:"required_if=Enabled true"`
	ReplayMode     string        `yaml:"replay_mode" validate:"omitempty,oneof=immediate scheduled"`
	ReplayInterval time.Duration `yaml:"replay_interval" validate:"min=0"`
}

type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval" validate:"min=0"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" validate:"min=0"`
}

// Default returns production defaults; the database URL must come from
// the file or the environment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Strategy: "cache-first",
			TTL:      15 * time.Minute,
		},
		Tiers: TiersConfig{
			Snapshot:     SnapshotTierConfig{Enabled: true, Path: "/var/lib/intake/snapshots"},
			File:         FileTierConfig{Enabled: true, Dir: "/var/lib/intake/fallback", CacheSize: 256},
			WarmInterval: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Enabled:        true,
			Path:           "/var/lib/intake/writequeue",
			ReplayMode:     "immediate",
			ReplayInterval: time.Minute,
		},
		Health: HealthConfig{
			CheckInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "INTAKE_SERVER_ADDR")
	setString(&cfg.Database.URL, "INTAKE_DATABASE_URL")
	// Legacy deployments still export DATABASE_URL.
	setString(&cfg.Database.URL, "DATABASE_URL")

	setString(&cfg.Cache.Strategy, "INTAKE_CACHE_STRATEGY")
	setDuration(&cfg.Cache.TTL, "INTAKE_CACHE_TTL")

	setBool(&cfg.Tiers.Snapshot.Enabled, "INTAKE_TIER_SNAPSHOT_ENABLED")
	setString(&cfg.Tiers.Snapshot.Path, "INTAKE_TIER_SNAPSHOT_PATH")
	setBool(&cfg.Tiers.Blob.Enabled, "INTAKE_TIER_BLOB_ENABLED")
	setString(&cfg.Tiers.Blob.Bucket, "INTAKE_TIER_BLOB_BUCKET")
	setString(&cfg.Tiers.Blob.Prefix, "INTAKE_TIER_BLOB_PREFIX")
	setBool(&cfg.Tiers.File.Enabled, "INTAKE_TIER_FILE_ENABLED")
	setString(&cfg.Tiers.File.Dir, "INTAKE_TIER_FILE_DIR")
	setInt(&cfg.Tiers.File.CacheSize, "INTAKE_TIER_FILE_CACHE_SIZE")
	setDuration(&cfg.Tiers.WarmInterval, "INTAKE_TIER_WARM_INTERVAL")

	setBool(&cfg.Queue.Enabled, "INTAKE_QUEUE_ENABLED")
	setString(&cfg.Queue.Path, "INTAKE_QUEUE_PATH")
	setString(&cfg.Queue.ReplayMode, "INTAKE_QUEUE_REPLAY_MODE")
	setDuration(&cfg.Queue.ReplayInterval, "INTAKE_QUEUE_REPLAY_INTERVAL")

	setDuration(&cfg.Health.CheckInterval, "INTAKE_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.Health.ProbeTimeout, "INTAKE_HEALTH_PROBE_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
