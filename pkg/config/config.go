package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration. Values load from an optional
// YAML file first, then GATEKEEPER_* environment variables override.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Sessions SessionConfig  `yaml:"sessions"`
	Audit    AuditConfig    `yaml:"audit"`
	Presets  PresetConfig   `yaml:"presets"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AdminAddr  string `yaml:"admin_addr"` // health and metrics listener
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	ReplicaURLs  string `yaml:"replica_urls"` // comma-separated
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty disables the shared cache layer
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PreviewTTL    time.Duration `yaml:"preview_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"` // cron expression
}

type AuditConfig struct {
	ArchiveEnabled  bool   `yaml:"archive_enabled"`
	ArchiveSchedule string `yaml:"archive_schedule"` // cron expression
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`
	S3UsePathStyle  bool   `yaml:"s3_use_path_style"`
}

type PresetConfig struct {
	Path string `yaml:"path"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			AdminAddr:  ":9090",
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost:5432/gatekeeper?sslmode=disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Cache: CacheConfig{
			Size: 4096,
			TTL:  30 * time.Second,
		},
		Sessions: SessionConfig{
			TTL:           24 * time.Hour,
			PreviewTTL:    time.Hour,
			SweepSchedule: "@every 15m",
		},
		Audit: AuditConfig{
			ArchiveSchedule: "30 2 * * *",
			S3Region:        "us-east-1",
		},
		LogLevel: "info",
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "GATEKEEPER_LISTEN_ADDR")
	setString(&cfg.Server.AdminAddr, "GATEKEEPER_ADMIN_ADDR")

	setString(&cfg.Database.URL, "GATEKEEPER_DATABASE_URL")
	setString(&cfg.Database.ReplicaURLs, "GATEKEEPER_DATABASE_REPLICA_URLS")
	setInt(&cfg.Database.MaxOpenConns, "GATEKEEPER_DATABASE_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "GATEKEEPER_DATABASE_MAX_IDLE_CONNS")

	setString(&cfg.Redis.Addr, "GATEKEEPER_REDIS_ADDR")
	setString(&cfg.Redis.Password, "GATEKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GATEKEEPER_REDIS_DB")

	setInt(&cfg.Cache.Size, "GATEKEEPER_CACHE_SIZE")
	setDuration(&cfg.Cache.TTL, "GATEKEEPER_CACHE_TTL")

	setDuration(&cfg.Sessions.TTL, "GATEKEEPER_SESSION_TTL")
	setDuration(&cfg.Sessions.PreviewTTL, "GATEKEEPER_PREVIEW_TTL")
	setString(&cfg.Sessions.SweepSchedule, "GATEKEEPER_SESSION_SWEEP_SCHEDULE")

	setBool(&cfg.Audit.ArchiveEnabled, "GATEKEEPER_AUDIT_ARCHIVE_ENABLED")
	setString(&cfg.Audit.ArchiveSchedule, "GATEKEEPER_AUDIT_ARCHIVE_SCHEDULE")
	setString(&cfg.Audit.S3Bucket, "GATEKEEPER_AUDIT_S3_BUCKET")
	setString(&cfg.Audit.S3Region, "GATEKEEPER_AUDIT_S3_REGION")
	setString(&cfg.Audit.S3Endpoint, "GATEKEEPER_AUDIT_S3_ENDPOINT")
	setString(&cfg.Audit.S3AccessKey, "GATEKEEPER_AUDIT_S3_ACCESS_KEY")
	setString(&cfg.Audit.S3SecretKey, "GATEKEEPER_AUDIT_S3_SECRET_KEY")
	setBool(&cfg.Audit.S3UsePathStyle, "GATEKEEPER_AUDIT_S3_USE_PATH_STYLE")

	setString(&cfg.Presets.Path, "GATEKEEPER_PRESETS_PATH")
	setString(&cfg.LogLevel, "GATEKEEPER_LOG_LEVEL")
}

// Validate checks the configuration for values that would fail at runtime
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max idle connections (%d) cannot exceed max open connections (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Sessions.PreviewTTL <= 0 {
		return fmt.Errorf("preview TTL must be positive")
	}
	if c.Audit.ArchiveEnabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("audit archive requires an S3 bucket")
	}
	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
