package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, ":9090", cfg.Server.AdminAddr)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 4096, cfg.Cache.Size)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, time.Hour, cfg.Sessions.PreviewTTL)
	assert.Equal(t, "@every 15m", cfg.Sessions.SweepSchedule)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Audit.ArchiveEnabled)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":3000"
database:
  url: "postgres://db:5432/gk?sslmode=disable"
  max_open_conns: 50
redis:
  addr: "redis:6379"
sessions:
  ttl: 12h
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.ListenAddr)
	assert.Equal(t, "postgres://db:5432/gk?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 12*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset keys keep their defaults.
	assert.Equal(t, ":9090", cfg.Server.AdminAddr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":3000\"\n"), 0o644))

	t.Setenv("GATEKEEPER_LISTEN_ADDR", ":4000")
	t.Setenv("GATEKEEPER_CACHE_TTL", "90s")
	t.Setenv("GATEKEEPER_AUDIT_ARCHIVE_ENABLED", "true")
	t.Setenv("GATEKEEPER_AUDIT_S3_BUCKET", "gk-audit")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.ListenAddr)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Audit.ArchiveEnabled)
	assert.Equal(t, "gk-audit", cfg.Audit.S3Bucket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database URL",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database URL is required",
		},
		{
			name: "idle exceeds open connections",
			mutate: func(c *Config) {
				c.Database.MaxOpenConns = 5
				c.Database.MaxIdleConns = 10
			},
			wantErr: "cannot exceed max open connections",
		},
		{
			name:    "non-positive session TTL",
			mutate:  func(c *Config) { c.Sessions.TTL = 0 },
			wantErr: "session TTL must be positive",
		},
		{
			name:    "archive without bucket",
			mutate:  func(c *Config) { c.Audit.ArchiveEnabled = true },
			wantErr: "audit archive requires an S3 bucket",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
