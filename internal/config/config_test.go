package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEDIAHUB_STORAGE_BUCKET", "media")
	t.Setenv("MEDIAHUB_TOKENS_ACCESS_SECRET", "access-secret")
	t.Setenv("MEDIAHUB_TOKENS_REFRESH_SECRET", "refresh-secret")
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "media", cfg.Storage.Bucket)
	require.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	require.Equal(t, 10*24*time.Hour, cfg.Tokens.RefreshTTL)
	require.Equal(t, 2*time.Minute, cfg.Storage.OperationTimeout)
	require.True(t, cfg.Reconciler.Enabled)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mediahub.yaml")
	contents := []byte(`
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/mediahub.db
storage:
  bucket: from-file
tokens:
  access_secret: a
  refresh_secret: b
  access_ttl: 5m
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	t.Setenv("MEDIAHUB_STORAGE_BUCKET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Database.IsEmbedded())
	require.Equal(t, "from-env", cfg.Storage.Bucket)
	require.Equal(t, 5*time.Minute, cfg.Tokens.AccessTTL)
}

func TestValidate(t *testing.T) {
	base := Config{
		Database: DatabaseConfig{Driver: "postgres", URL: "postgres://localhost/db"},
		Storage:  ObjectStoreConfig{Bucket: "media", OperationTimeout: time.Minute},
		Tokens: TokenConfig{
			AccessSecret:  "a",
			RefreshSecret: "b",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
		},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"missing secret", func(c *Config) { c.Tokens.RefreshSecret = "" }},
		{"shared secret", func(c *Config) { c.Tokens.RefreshSecret = c.Tokens.AccessSecret }},
		{"access outlives refresh", func(c *Config) { c.Tokens.AccessTTL = 2 * time.Hour }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }},
		{"sqlite without path", func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} }},
		{"no upload timeout", func(c *Config) { c.Storage.OperationTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
