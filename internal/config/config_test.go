package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "CZ", cfg.Inventory.DefaultCountry)
	assert.Equal(t, 100, cfg.Inventory.HistoryLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Inventory.ExpiryWarning)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "stockwise", cfg.Database.DBName)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  host: db.internal
  port: 6543
inventory:
  default_country: SK
  history_limit: 20
  expiry_warning: 72h
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("API_PORT", "9090")
	t.Setenv("DB_HOST", "env-host")

	cfg, err := Load(path)
	require.NoError(t, err)

	// 環境変数がYAMLより優先される
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "SK", cfg.Inventory.DefaultCountry)
	assert.Equal(t, 20, cfg.Inventory.HistoryLimit)
	assert.Equal(t, 72*time.Hour, cfg.Inventory.ExpiryWarning)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty host", func(c *Config) { c.Database.Host = "" }},
		{"bad db port", func(c *Config) { c.Database.Port = 70000 }},
		{"bad api port", func(c *Config) { c.API.Port = 0 }},
		{"bad country", func(c *Config) { c.Inventory.DefaultCountry = "CZE" }},
		{"negative history limit", func(c *Config) { c.Inventory.HistoryLimit = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDSN(t *testing.T) {
	cfg := Default()
	assert.Equal(t,
		"host=localhost port=5432 user=stockwise password=password dbname=stockwise sslmode=disable",
		cfg.DSN())
}
