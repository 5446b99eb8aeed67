package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  env: production
storage:
  dsn: "aegis.db"
card:
  signature_header: X-Provider-Sig
  deadline_ms: 80
  bindings:
    card-tok-1:
      principal_id: senior-1
      poa_id: poa-1
notify:
  workers: 4
  channels: [push, email]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, "aegis.db", cfg.Storage.DSN)
	assert.Equal(t, "X-Provider-Sig", cfg.Card.SignatureHeader)
	assert.Equal(t, 80, cfg.Card.DeadlineMs)
	assert.Equal(t, "poa-1", cfg.Card.Bindings["card-tok-1"].POAID)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Equal(t, []string{"push", "email"}, cfg.Notify.Channels)
}

func TestDefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `server: {}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Server.Ephemeral)
	assert.Equal(t, 100, cfg.Card.DeadlineMs)
	assert.NotEmpty(t, cfg.Card.SignatureHeader)
	assert.Equal(t, 2, cfg.Notify.Workers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AEGIS_PORT", "7070")
	t.Setenv("AEGIS_DATABASE_DSN", "postgres://aegis@localhost/aegis")
	t.Setenv("AEGIS_EPHEMERAL", "true")

	path := writeConfig(t, `
server:
  port: "9090"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port, "environment beats the file")
	assert.Equal(t, "postgres://aegis@localhost/aegis", cfg.Storage.DSN)
	assert.True(t, cfg.Server.Ephemeral)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
