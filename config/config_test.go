package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/orchestra/config"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Development, cfg.Environment)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 50, cfg.A2A.ConnectionPoolSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
llm:
  provider: openai
  model: gpt-4o
a2a:
  connection_pool_size: 10
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Staging, cfg.Environment)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.A2A.ConnectionPoolSize)
	// Untouched defaults survive the partial override.
	assert.Equal(t, 20, cfg.A2A.ConnectionPoolSizePerHost)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: gpt-4o\n"), 0o644))

	t.Setenv("LLM_MODEL", "claude-opus")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus", cfg.LLM.Model)
}

func TestValidate_RejectsHighTemperature(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Temperature = 1.5
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.temperature")
}

func TestValidate_RejectsSockReadTimeoutBelowTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.A2A.TimeoutSecs = 30
	cfg.A2A.SockReadTimeoutSecs = 10
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sock_read_timeout")
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	cfg := config.Defaults()
	cfg.Environment = config.Production
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidate_RejectsNonPositiveMaxInFlightPerHost(t *testing.T) {
	cfg := config.Defaults()
	cfg.A2A.MaxInFlightPerHost = 0
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_in_flight_per_host")
}

func TestValidate_ProductionPassesWithSecretsSet(t *testing.T) {
	cfg := config.Defaults()
	cfg.Environment = config.Production
	cfg.LLM.APIKey = "sk-test"
	cfg.Database.PostgresDSN = "postgres://localhost/db"
	assert.NoError(t, config.Validate(cfg))
}
