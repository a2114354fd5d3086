package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTestConfig(t, "renderer_base_url: https://renderer.internal\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "oemwatch.db", cfg.DatabasePath)
	assert.Equal(t, "registry.yaml", cfg.RegistryPath)
	assert.Equal(t, 10000, cfg.GlobalRenderBudget)
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	path := writeTestConfig(t, "renderer_base_url: https://renderer.internal\nlog_level: info\n")
	t.Setenv("OEMWATCH_LOG_LEVEL", "debug")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RejectsMissingRendererURL(t *testing.T) {
	path := writeTestConfig(t, "log_level: info\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ReadsWebhookURLMap(t *testing.T) {
	path := writeTestConfig(t, `
renderer_base_url: https://renderer.internal
webhook_urls:
  slack-immediate: https://hooks.example/slack
  email: https://hooks.example/email
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/slack", cfg.WebhookURLs["slack-immediate"])
}
