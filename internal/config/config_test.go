package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
hub:
  url: ws://homeassistant.local:8123/api/websocket
  token: abc123
server:
  api_tokens: [dash-token]
`

func TestLoad(t *testing.T) {
	yaml := `
hub:
  url: wss://hub.example.com/api/websocket
  token: abc123
  message_timeout: 3s
reconnect:
  max_attempts: 4
outbound:
  batch_size: 20
  flush_interval: 50ms
database:
  postgres:
    host: localhost
    name: dashboard
    user: dash
    password: pw
server:
  addr: ":9000"
  api_tokens: [one, two]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://hub.example.com/api/websocket", cfg.Hub.URL)
	assert.Equal(t, 3*time.Second, cfg.Hub.MessageTimeout)
	assert.Equal(t, 4, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 20, cfg.Outbound.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Outbound.FlushInterval)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, []string{"one", "two"}, cfg.Server.APITokens)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_HUB_TOKEN", "secret123")

	path := writeTempFile(t, `
hub:
  url: ws://hub:8123/api/websocket
  token: ${TEST_HUB_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Hub.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeTempFile(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultHandshakeTimeout, cfg.Hub.HandshakeTimeout)
	assert.Equal(t, DefaultMessageTimeout, cfg.Hub.MessageTimeout)
	assert.Equal(t, DefaultReconnectBaseDelay, cfg.Reconnect.BaseDelay)
	assert.Equal(t, DefaultMaxAttempts, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, DefaultBatchSize, cfg.Outbound.BatchSize)
	assert.Equal(t, DefaultFlushInterval, cfg.Outbound.FlushInterval)
	assert.Equal(t, DefaultRateLimit, cfg.Outbound.RateLimit)
	assert.Equal(t, DefaultRateWindow, cfg.Outbound.RateWindow)
	assert.Equal(t, DefaultFreshnessWindow, cfg.State.FreshnessWindow)
	assert.Equal(t, DefaultUpdateAttempts, cfg.State.UpdateAttempts)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, DefaultDBPort, cfg.Database.Postgres.Port)
	assert.False(t, cfg.Database.Postgres.Enabled())
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("DASHBOARD_HUB_URL", "ws://10.0.0.5:8123/api/websocket")
	t.Setenv("DASHBOARD_HUB_TOKEN", "from-env")
	t.Setenv("DASHBOARD_API_TOKENS", " a, b ,,c")
	t.Setenv("DASHBOARD_MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("DASHBOARD_BATCH_FLUSH_INTERVAL", "25ms")

	cfg, err := LoadAndValidate("")
	require.NoError(t, err)

	assert.Equal(t, "ws://10.0.0.5:8123/api/websocket", cfg.Hub.URL)
	assert.Equal(t, "from-env", cfg.Hub.Token)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APITokens)
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Outbound.FlushInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DASHBOARD_HUB_TOKEN", "override")

	cfg, err := LoadWithDefaults(writeTempFile(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Hub.Token)
}

func TestEnvInvalidValue(t *testing.T) {
	t.Setenv("DASHBOARD_RATE_LIMIT", "lots")

	_, err := LoadWithDefaults(writeTempFile(t, minimalYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DASHBOARD_RATE_LIMIT")
}

func TestTokenFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("file-token\n"), 0o600))

	path := writeTempFile(t, `
hub:
  url: ws://hub:8123/api/websocket
  token_file: `+tokenPath+`
server:
  api_tokens: [x]
`)

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Hub.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*DashboardConfig)
		wantErr string
	}{
		{"valid", func(c *DashboardConfig) {}, ""},
		{"missing url", func(c *DashboardConfig) { c.Hub.URL = "" }, "hub.url is required"},
		{"http url", func(c *DashboardConfig) { c.Hub.URL = "http://hub:8123" }, "hub.url must be"},
		{"missing token", func(c *DashboardConfig) { c.Hub.Token = "" }, "hub.token"},
		{"max below base", func(c *DashboardConfig) { c.Reconnect.MaxDelay = time.Millisecond }, "reconnect.max_delay"},
		{"zero attempts", func(c *DashboardConfig) { c.Reconnect.MaxAttempts = -1 }, "reconnect.max_attempts"},
		{"zero batch", func(c *DashboardConfig) { c.Outbound.BatchSize = -1 }, "outbound.batch_size"},
		{"flush too slow", func(c *DashboardConfig) { c.Outbound.FlushInterval = 10 * time.Second }, "outbound.flush_interval"},
		{"no api tokens", func(c *DashboardConfig) { c.Server.APITokens = nil }, "server.api_tokens"},
		{"bad log level", func(c *DashboardConfig) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *DashboardConfig) { c.Log.Format = "xml" }, "log.format"},
		{"incomplete db", func(c *DashboardConfig) { c.Database.Postgres.Host = "db" }, "database.postgres.name is required"},
		{"poller disabled", func(c *DashboardConfig) { c.Poller.Disabled = true; c.Poller.Interval = -1 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeTempFile(t, minimalYAML))
			require.NoError(t, err)

			tt.modify(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
