package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Minute, cfg.Quota.PollInterval)
	assert.Equal(t, 10000, cfg.Tracker.Capacity)
	assert.Contains(t, cfg.SocketPath(), "quotio.sock")
	assert.Contains(t, cfg.PIDFilePath(), "quotio.pid")
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
proxy_url: http://127.0.0.1:8080
quota:
  poll_interval: 1m
  max_concurrency: 3
proxy:
  default_port: 9000
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ProxyURL)
	assert.Equal(t, time.Minute, cfg.Quota.PollInterval)
	assert.Equal(t, 3, cfg.Quota.MaxConcurrency)
	assert.Equal(t, 9000, cfg.Proxy.DefaultPort)
	// untouched fields keep their defaults
	assert.Equal(t, 10000, cfg.Tracker.Capacity)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("quota: ["))
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	cfg := Default()
	cfg.Quota.PollInterval = time.Second
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Proxy.DefaultPort = 99999
	assert.Error(t, cfg.Validate())
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("QUOTIO_CONFIG_DIR", t.TempDir())
	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, os.Getenv("QUOTIO_CONFIG_DIR"), cfg.ConfigDir)
}

func TestLoaderExplicitMissingFileFails(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotiod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth_dir: /from/file\n"), 0o600))
	t.Setenv("QUOTIO_AUTH_DIR", "/from/env")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.AuthDir)
}
