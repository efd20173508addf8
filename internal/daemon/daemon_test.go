//go:build !windows

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotio/quotiod/internal/config"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/ipc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.ConfigDir = filepath.Join(base, "config")
	cfg.DataDir = filepath.Join(base, "data")
	cfg.AuthDir = filepath.Join(base, "auths")
	cfg.Quota.PollInterval = time.Hour // keep the scheduler quiet in tests
	return cfg
}

// startDaemon runs the daemon until the test ends and returns a client.
func startDaemon(t *testing.T, cfg *config.Config) *ipc.Client {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("daemon did not stop in time")
		}
	})

	var client *ipc.Client
	require.Eventually(t, func() bool {
		client, err = ipc.Dial(cfg.SocketPath())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPingStatusRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	var ping struct {
		Pong      bool  `json:"pong"`
		Timestamp int64 `json:"timestamp"`
	}
	require.NoError(t, client.Call(context.Background(), "daemon.ping", nil, &ping))
	assert.True(t, ping.Pong)
	assert.Greater(t, ping.Timestamp, int64(0))

	var status struct {
		Running      bool   `json:"running"`
		PID          int    `json:"pid"`
		ProxyRunning bool   `json:"proxy_running"`
		Version      string `json:"version"`
	}
	require.NoError(t, client.Call(context.Background(), "daemon.status", nil, &status))
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.False(t, status.ProxyRunning)
	assert.NotEmpty(t, status.Version)
}

func TestAuthLifecycleOverIPC(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	require.NoError(t, os.MkdirAll(cfg.AuthDir, 0o700))
	authFile := filepath.Join(cfg.AuthDir, "claude-alice.json")
	require.NoError(t, os.WriteFile(authFile, []byte(`{"access_token":"tok","email":"alice@example.com"}`), 0o600))

	var list struct {
		Accounts []struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Email    string `json:"email"`
			Disabled bool   `json:"disabled"`
			Status   string `json:"status"`
		} `json:"accounts"`
	}
	require.NoError(t, client.Call(context.Background(), "auth.list", nil, &list))
	require.Len(t, list.Accounts, 1)
	assert.Equal(t, "claude-alice", list.Accounts[0].ID)
	assert.Equal(t, "ready", list.Accounts[0].Status)

	require.NoError(t, client.Call(context.Background(), "auth.setDisabled",
		map[string]any{"name": "claude-alice", "disabled": true}, nil))
	require.NoError(t, client.Call(context.Background(), "auth.list", nil, &list))
	assert.True(t, list.Accounts[0].Disabled)

	var modelsResp struct {
		Success bool `json:"success"`
		Models  []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	require.NoError(t, client.Call(context.Background(), "auth.models",
		map[string]any{"name": "claude-alice"}, &modelsResp))
	assert.True(t, modelsResp.Success)
	assert.NotEmpty(t, modelsResp.Models)

	require.NoError(t, client.Call(context.Background(), "auth.delete",
		map[string]any{"name": "claude-alice"}, nil))
	_, err := os.Stat(authFile)
	assert.True(t, os.IsNotExist(err))

	err = client.Call(context.Background(), "auth.delete", map[string]any{"name": "claude-alice"}, nil)
	var rpcErr *ipc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, errors.CodeAgentNotFound, rpcErr.Code)
}

func TestProxyStatusWhenStopped(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	var status struct {
		Running bool `json:"running"`
		Healthy bool `json:"healthy"`
		Port    *int `json:"port"`
		PID     *int `json:"pid"`
	}
	require.NoError(t, client.Call(context.Background(), "proxy.status", nil, &status))
	assert.False(t, status.Running)
	assert.False(t, status.Healthy)
	assert.Nil(t, status.Port)
	assert.Nil(t, status.PID)

	err := client.Call(context.Background(), "proxy.stop", nil, nil)
	var rpcErr *ipc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, errors.CodeProxyNotRunning, rpcErr.Code)
}

func TestStatsAndLogsOverIPC(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	entry := map[string]any{
		"method":      "POST",
		"endpoint":    "/v1/messages",
		"provider":    "claude",
		"model":       "claude-sonnet-4-5",
		"in_tok":      120,
		"out_tok":     640,
		"duration_ms": 900,
		"status":      200,
	}
	var added struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.Call(context.Background(), "stats.add", entry, &added))
	assert.Len(t, added.ID, 26)

	var stats struct {
		Total struct {
			Count int64 `json:"count"`
		} `json:"total"`
		Success int64 `json:"success_count"`
	}
	require.NoError(t, client.Call(context.Background(), "stats.get", nil, &stats))
	assert.Equal(t, int64(1), stats.Total.Count)
	assert.Equal(t, int64(1), stats.Success)

	var logs struct {
		Success bool `json:"success"`
		Logs    []struct {
			ID   string `json:"id"`
			Path string `json:"path"`
		} `json:"logs"`
		Total  int    `json:"total"`
		LastID string `json:"last_id"`
	}
	require.NoError(t, client.Call(context.Background(), "logs.fetch", nil, &logs))
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "/v1/messages", logs.Logs[0].Path)
	assert.Equal(t, added.ID, logs.LastID)

	require.NoError(t, client.Call(context.Background(), "logs.clear", nil, nil))
	require.NoError(t, client.Call(context.Background(), "logs.fetch", nil, &logs))
	assert.Empty(t, logs.Logs)
}

func TestConfigAndAPIKeysOverIPC(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	require.NoError(t, client.Call(context.Background(), "config.set",
		map[string]any{"key": "theme", "value": "dark"}, nil))
	var got struct {
		Value string `json:"value"`
	}
	require.NoError(t, client.Call(context.Background(), "config.get",
		map[string]any{"key": "theme"}, &got))
	assert.Equal(t, "dark", got.Value)

	// values survive verbatim on disk
	raw, err := os.ReadFile(cfg.SettingsPath())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"dark"`)

	require.NoError(t, client.Call(context.Background(), "apiKeys.add",
		map[string]any{"key": "sk-local-1"}, nil))
	var keys struct {
		Keys []string `json:"keys"`
	}
	require.NoError(t, client.Call(context.Background(), "apiKeys.list", nil, &keys))
	assert.Equal(t, []string{"sk-local-1"}, keys.Keys)

	require.NoError(t, client.Call(context.Background(), "apiKeys.delete",
		map[string]any{"key": "sk-local-1"}, nil))
	require.NoError(t, client.Call(context.Background(), "apiKeys.list", nil, &keys))
	assert.Empty(t, keys.Keys)
}

func TestQuotaListEmpty(t *testing.T) {
	cfg := testConfig(t)
	client := startDaemon(t, cfg)

	var quotas struct {
		Quotas []any `json:"quotas"`
	}
	require.NoError(t, client.Call(context.Background(), "quota.list", nil, &quotas))
	assert.Empty(t, quotas.Quotas)
}

func TestShutdownOverIPC(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	var client *ipc.Client
	require.Eventually(t, func() bool {
		client, err = ipc.Dial(cfg.SocketPath())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Call(context.Background(), "daemon.shutdown",
		map[string]any{"graceful": true}, nil))

	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after daemon.shutdown")
	}

	// socket and pid file are gone
	_, err = os.Stat(cfg.SocketPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.PIDFilePath())
	assert.True(t, os.IsNotExist(err))
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t)
	_ = startDaemon(t, cfg)

	second, err := New(cfg)
	require.NoError(t, err)
	err = second.Run(context.Background())
	var already *errors.ErrDaemonAlreadyRunning
	assert.ErrorAs(t, err, &already)
}
