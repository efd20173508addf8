//go:build !windows

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quotio/quotiod/internal/errors"
)

func startTestServer(t *testing.T, register func(*Server)) (string, *Server) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "quotio.sock")
	srv := NewServer()
	srv.Register("daemon.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{"pong": true, "timestamp": time.Now().UnixMilli()}, nil
	})
	if register != nil {
		register(srv)
	}
	require.NoError(t, srv.Listen(socketPath))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return socketPath, srv
}

func rawCall(t *testing.T, conn net.Conn, line string) map[string]any {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	respLine, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(respLine, &parsed))
	return parsed
}

func TestPingEndToEnd(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp := rawCall(t, conn, `{"jsonrpc":"2.0","id":1,"method":"daemon.ping","params":{}}`)
	assert.Equal(t, float64(1), resp["id"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["pong"])
	assert.Greater(t, result["timestamp"].(float64), float64(0))
}

func TestUnknownMethod(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp := rawCall(t, conn, `{"jsonrpc":"2.0","id":2,"method":"nope","params":{}}`)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32601), errObj["code"])
	assert.Equal(t, "Method not found: nope", errObj["message"])
}

func TestMalformedJSON(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp := rawCall(t, conn, `{"jsonrpc":"2.0",`)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32700), errObj["code"])
	assert.Nil(t, resp["id"])
}

func TestInvalidRequestShape(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp := rawCall(t, conn, `{"jsonrpc":"1.0","id":7,"method":"daemon.ping"}`)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32600), errObj["code"])
}

func TestApplicationErrorCode(t *testing.T) {
	socketPath, _ := startTestServer(t, func(srv *Server) {
		srv.Register("proxy.stop", func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, qerrors.RPCError(qerrors.CodeProxyNotRunning, "proxy is not running")
		})
	})
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp := rawCall(t, conn, `{"jsonrpc":"2.0","id":3,"method":"proxy.stop","params":{}}`)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, float64(1001), errObj["code"])
}

func TestNotificationProducesNoResponse(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"daemon.ping","params":{}}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 128)
	_, err = conn.Read(buf)
	assert.Error(t, err, "expected a read timeout, got data")
}

func TestResponsesMayArriveOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	socketPath, _ := startTestServer(t, func(srv *Server) {
		srv.Register("slow", func(ctx context.Context, params json.RawMessage) (any, error) {
			<-release
			return "slow-result", nil
		})
		srv.Register("fast", func(ctx context.Context, params json.RawMessage) (any, error) {
			return "fast-result", nil
		})
	})
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"fast"}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	first, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(first, &resp))
	assert.Equal(t, "2", string(resp.ID), "fast response overtakes the slow one")

	close(release)
	second, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(second, &resp))
	assert.Equal(t, "1", string(resp.ID))
}

func TestClientCallAndTimeout(t *testing.T) {
	socketPath, _ := startTestServer(t, func(srv *Server) {
		srv.Register("hang", func(ctx context.Context, params json.RawMessage) (any, error) {
			time.Sleep(2 * time.Second)
			return nil, nil
		})
	})

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	var result map[string]any
	require.NoError(t, client.Call(context.Background(), "daemon.ping", nil, &result))
	assert.Equal(t, true, result["pong"])

	client.SetTimeout(200 * time.Millisecond)
	err = client.Call(context.Background(), "hang", nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBroadcastReachesClients(t *testing.T) {
	socketPath, srv := startTestServer(t, nil)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	got := make(chan string, 1)
	client.OnNotification = func(method string, params json.RawMessage) {
		got <- method
	}

	// the connection registers on the server asynchronously
	require.Eventually(t, func() bool { return srv.ConnCount() == 1 }, 2*time.Second, 20*time.Millisecond)
	srv.Broadcast("auth.changed", map[string]any{"reason": "file"})

	select {
	case method := <-got:
		assert.Equal(t, "auth.changed", method)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestStaleSocketTakeover(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "quotio.sock")

	// simulate a crashed daemon: socket file exists, nobody listens
	l, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	rawListener := l.(*net.UnixListener)
	rawListener.SetUnlinkOnClose(false)
	require.NoError(t, rawListener.Close())

	srv := NewServer()
	require.NoError(t, srv.Listen(socketPath))
	defer srv.Close()
}

func TestSecondDaemonRefused(t *testing.T) {
	socketPath, _ := startTestServer(t, nil)

	second := NewServer()
	err := second.Listen(socketPath)
	var already *qerrors.ErrDaemonAlreadyRunning
	assert.ErrorAs(t, err, &already)
}
