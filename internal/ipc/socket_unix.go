//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
	"time"

	qerrors "github.com/quotio/quotiod/internal/errors"
)

// listenLocal binds a unix domain socket with 0600 permissions. An
// existing socket file is probed first: if a daemon answers, binding
// fails; if nothing answers, the stale file is unlinked and replaced.
func listenLocal(path string) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &qerrors.ErrDirectoryCreate{Path: dir, Err: err}
	}

	if _, err := os.Stat(path); err == nil {
		if conn, derr := net.DialTimeout("unix", path, time.Second); derr == nil {
			_ = conn.Close()
			return nil, &qerrors.ErrDaemonAlreadyRunning{}
		}
		if err := os.Remove(path); err != nil {
			return nil, &qerrors.ErrIO{Path: path, Err: err}
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, &qerrors.ErrIO{Path: path, Err: err}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, &qerrors.ErrIO{Path: path, Err: err}
	}
	return listener, nil
}

// dialLocal connects to a daemon socket.
func dialLocal(path string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, &qerrors.ErrDaemonNotRunning{SocketPath: path}
	}
	return conn, nil
}
