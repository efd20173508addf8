//go:build windows

package ipc

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"

	qerrors "github.com/quotio/quotiod/internal/errors"
)

// pipeName ignores the unix socket path; the daemon is addressed by a
// fixed named pipe on Windows.
const pipeName = `\\.\pipe\quotio`

// listenLocal binds the named pipe. The pipe namespace already rejects a
// second listener, which doubles as the single-instance check.
func listenLocal(_ string) (net.Listener, error) {
	listener, err := winio.ListenPipe(pipeName, &winio.PipeConfig{})
	if err != nil {
		return nil, &qerrors.ErrDaemonAlreadyRunning{}
	}
	return listener, nil
}

// dialLocal connects to the daemon pipe.
func dialLocal(_ string, timeout time.Duration) (net.Conn, error) {
	conn, err := winio.DialPipe(pipeName, &timeout)
	if err != nil {
		return nil, &qerrors.ErrDaemonNotRunning{SocketPath: pipeName}
	}
	return conn, nil
}
