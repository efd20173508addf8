// Package proxy supervises the bundled child proxy binary: locating it,
// starting and stopping it, health-checking it, and adopting or killing
// orphans left by a previous daemon. The supervisor is the only owner of
// the child process handle and the proxy PID file.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/models"
)

const (
	stopGracePeriod     = 500 * time.Millisecond
	healthProbeTimeout  = 2 * time.Second
	defaultHealthPath   = "/health"
	consecutiveFailTrip = 2
)

// Supervisor owns the child proxy lifecycle.
type Supervisor struct {
	dataDir        string
	binaryPath     string // explicit override; empty means locate
	startupTimeout time.Duration
	healthInterval time.Duration

	httpClient *http.Client

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     models.ProxyProcessState
	lastError string
	failures  int

	onLost func()
}

// Options configures a Supervisor.
type Options struct {
	DataDir        string
	BinaryPath     string
	StartupTimeout time.Duration
	HealthInterval time.Duration
	// OnConnectionLost fires after two consecutive health failures.
	OnConnectionLost func()
}

// New builds a supervisor.
func New(opts Options) *Supervisor {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 5 * time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	return &Supervisor{
		dataDir:        opts.DataDir,
		binaryPath:     opts.BinaryPath,
		startupTimeout: opts.StartupTimeout,
		healthInterval: opts.HealthInterval,
		httpClient:     &http.Client{Timeout: healthProbeTimeout},
		onLost:         opts.OnConnectionLost,
	}
}

func (s *Supervisor) pidFilePath() string {
	return filepath.Join(s.dataDir, "proxy.pid")
}

// State returns a copy of the current process state.
func (s *Supervisor) State() models.ProxyProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the last recorded failure message.
func (s *Supervisor) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Start spawns the child on port and blocks until its health endpoint
// answers 200 or the startup deadline elapses. Stdio goes to /dev/null;
// the child keeps its own log files under the data dir.
func (s *Supervisor) Start(ctx context.Context, port int) error {
	s.mu.Lock()
	if s.state.Running {
		s.mu.Unlock()
		return fmt.Errorf("proxy already running with pid %d", s.state.PID)
	}
	s.mu.Unlock()

	binary, err := s.Locate(ctx)
	if err != nil {
		return err
	}

	cmd := exec.Command(binary, "--port", strconv.Itoa(port))
	cmd.Dir = s.dataDir
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return &errors.ErrIO{Path: os.DevNull, Err: err}
	}
	defer devNull.Close()
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = models.ProxyProcessState{
		Running:   true,
		PID:       cmd.Process.Pid,
		Port:      port,
		StartedAt: time.Now(),
	}
	s.failures = 0
	s.lastError = ""
	s.mu.Unlock()

	if err := s.writePIDFile(cmd.Process.Pid); err != nil {
		log.WithField("pid", cmd.Process.Pid).Warnf("cannot write proxy pid file: %v", err)
	}

	// reap the child and record nonzero exits
	go s.wait(cmd)

	deadline := time.Now().Add(s.startupTimeout)
	for time.Now().Before(deadline) {
		if s.probe(ctx, port) {
			s.mu.Lock()
			s.state.LastHealthyAt = time.Now()
			s.mu.Unlock()
			log.WithFields(log.Fields{"pid": cmd.Process.Pid, "port": port}).Info("proxy started")
			return nil
		}
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	_ = s.Stop(context.Background())
	return &errors.ErrStartupTimeout{Port: port, Timeout: s.startupTimeout.String()}
}

// wait blocks on the child and flips state when it exits on its own.
func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd {
		// a newer child replaced this one
		return
	}
	if err != nil {
		s.lastError = fmt.Sprintf("proxy exited: %v", err)
		log.Warnf("proxy exited: %v", err)
	}
	s.cmd = nil
	s.state = models.ProxyProcessState{Port: s.state.Port}
	_ = os.Remove(s.pidFilePath())
}

// Stop terminates the child: SIGTERM, a short grace period, then SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		// adopted child: we hold a pid but no process handle
		if s.state.Running && s.state.PID > 0 {
			pid := s.state.PID
			s.state = models.ProxyProcessState{Port: s.state.Port}
			s.mu.Unlock()
			if proc, err := os.FindProcess(pid); err == nil {
				_ = proc.Signal(syscall.SIGTERM)
				time.Sleep(stopGracePeriod)
				if processAlive(pid) {
					_ = proc.Signal(syscall.SIGKILL)
				}
			}
			_ = os.Remove(s.pidFilePath())
			log.WithField("pid", pid).Info("proxy stopped")
			return nil
		}
		s.mu.Unlock()
		return &errors.ErrProxyNotRunning{}
	}
	pid := cmd.Process.Pid
	s.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			s.mu.Lock()
			gone := s.cmd != cmd
			s.mu.Unlock()
			if gone {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	log.WithField("pid", pid).Info("proxy stopped")
	return nil
}

// probe hits the child's health endpoint once.
func (s *Supervisor) probe(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, defaultHealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Healthy probes the running child once and updates the state stamp.
func (s *Supervisor) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	running := s.state.Running
	port := s.state.Port
	s.mu.Unlock()
	if !running {
		return false
	}
	if !s.probe(ctx, port) {
		return false
	}
	s.mu.Lock()
	s.state.LastHealthyAt = time.Now()
	s.mu.Unlock()
	return true
}

// Monitor probes every health interval. Two consecutive failures flip
// running to false and surface the loss; there is no automatic restart.
func (s *Supervisor) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		running := s.state.Running
		port := s.state.Port
		s.mu.Unlock()
		if !running {
			continue
		}

		if s.probe(ctx, port) {
			s.mu.Lock()
			s.failures = 0
			s.state.LastHealthyAt = time.Now()
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.failures++
		tripped := s.failures >= consecutiveFailTrip && s.state.Running
		if tripped {
			s.state.Running = false
			s.state.PID = 0
			s.lastError = "connection lost"
			s.failures = 0
		}
		s.mu.Unlock()

		if tripped {
			log.Warn("proxy health check failed twice, connection lost")
			if s.onLost != nil {
				s.onLost()
			}
		}
	}
}

func (s *Supervisor) writePIDFile(pid int) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.pidFilePath(), []byte(strconv.Itoa(pid)), 0o600)
}

// AdoptOrCleanup handles a stale proxy PID file on boot: a live, healthy
// owner is adopted into the current state; anything else is killed and
// the file removed.
func (s *Supervisor) AdoptOrCleanup(ctx context.Context, port int) {
	raw, err := os.ReadFile(s.pidFilePath())
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		_ = os.Remove(s.pidFilePath())
		return
	}

	if processAlive(pid) && s.probe(ctx, port) {
		s.mu.Lock()
		s.state = models.ProxyProcessState{
			Running:       true,
			PID:           pid,
			Port:          port,
			StartedAt:     time.Now(),
			LastHealthyAt: time.Now(),
		}
		s.mu.Unlock()
		log.WithFields(log.Fields{"pid": pid, "port": port}).Info("adopted running proxy")
		return
	}

	if processAlive(pid) {
		if proc, perr := os.FindProcess(pid); perr == nil {
			_ = proc.Signal(syscall.SIGKILL)
		}
		log.WithField("pid", pid).Info("killed stale proxy")
	}
	_ = os.Remove(s.pidFilePath())
}

// processAlive reports whether pid names a live process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
