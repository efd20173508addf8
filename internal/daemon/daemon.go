// Package daemon wires every subsystem together: it is the only place
// where the store, refresher, fetcher registry, supervisor, tracker and
// IPC server are instantiated, and it owns the process-level concerns
// (PID file, signals, scheduled refresh, shutdown ordering).
package daemon

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/authstore"
	"github.com/quotio/quotiod/internal/config"
	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/fetcher"
	"github.com/quotio/quotiod/internal/httpx"
	"github.com/quotio/quotiod/internal/ipc"
	"github.com/quotio/quotiod/internal/metrics"
	"github.com/quotio/quotiod/internal/models"
	"github.com/quotio/quotiod/internal/notify"
	"github.com/quotio/quotiod/internal/oauth"
	"github.com/quotio/quotiod/internal/proxy"
	"github.com/quotio/quotiod/internal/refresh"
	"github.com/quotio/quotiod/internal/tracker"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Daemon is the singleton background process.
type Daemon struct {
	cfg *config.Config

	store      *authstore.Store
	refresher  *refresh.Refresher
	registry   *fetcher.Registry
	supervisor *proxy.Supervisor
	tracker    *tracker.Tracker
	server     *ipc.Server
	oauth      *oauth.Manager
	settings   *config.Settings
	proxyConf  *config.Settings
	metrics    *metrics.Metrics
	notifier   *notify.Notifier

	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a daemon from configuration. Nothing is bound or spawned
// until Run.
func New(cfg *config.Config) (*Daemon, error) {
	store, err := authstore.New(cfg.AuthDir)
	if err != nil {
		return nil, err
	}
	settings, err := config.NewSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	proxyConf, err := config.NewSettings(filepath.Join(cfg.ConfigDir, "proxy-config.json"))
	if err != nil {
		return nil, err
	}

	client := httpx.New(httpx.Options{
		ProxyURL: cfg.ProxyURL,
		Timeout:  cfg.Quota.RequestTimeout,
	})

	refresher := refresh.New(store, client, cfg.Quota.RefreshBuffer)
	registry := fetcher.NewRegistry(store, refresher, cfg.Quota.RequestTimeout, cfg.Quota.MaxConcurrency)
	registry.RegisterDefaults(client)

	d := &Daemon{
		cfg:        cfg,
		store:      store,
		refresher:  refresher,
		registry:   registry,
		tracker:    tracker.New(cfg.Tracker.Capacity),
		server:     ipc.NewServer(),
		oauth:      oauth.NewManager(store, client),
		settings:   settings,
		proxyConf:  proxyConf,
		metrics:    metrics.New("quotiod"),
		notifier:   notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.PercentThreshold),
		shutdownCh: make(chan struct{}),
	}
	d.supervisor = proxy.New(proxy.Options{
		DataDir:        cfg.DataDir,
		BinaryPath:     cfg.Proxy.BinaryPath,
		StartupTimeout: cfg.Proxy.StartupTimeout,
		HealthInterval: cfg.Proxy.HealthInterval,
		OnConnectionLost: func() {
			d.metrics.ProxyRunning.Set(0)
			d.server.Broadcast("proxy.connectionLost", map[string]any{"timestamp": time.Now().UnixMilli()})
		},
	})
	if !cfg.Telegram.Enabled {
		d.notifier = notify.NewTelegram("", 0, 0)
	}
	return d, nil
}

// Run starts the daemon and blocks until shutdown. The returned error is
// nil on a clean exit; ErrDaemonAlreadyRunning means another instance
// holds the PID file or socket.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquirePIDFile(); err != nil {
		return err
	}
	defer os.Remove(d.cfg.PIDFilePath())

	if err := d.server.Listen(d.cfg.SocketPath()); err != nil {
		return err
	}
	defer os.Remove(d.cfg.SocketPath())

	d.startedAt = time.Now()
	d.registerHandlers()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// adopt or kill a proxy left over from a previous daemon
	d.supervisor.AdoptOrCleanup(ctx, d.cfg.Proxy.DefaultPort)
	if d.supervisor.State().Running {
		d.metrics.ProxyRunning.Set(1)
	}

	go d.supervisor.Monitor(ctx)
	go d.scheduleQuotaRefresh(ctx)

	if err := d.store.Watch(ctx, func() {
		d.pruneCache()
		d.server.Broadcast("auth.changed", map[string]any{"timestamp": time.Now().UnixMilli()})
	}); err != nil {
		log.Warnf("auth directory watcher unavailable: %v", err)
	}

	if d.cfg.Metrics.Enabled {
		go func() {
			if err := d.metrics.Serve(d.cfg.Metrics.Addr); err != nil {
				log.Warnf("metrics listener: %v", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.Serve(ctx) }()

	log.WithFields(log.Fields{"pid": os.Getpid(), "path": d.cfg.SocketPath()}).Info("daemon ready")

	select {
	case sig := <-signals:
		log.Infof("received %s, shutting down", sig)
	case <-d.shutdownCh:
		log.Info("shutdown requested over IPC")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	d.shutdown(cancel)
	return nil
}

// shutdown stops everything in order: health monitor and scheduler (via
// ctx), child proxy, then the IPC listener with its drain window.
func (d *Daemon) shutdown(cancel context.CancelFunc) {
	cancel()

	if d.supervisor.State().Running {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.supervisor.Stop(stopCtx); err != nil {
			log.Warnf("stopping proxy during shutdown: %v", err)
		}
		stopCancel()
	}
	_ = d.server.Close()
	log.Info("daemon stopped")
}

// requestShutdown is triggered by the daemon.shutdown RPC.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// acquirePIDFile enforces the single-instance discipline.
func (d *Daemon) acquirePIDFile() error {
	path := d.cfg.PIDFilePath()
	if raw, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil && pid > 0 {
			if processAlive(pid) {
				return &errors.ErrDaemonAlreadyRunning{PID: pid}
			}
		}
		_ = os.Remove(path)
	}
	if err := os.MkdirAll(d.cfg.ConfigDir, 0o700); err != nil {
		return &errors.ErrDirectoryCreate{Path: d.cfg.ConfigDir, Err: err}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// scheduleQuotaRefresh runs fetch_all on the poll interval and feeds the
// cache, the metrics gauges and the notifier.
func (d *Daemon) scheduleQuotaRefresh(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Quota.PollInterval)
	defer ticker.Stop()

	// one eager cycle so quota.list has data soon after boot
	d.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	result := d.registry.FetchAll(ctx, "")
	for key, snapshot := range result.ByKey {
		provider, _, err := models.ParseAccountKey(key)
		if err != nil {
			continue
		}
		if min := snapshot.MinPercent(); min >= 0 {
			d.metrics.QuotaPercentRemaining.WithLabelValues(key, provider).Set(min)
		}
	}
	for _, fe := range result.Errors {
		d.metrics.FetchErrors.WithLabelValues(fe.Provider, fe.Kind).Inc()
	}
	d.notifier.ObserveCycle(result.ByKey)
	d.server.Broadcast("quota.updated", map[string]any{
		"fetched":   len(result.ByKey),
		"errors":    len(result.Errors),
		"timestamp": time.Now().UnixMilli(),
	})
}

// pruneCache drops cached snapshots whose credential file disappeared.
func (d *Daemon) pruneCache() {
	accounts, err := d.store.List("")
	if err != nil {
		return
	}
	known := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		known[acc.Key] = struct{}{}
	}
	for key := range d.registry.Cache().All() {
		if _, ok := known[key]; !ok {
			d.registry.Cache().Delete(key)
		}
	}
}
