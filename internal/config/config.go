package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quotio/quotiod/internal/errors"
)

// Config is the daemon configuration loaded from quotiod.yaml. Every field
// has a default; a missing file yields Default() unchanged.
type Config struct {
	// ConfigDir holds the socket, PID file, config.json and quotiod.yaml.
	ConfigDir string `yaml:"config_dir"`
	// DataDir holds the extracted proxy binary and log files.
	DataDir string `yaml:"data_dir"`
	// AuthDir holds the per-account credential files.
	AuthDir string `yaml:"auth_dir"`

	LogLevel string `yaml:"log_level"`

	// ProxyURL is applied to every outbound fetcher; empty means direct.
	ProxyURL string `yaml:"proxy_url"`

	Quota    QuotaConfig    `yaml:"quota"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// QuotaConfig tunes the quota refresh engine.
type QuotaConfig struct {
	// PollInterval is the period of the scheduled fetch_all cycle.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RequestTimeout bounds one provider HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxConcurrency caps in-flight fetches per provider.
	MaxConcurrency int `yaml:"max_concurrency"`
	// RefreshBuffer is the proactive token refresh window.
	RefreshBuffer time.Duration `yaml:"refresh_buffer"`
}

// ProxyConfig tunes the child proxy supervisor.
type ProxyConfig struct {
	DefaultPort    int           `yaml:"default_port"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	BinaryPath     string        `yaml:"binary_path"`
}

// TrackerConfig tunes the in-memory request log.
type TrackerConfig struct {
	Capacity int `yaml:"capacity"`
}

// MetricsConfig enables the optional loopback prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TelegramConfig enables low-quota notifications.
type TelegramConfig struct {
	Enabled          bool    `yaml:"enabled"`
	BotToken         string  `yaml:"bot_token"`
	ChatID           int64   `yaml:"chat_id"`
	PercentThreshold float64 `yaml:"percent_threshold"`
}

// Default returns the configuration used when quotiod.yaml is absent.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ConfigDir: filepath.Join(home, ".config", "quotio"),
		DataDir:   filepath.Join(home, ".local", "share", "quotio"),
		AuthDir:   filepath.Join(home, ".cli-proxy-api"),
		LogLevel:  "info",
		Quota: QuotaConfig{
			PollInterval:   3 * time.Minute,
			RequestTimeout: 20 * time.Second,
			MaxConcurrency: 5,
			RefreshBuffer:  5 * time.Minute,
		},
		Proxy: ProxyConfig{
			DefaultPort:    8317,
			StartupTimeout: 5 * time.Second,
			HealthInterval: 5 * time.Second,
		},
		Tracker: TrackerConfig{Capacity: 10000},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9109"},
		Telegram: TelegramConfig{
			PercentThreshold: 10,
		},
	}
}

// Validate checks ranges that would otherwise break subsystems at runtime.
func (c *Config) Validate() error {
	if c.Quota.PollInterval < 30*time.Second {
		return fmt.Errorf("quota.poll_interval must be at least 30s, got %s", c.Quota.PollInterval)
	}
	if c.Quota.MaxConcurrency < 1 {
		return fmt.Errorf("quota.max_concurrency must be positive, got %d", c.Quota.MaxConcurrency)
	}
	if c.Tracker.Capacity < 1 {
		return fmt.Errorf("tracker.capacity must be positive, got %d", c.Tracker.Capacity)
	}
	if c.Proxy.DefaultPort < 1 || c.Proxy.DefaultPort > 65535 {
		return fmt.Errorf("proxy.default_port out of range: %d", c.Proxy.DefaultPort)
	}
	return nil
}

// Parse decodes YAML on top of the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}
	return cfg, nil
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.ConfigDir, "quotio.sock")
}

// PIDFilePath returns the daemon PID file location.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.ConfigDir, "quotio.pid")
}

// SettingsPath returns the verbatim key/value store location.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.ConfigDir, "config.json")
}

// LogDir returns where the daemon writes its own logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// BinDir returns where extracted proxy binaries are installed.
func (c *Config) BinDir() string {
	return filepath.Join(c.DataDir, "bin")
}

// ProxyPIDFilePath returns the child proxy PID file location.
func (c *Config) ProxyPIDFilePath() string {
	return filepath.Join(c.DataDir, "proxy.pid")
}
