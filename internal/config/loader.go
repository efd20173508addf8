package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/quotio/quotiod/internal/errors"
)

// Loader reads quotiod.yaml and applies environment overrides.
type Loader struct {
	path   string
	mu     sync.RWMutex
	config *Config
}

// NewLoader creates a loader for the given path. An empty path means
// "the default location inside the resolved config directory".
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads the configuration, falling back to defaults when the file
// does not exist. Environment overrides win over the file.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := Default()
	applyEnvOverrides(cfg)

	path := l.path
	if path == "" {
		path = filepath.Join(cfg.ConfigDir, "quotiod.yaml")
	}

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(content)
		if err != nil {
			return nil, err
		}
		// env still wins over the file
		applyEnvOverrides(cfg)
	case os.IsNotExist(err):
		if l.path != "" {
			// an explicitly requested file must exist
			return nil, &errors.ErrConfigNotFound{Path: path}
		}
	default:
		return nil, &errors.ErrIO{Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.config = cfg
	return cfg, nil
}

// Get returns the most recently loaded configuration.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUOTIO_CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}
	if v := os.Getenv("QUOTIO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QUOTIO_AUTH_DIR"); v != "" {
		cfg.AuthDir = v
	}
	if v := os.Getenv("QUOTIO_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("QUOTIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
