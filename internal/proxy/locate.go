package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/errors"
)

// proxyBinaryName is the child binary's base name; Windows gets .exe.
func proxyBinaryName() string {
	name := "cli-proxy-api"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Locate resolves the child binary, in order: the explicit override from
// config, a bundled per-platform asset next to the daemon executable, and
// finally the copy installed under <data-dir>/bin. The bundled asset is
// (re)extracted into the data dir when the installed copy is missing or
// reports a different version.
func (s *Supervisor) Locate(ctx context.Context) (string, error) {
	var searched []string

	if s.binaryPath != "" {
		if fileExists(s.binaryPath) {
			return s.binaryPath, nil
		}
		searched = append(searched, s.binaryPath)
	}

	bundled := bundledAssetPath()
	installed := filepath.Join(s.dataDir, "bin", proxyBinaryName())

	if fileExists(bundled) {
		bundledVersion := sniffVersion(ctx, bundled)
		if fileExists(installed) && sniffVersion(ctx, installed) == bundledVersion {
			return installed, nil
		}
		if err := extractBinary(bundled, installed); err != nil {
			// fall back to running the bundled asset in place
			log.Warnf("cannot install proxy binary: %v", err)
			return bundled, nil
		}
		log.WithFields(log.Fields{"path": installed}).Infof("installed proxy binary %s", bundledVersion)
		return installed, nil
	}
	searched = append(searched, bundled)

	if fileExists(installed) {
		return installed, nil
	}
	searched = append(searched, installed)

	return "", &errors.ErrBinaryNotFound{Searched: searched}
}

// bundledAssetPath is the per-platform asset shipped alongside the daemon.
func bundledAssetPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	dir := filepath.Dir(exe)
	return filepath.Join(dir, "resources", fmt.Sprintf("%s-%s-%s", proxyBinaryName(), runtime.GOOS, runtime.GOARCH))
}

// sniffVersion runs "<bin> --version" and returns the trimmed first line.
func sniffVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return line
}

// extractBinary copies src into dst with 0755, going through a temp file
// so a crash never leaves a half-written executable.
func extractBinary(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return &errors.ErrDirectoryCreate{Path: filepath.Dir(dst), Err: err}
	}
	in, err := os.Open(src)
	if err != nil {
		return &errors.ErrIO{Path: src, Err: err}
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".extract-*")
	if err != nil {
		return &errors.ErrIO{Path: dst, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return &errors.ErrIO{Path: tmpName, Err: err}
	}
	return os.Rename(tmpName, dst)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
