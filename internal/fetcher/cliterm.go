//go:build !windows

package fetcher

import (
	"bufio"
	"context"
	"os/exec"
	"time"

	"github.com/creack/pty"
	log "github.com/sirupsen/logrus"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/models"
)

// cliInteractionTimeout bounds the whole pty conversation so a wedged
// child shell cannot leak.
const cliInteractionTimeout = 15 * time.Second

// CLIFetcher drives an interactive terminal client (the Kimi CLI style)
// instead of an HTTP endpoint. The client refuses to run against a pipe,
// so the child gets a real pseudo-terminal; we type "/usage", wait for
// the "% left" line, and type "/exit".
type CLIFetcher struct {
	provider models.Provider
	command  string
	args     []string
}

// NewCLIFetcher builds a terminal-driving fetcher for provider using the
// given command.
func NewCLIFetcher(provider models.Provider, command string, args []string) *CLIFetcher {
	return &CLIFetcher{provider: provider, command: command, args: args}
}

// Provider implements Fetcher.
func (f *CLIFetcher) Provider() models.Provider {
	return f.provider
}

// Fetch implements Fetcher.
func (f *CLIFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, cliInteractionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.command, f.args...)
	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tty.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	if _, err := tty.WriteString("/usage\n"); err != nil {
		return nil, err
	}

	type parsed struct {
		percent float64
		resetAt *time.Time
	}
	found := make(chan parsed, 1)
	go func() {
		scanner := bufio.NewScanner(tty)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			line := stripTerminalControl(scanner.Text())
			if percent, resetAt, ok := parseUsageLine(line, time.Now()); ok {
				found <- parsed{percent: percent, resetAt: resetAt}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, &errors.ErrNoQuotaData{Provider: string(f.provider)}
	case p := <-found:
		if _, err := tty.WriteString("/exit\n"); err != nil {
			log.WithField("provider", f.provider).Debugf("cli fetcher exit write: %v", err)
		}
		return &models.QuotaSnapshot{
			Models: []models.ModelQuota{{
				Name:             string(f.provider) + "-usage",
				PercentRemaining: models.ClampPercent(p.percent),
				ResetAt:          p.resetAt,
			}},
		}, nil
	}
}
