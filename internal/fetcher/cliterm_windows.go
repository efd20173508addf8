//go:build windows

package fetcher

import (
	"context"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/models"
)

// CLIFetcher needs a pseudo-terminal; ConPTY plumbing is not wired yet,
// so the fetcher reports no data on Windows rather than hanging a pipe.
type CLIFetcher struct {
	provider models.Provider
	command  string
	args     []string
}

// NewCLIFetcher builds the stub fetcher.
func NewCLIFetcher(provider models.Provider, command string, args []string) *CLIFetcher {
	return &CLIFetcher{provider: provider, command: command, args: args}
}

// Provider implements Fetcher.
func (f *CLIFetcher) Provider() models.Provider {
	return f.provider
}

// Fetch implements Fetcher.
func (f *CLIFetcher) Fetch(ctx context.Context, acc *models.Account) (*models.QuotaSnapshot, error) {
	return nil, &errors.ErrNoQuotaData{Provider: string(f.provider)}
}
