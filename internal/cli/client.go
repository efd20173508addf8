package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/quotio/quotiod/internal/config"
	"github.com/quotio/quotiod/internal/ipc"
)

// withClient loads the config, dials the daemon, runs fn, and cleans up.
func withClient(fn func(ctx context.Context, client *ipc.Client) error) error {
	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		return err
	}
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		return fmt.Errorf("cannot reach the daemon (is \"quotiod serve\" running?): %w", err)
	}
	defer client.Close()
	return fn(context.Background(), client)
}

// printJSON renders any RPC result for --json mode.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
