package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and proxy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			var status map[string]any
			if err := client.Call(ctx, "daemon.status", nil, &status); err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(status)
			}

			fmt.Printf("Daemon:  running (pid %v, version %v)\n", status["pid"], status["version"])
			if uptime, ok := status["uptime_ms"].(float64); ok {
				fmt.Printf("Uptime:  %s\n", (time.Duration(uptime) * time.Millisecond).Round(time.Second))
			}
			if running, _ := status["proxy_running"].(bool); running {
				fmt.Printf("Proxy:   running on port %v\n", status["proxy_port"])
			} else {
				fmt.Println("Proxy:   stopped")
			}
			return nil
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			if err := client.Call(ctx, "daemon.shutdown", map[string]any{"graceful": true}, nil); err != nil {
				return err
			}
			fmt.Println("shutdown requested")
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(shutdownCmd)
}
