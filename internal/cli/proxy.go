package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Control the supervised proxy binary",
}

var proxyStartFlags struct {
	Port int
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			params := map[string]any{}
			if proxyStartFlags.Port != 0 {
				params["port"] = proxyStartFlags.Port
			}
			var result struct {
				Port int `json:"port"`
				PID  int `json:"pid"`
			}
			if err := client.Call(ctx, "proxy.start", params, &result); err != nil {
				return err
			}
			fmt.Printf("proxy running on port %d (pid %d)\n", result.Port, result.PID)
			return nil
		})
	},
}

var proxyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			if err := client.Call(ctx, "proxy.stop", nil, nil); err != nil {
				return err
			}
			fmt.Println("proxy stopped")
			return nil
		})
	},
}

var proxyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			var status map[string]any
			if err := client.Call(ctx, "proxy.status", nil, &status); err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(status)
			}
			if running, _ := status["running"].(bool); running {
				fmt.Printf("running on port %v (pid %v, healthy=%v)\n",
					status["port"], status["pid"], status["healthy"])
			} else {
				fmt.Println("stopped")
				if lastErr, ok := status["last_error"].(string); ok && lastErr != "" {
					fmt.Printf("last error: %s\n", lastErr)
				}
			}
			return nil
		})
	},
}

func init() {
	proxyStartCmd.Flags().IntVar(&proxyStartFlags.Port, "port", 0, "Listen port (default from config)")
	proxyCmd.AddCommand(proxyStartCmd)
	proxyCmd.AddCommand(proxyStopCmd)
	proxyCmd.AddCommand(proxyStatusCmd)
	RootCmd.AddCommand(proxyCmd)
}
