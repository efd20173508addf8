package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write daemon settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			var response struct {
				Value json.RawMessage `json:"value"`
			}
			if err := client.Call(ctx, "config.get", map[string]any{"key": args[0]}, &response); err != nil {
				return err
			}
			if response.Value == nil {
				fmt.Println("(unset)")
				return nil
			}
			fmt.Println(string(response.Value))
			return nil
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one setting (value is raw JSON, strings need quotes)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			value := json.RawMessage(args[1])
			if !json.Valid(value) {
				// treat bare words as strings for convenience
				quoted, err := json.Marshal(args[1])
				if err != nil {
					return err
				}
				value = quoted
			}
			return client.Call(ctx, "config.set", map[string]any{"key": args[0], "value": value}, nil)
		})
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	RootCmd.AddCommand(configCmd)
}
