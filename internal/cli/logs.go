package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent proxied requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			var response struct {
				Logs []struct {
					ID         string `json:"id"`
					Timestamp  string `json:"timestamp"`
					Method     string `json:"method"`
					Path       string `json:"path"`
					StatusCode int    `json:"status_code"`
					Duration   int64  `json:"duration"`
					Provider   string `json:"provider"`
					Model      string `json:"model"`
					Error      string `json:"error"`
				} `json:"logs"`
				Total int `json:"total"`
			}
			if err := client.Call(ctx, "logs.fetch", nil, &response); err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(response)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMETHOD\tPATH\tPROVIDER\tMODEL\tSTATUS\tMS")
			for _, l := range response.Logs {
				status := fmt.Sprintf("%d", l.StatusCode)
				if l.Error != "" {
					status = "ERR"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					l.Timestamp, l.Method, l.Path, l.Provider, l.Model, status, l.Duration)
			}
			return w.Flush()
		})
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the request log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			return client.Call(ctx, "logs.clear", nil, nil)
		})
	},
}

func init() {
	logsCmd.AddCommand(logsClearCmd)
	RootCmd.AddCommand(logsCmd)
}
