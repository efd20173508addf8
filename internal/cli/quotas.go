package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var quotasFlags struct {
	Provider string
	Fetch    bool
}

var quotasCmd = &cobra.Command{
	Use:   "quotas",
	Short: "Show current quotas for all accounts",
	Long: `Show the cached quota snapshot per account. With --fetch the daemon
polls every provider first instead of answering from cache.`,
	RunE: runQuotas,
}

func init() {
	quotasCmd.Flags().StringVar(&quotasFlags.Provider, "provider", "", "Only this provider")
	quotasCmd.Flags().BoolVar(&quotasFlags.Fetch, "fetch", false, "Force a fresh poll before listing")
	RootCmd.AddCommand(quotasCmd)
}

type quotaInfo struct {
	Account     string `json:"account"`
	Provider    string `json:"provider"`
	Plan        string `json:"plan"`
	IsForbidden bool   `json:"is_forbidden"`
	FetchedAt   string `json:"fetched_at"`
	Models      []struct {
		Name             string  `json:"name"`
		PercentRemaining float64 `json:"percent_remaining"`
		ResetAt          string  `json:"reset_at"`
	} `json:"models"`
}

func runQuotas(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, client *ipc.Client) error {
		var response struct {
			Quotas []quotaInfo      `json:"quotas"`
			Errors []map[string]any `json:"errors"`
		}
		if quotasFlags.Fetch {
			params := map[string]any{}
			if quotasFlags.Provider != "" {
				params["provider"] = quotasFlags.Provider
			}
			if err := client.Call(ctx, "quota.fetch", params, &response); err != nil {
				return err
			}
		} else {
			if err := client.Call(ctx, "quota.list", nil, &response); err != nil {
				return err
			}
		}

		if globalFlags.JSON {
			return printJSON(response)
		}

		sort.Slice(response.Quotas, func(i, j int) bool {
			return response.Quotas[i].Account < response.Quotas[j].Account
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tMODEL\tREMAINING\tRESETS")
		for _, q := range response.Quotas {
			if quotasFlags.Provider != "" && q.Provider != quotasFlags.Provider {
				continue
			}
			if q.IsForbidden {
				fmt.Fprintf(w, "%s\t-\tforbidden\t-\n", q.Account)
				continue
			}
			for _, m := range q.Models {
				remaining := "unknown"
				if m.PercentRemaining >= 0 {
					remaining = fmt.Sprintf("%.0f%%", m.PercentRemaining)
				}
				reset := m.ResetAt
				if reset == "" {
					reset = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", q.Account, m.Name, remaining, reset)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, e := range response.Errors {
			fmt.Printf("warning: %v (%v): %v\n", e["account"], e["provider"], e["error"])
		}
		return nil
	})
}
