package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/ipc"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage credential accounts",
}

var accountsListFlags struct {
	Provider string
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			params := map[string]any{}
			if accountsListFlags.Provider != "" {
				params["provider"] = accountsListFlags.Provider
			}
			var response struct {
				Accounts []struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Provider  string `json:"provider"`
					Email     string `json:"email"`
					Status    string `json:"status"`
					Disabled  bool   `json:"disabled"`
					LastError string `json:"last_error"`
				} `json:"accounts"`
			}
			if err := client.Call(ctx, "auth.list", params, &response); err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(response)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tEMAIL\tSTATUS\tDISABLED")
			for _, acc := range response.Accounts {
				status := acc.Status
				if acc.LastError != "" {
					status = fmt.Sprintf("%s (%s)", acc.Status, acc.LastError)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", acc.ID, acc.Provider, acc.Email, status, acc.Disabled)
			}
			return w.Flush()
		})
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(args[0], true)
	},
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(args[0], false)
	},
}

func setDisabled(name string, disabled bool) error {
	return withClient(func(ctx context.Context, client *ipc.Client) error {
		return client.Call(ctx, "auth.setDisabled",
			map[string]any{"name": name, "disabled": disabled}, nil)
	})
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an account's credential file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			if err := client.Call(ctx, "auth.delete", map[string]any{"name": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		})
	},
}

var accountsLoginFlags struct {
	ProjectID string
}

var accountsLoginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Start an interactive login for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *ipc.Client) error {
			params := map[string]any{"provider": args[0]}
			if accountsLoginFlags.ProjectID != "" {
				params["project_id"] = accountsLoginFlags.ProjectID
			}
			var start struct {
				URL   string `json:"url"`
				State string `json:"state"`
			}
			if err := client.Call(ctx, "oauth.start", params, &start); err != nil {
				return err
			}
			fmt.Printf("Open this URL to sign in:\n  %s\n", start.URL)
			fmt.Println("Waiting for the browser flow to finish...")

			for {
				var poll struct {
					Status string `json:"status"`
					Error  string `json:"error"`
				}
				if err := client.Call(ctx, "oauth.poll", map[string]any{"state": start.State}, &poll); err != nil {
					return err
				}
				switch poll.Status {
				case "success":
					fmt.Println("Login complete.")
					return nil
				case "error":
					return fmt.Errorf("login failed: %s", poll.Error)
				}
				if err := sleepCtx(ctx); err != nil {
					return err
				}
			}
		})
	},
}

func sleepCtx(ctx context.Context) error {
	timer := newTimer()
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func init() {
	accountsListCmd.Flags().StringVar(&accountsListFlags.Provider, "provider", "", "Only this provider")
	accountsLoginCmd.Flags().StringVar(&accountsLoginFlags.ProjectID, "project", "", "Cloud project id (google providers)")
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsEnableCmd)
	accountsCmd.AddCommand(accountsDisableCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
	accountsCmd.AddCommand(accountsLoginCmd)
	RootCmd.AddCommand(accountsCmd)
}
