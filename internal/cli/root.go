package cli

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/daemon"
)

// GlobalFlags contains flags available on every command.
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

var globalFlags GlobalFlags

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "quotiod",
	Short: "Quotio daemon - quota and credential broker for AI coding assistants",
	Long: `quotiod is the background service behind Quotio. It watches the
credential files of your AI coding assistant accounts, keeps their access
tokens fresh, polls every provider's quota endpoint into one uniform view,
and supervises the bundled CLI proxy binary.

The daemon itself is started with "quotiod serve"; every other subcommand
talks to a running daemon over its local socket.`,
}

// InitRoot wires global flags and the standalone commands.
func InitRoot() {
	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to quotiod.yaml (default: <config-dir>/quotiod.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the quotiod version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("quotiod %s (%s, %s/%s)\n", daemon.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
