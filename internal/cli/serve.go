package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quotio/quotiod/internal/config"
	"github.com/quotio/quotiod/internal/daemon"
	qerrors "github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/logging"
)

// Exit codes promised to launchers.
const (
	ExitOK             = 0
	ExitStartupFailure = 1
	ExitAlreadyRunning = 2
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon", "run"},
	Short:   "Start the quotiod daemon",
	Long: `Start the daemon in the foreground. It binds the local IPC socket,
begins the scheduled quota refresh, and supervises the proxy binary on
request. Stop it with SIGINT/SIGTERM or "quotiod shutdown".`,
	RunE: runServe,
	// errors are reported with exit codes, not cobra usage output
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotiod: %v\n", err)
		os.Exit(ExitStartupFailure)
	}

	level := cfg.LogLevel
	if globalFlags.Verbose {
		level = "debug"
	}
	logging.Setup(cfg.LogDir(), level)

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotiod: %v\n", err)
		os.Exit(ExitStartupFailure)
	}

	if err := d.Run(context.Background()); err != nil {
		var already *qerrors.ErrDaemonAlreadyRunning
		if stderrors.As(err, &already) {
			fmt.Fprintf(os.Stderr, "quotiod: %v\n", err)
			os.Exit(ExitAlreadyRunning)
		}
		fmt.Fprintf(os.Stderr, "quotiod: %v\n", err)
		os.Exit(ExitStartupFailure)
	}
	return nil
}
