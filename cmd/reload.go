package cmd

import (
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/meter/internal/daemon"
)

// signaler delivers a signal to the daemon owning a PID file.
type signaler func(pidFile string, sig syscall.Signal) error

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's log settings",
	Long: `Send SIGHUP to the daemon recorded in the PID file.

Only log settings are applied live; other changes need a restart.

Examples:
  meter reload -p /run/meter.pid`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(daemon.Signal, reloadPIDFile, cmd.OutOrStdout())
	},
}

var reloadPIDFile string

func init() {
	reloadCmd.Flags().StringVarP(&reloadPIDFile, "pidfile", "p", "/tmp/meter.pid",
		"PID file of the running daemon")
}

func runReload(send signaler, pidFile string, out io.Writer) error {
	if err := send(pidFile, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Reload signal sent")
	return nil
}
