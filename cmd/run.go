package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/meter/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the meter daemon in foreground",
	Long: `Run the meter daemon in foreground.

The daemon will:
  1. Load configuration from the config file (or built-in defaults)
  2. Initialize logging and metrics
  3. Start capture and the processing pipeline
  4. Serve snapshots and commands over WebSocket
  5. Start the unix socket and Kafka command channels (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	runCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (none when empty)")
}

func runDaemon() error {
	socket := ""
	if rootCmd.PersistentFlags().Changed("socket") {
		socket = socketPath
	}

	d, err := daemon.New(configFile, socket, pidFile, daemon.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
