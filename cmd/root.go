// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X firestige.xyz/meter/cmd.version=...".
var version = "0.1.0-dev"

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meter",
	Short: "meter - passive combat telemetry for game network traffic",
	Long: `meter watches the game client's TCP traffic, rebuilds the server's message
stream and turns combat messages into live encounter statistics.

Features:
  - Live capture (libpcap or AF_PACKET) and pcap file replay
  - Automatic game server identification and stream resync
  - Per-player damage, healing and damage taken, with boss and phase tracking
  - WebSocket push of throttled snapshots and lifecycle notifications
  - Local control over a unix socket, remote control over Kafka`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/meter.sock",
		"daemon control socket path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
