package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/daemon"
	logpkg "firestige.xyz/meter/internal/log"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.pcap>",
	Short: "Replay a capture file and print the encounter summary",
	Long: `Replay a saved capture through the full pipeline.

Time is taken from packet timestamps, so phases and attempts split the same way
they would have live. The final encounter summary is printed as JSON on stdout;
logs go to stderr.

Examples:
  meter replay raid.pcap
  meter replay -c meter.yaml --filter "tcp port 5003" raid.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		closer, err := logpkg.Init(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer closer.Close()

		filter := cfg.Capture.BPFFilter
		if cmd.Flags().Changed("filter") {
			filter = replayFilter
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, cfg, capture.NewFile(args[0], filter), cmd.OutOrStdout())
	},
}

var replayFilter string

func init() {
	replayCmd.Flags().StringVar(&replayFilter, "filter", "",
		"BPF filter applied to the file (default: capture.bpf_filter)")
}

// loadConfig loads path, or the built-in defaults when path is empty.
func loadConfig(path string) (*config.GlobalConfig, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, src capture.Capturer, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := daemon.Replay(ctx, cfg, src)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
