package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting anything.

Environment overrides (METER_*) are applied the same way the daemon applies them.

Examples:
  meter validate -c meter.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = "(defaults)"
	}

	emit := cfg.Emit.Listen
	if emit == "" {
		emit = "off"
	}
	fmt.Fprintf(out, "VALID: %s: capture %s, persist %s, emit %s, kafka control %t\n",
		path,
		cfg.Capture.Source,
		cfg.Persist.Sink,
		emit,
		cfg.Control.Kafka.Enabled,
	)
	return nil
}
