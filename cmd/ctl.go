package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/meter/internal/command"
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Send a command to the running daemon",
	Long: `Send a control command to the running daemon over its unix socket.

Examples:
  meter ctl status
  meter ctl reset
  meter ctl boss-only on
  meter ctl subscribe 4021 dps`,
}

// call issues one request on c.
type call func(c ControlClient, ctx context.Context) (*command.Response, error)

func ctlRunE(fn func(args []string) (call, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := fn(args)
		if err != nil {
			return err
		}
		return runCtl(cmd.Context(), newClient(), c, cmd.OutOrStdout())
	}
}

// runCtl runs one command and writes the indented result.
func runCtl(ctx context.Context, client ControlClient, c call, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c(client, ctx)
	if err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("command failed (%d): %s", resp.Error.Code, resp.Error.Message)
	}
	data, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func simple(fn call) func([]string) (call, error) {
	return func([]string) (call, error) { return fn, nil }
}

// parseSwitch builds an on/off command calling set.
func parseSwitch(name string, set func(ControlClient, context.Context, bool) (*command.Response, error)) func([]string) (call, error) {
	return func(args []string) (call, error) {
		var enabled bool
		switch args[0] {
		case "on", "true", "1":
			enabled = true
		case "off", "false", "0":
		default:
			return nil, fmt.Errorf("%s expects on or off, got %q", name, args[0])
		}
		return func(c ControlClient, ctx context.Context) (*command.Response, error) {
			return set(c, ctx, enabled)
		}, nil
	}
}

func parseSubscription(subscribe bool) func([]string) (call, error) {
	return func(args []string) (call, error) {
		uid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || uid <= 0 {
			return nil, fmt.Errorf("invalid uid %q", args[0])
		}
		metric := args[1]
		return func(c ControlClient, ctx context.Context) (*command.Response, error) {
			if subscribe {
				return c.Subscribe(ctx, uid, metric)
			}
			return c.Unsubscribe(ctx, uid, metric)
		}, nil
	}
}

func init() {
	ctlCmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show uptime and the live encounter summary",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.Status)),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "End the live encounter",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.Reset)),
		},
		&cobra.Command{
			Use:   "toggle-pause",
			Short: "Pause or resume combat accounting",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.TogglePause)),
		},
		&cobra.Command{
			Use:   "boss-only <on|off>",
			Short: "Restrict damage views to boss targets",
			Args:  cobra.ExactArgs(1),
			RunE:  ctlRunE(parseSwitch("boss-only", ControlClient.SetBossOnly)),
		},
		&cobra.Command{
			Use:   "subscribe <uid> <metric>",
			Short: "Publish a player's skill breakdown (dps, heal or tanked)",
			Args:  cobra.ExactArgs(2),
			RunE:  ctlRunE(parseSubscription(true)),
		},
		&cobra.Command{
			Use:   "unsubscribe <uid> <metric>",
			Short: "Stop publishing a player's skill breakdown",
			Args:  cobra.ExactArgs(2),
			RunE:  ctlRunE(parseSubscription(false)),
		},
		&cobra.Command{
			Use:   "restart-capture",
			Short: "Reopen the capture source and re-identify the server",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.RestartCapture)),
		},
		&cobra.Command{
			Use:   "reset-metrics",
			Short: "Zero player metrics and keep the encounter running",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.ResetMetrics)),
		},
		&cobra.Command{
			Use:   "wipe-detection <on|off>",
			Short: "Split attempts when the whole party dies",
			Args:  cobra.ExactArgs(1),
			RunE:  ctlRunE(parseSwitch("wipe-detection", ControlClient.SetWipeDetection)),
		},
		&cobra.Command{
			Use:   "dungeon-segments <on|off>",
			Short: "Track boss and trash segments of the current scene",
			Args:  cobra.ExactArgs(1),
			RunE:  ctlRunE(parseSwitch("dungeon-segments", ControlClient.SetDungeonSegments)),
		},
		&cobra.Command{
			Use:   "dungeon-log",
			Short: "Show the segment history of the current scene",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.DungeonLog)),
		},
		&cobra.Command{
			Use:   "buffs",
			Short: "Show buff uptime of every player",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.LiveBuffs)),
		},
		&cobra.Command{
			Use:   "shutdown",
			Short: "Stop the daemon gracefully",
			Args:  cobra.NoArgs,
			RunE:  ctlRunE(simple(ControlClient.Shutdown)),
		},
	)
}
