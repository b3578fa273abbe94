// Package main is the entry point for the meter combat telemetry daemon.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/meter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
