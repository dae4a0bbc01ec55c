package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per run so
// flag values never leak between cases.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vitalink",
		Short: "Stream biosignals from VitalLink BLE sensors",
		Long: `Command-line client for VitalLink BLE biosignal sensors:

- Discover nearby sensors and filter them against the device whitelist
- Connect and stream ECG, PPG or structured packets with a live waveform
- Record decoded samples to CSV

Use --simulate to run against built-in simulated sensors.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("whitelist", "", "Path to a YAML device whitelist (defaults to the built-in table)")
	flags.Bool("simulate", false, "Use simulated sensors instead of the Bluetooth adapter")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Enable debug logging")

	root.AddCommand(newDevicesCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newStreamCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
