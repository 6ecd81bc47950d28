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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "myoctl",
	Short: "Myo armband command-line driver",
	Long: `Command-line driver for the Myo EMG/IMU armband that provides:

- Scan for nearby armbands
- Show device name, firmware and battery level
- Stream EMG, IMU, classifier and motion data to the terminal
- Record streams to JSON-lines files
- Serve live state and control over an HTTP API
- Vibrate and set LED colours

Settings can be loaded from a YAML file with --config; flags take precedence.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(vibrateCmd)
	rootCmd.AddCommand(ledsCmd)

	addGlobalFlags(rootCmd)
}

// addGlobalFlags registers the flags every subcommand understands
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	cmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().StringP("address", "a", "", "Armband address (default: first armband found)")
	cmd.PersistentFlags().Duration("scan-timeout", 0, "How long to look for the armband (default from config: 10s)")
}
