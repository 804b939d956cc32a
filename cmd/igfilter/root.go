package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igfilter",
	Short: "Filter Instagram username lists by inferred gender",
	Long: `igfilter processes large lists of Instagram usernames and writes out the
ones that appear to belong to male users.

The pipeline rejects gibberish and business handles locally, fetches the
remaining profiles through a pool of rate-limited accounts, and sends
unverified profiles (picture plus display name) to a vision AI model for
classification. All outcomes land in a JSON debug log that doubles as
resume state, so an interrupted run can pick up where it left off.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .igfilter.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}
