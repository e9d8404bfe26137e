// Package main is the tool-meister-start coordinator entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDebug bool
	flagQuiet bool
)

var rootCmd = &cobra.Command{
	Use:   "tool-meister-start [group]",
	Short: "Bring up the coordination bus and start a tool-meister fleet",
	Long: `tool-meister-start brings up the coordination bus, loads the named
tool-group directory tree, starts the data sink, fans out per-host tool
meister agents (local fork plus remote secure-shell), waits for every agent
to register, and records the resulting agent identifier registry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if lastExitCode != 0 {
			return lastExitCode
		}
		return 1
	}
	return lastExitCode
}

func init() {
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable verbose logging")
	rootCmd.Flags().BoolVar(&flagQuiet, "quiet", false, "suppress the progress spinner")
}
