package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - distributed task execution service",
	Long: `Foreman runs batches of tasks across a pool of workers connected
over WebSocket. Jobs are fan-outs of one task per argument; long tasks
checkpoint their state incrementally so a replacement worker can resume
mid-run instead of starting over.

One binary serves every role: the coordinating foreman, the worker
agent and the submitting client.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Foreman version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}
