package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cuemby/foreman/pkg/client"
	"github.com/cuemby/foreman/pkg/log"
)

var resultsCmd = &cobra.Command{
	Use:   "results JOB_ID",
	Short: "Fetch a completed job's results",
	Long: `Fetch the results of a job whose submitting connection is gone,
for example after a timed-out submit. The job must have finished; a
still-running job yields an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().String("foreman", "ws://localhost:8080/ws", "Foreman WebSocket URL")
	resultsCmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 = wait forever)")

	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.WarnLevel})

	ctx := cmd.Context()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url, _ := cmd.Flags().GetString("foreman")
	c := client.NewClient(url)

	results, err := c.GetResults(ctx, args[0])
	if err != nil {
		return err
	}
	return printResults(cmd, results)
}
