package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/foreman/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a foreman's broker statistics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("api", "http://localhost:8080", "Foreman HTTP API base URL")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	base, _ := cmd.Flags().GetString("api")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(base + "/api/v1/stats")
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch stats: %s", resp.Status)
	}

	var stats types.BrokerStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	cmd.Printf("Connected workers: %d\n", stats.ConnectedWorkers)
	cmd.Printf("  Available:       %d\n", stats.AvailableWorkers)
	cmd.Printf("  Busy:            %d\n", stats.BusyWorkers)
	cmd.Printf("Active jobs:       %d\n", stats.ActiveJobs)
	return nil
}
