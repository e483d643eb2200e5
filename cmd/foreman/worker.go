package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/taskkind"
	"github.com/cuemby/foreman/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker agent",
	Long: `Connect to a foreman and execute whatever tasks it assigns.

The worker runs one task at a time and reconnects automatically when
the foreman connection drops. Supported task kinds: ` + "`" + `foreman worker
--list-kinds` + "`" + ` prints the registry.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("foreman", "ws://localhost:8080/ws", "Foreman WebSocket URL")
	workerCmd.Flags().String("id", "", "Worker identifier (default: generated UUID)")
	workerCmd.Flags().Duration("checkpoint-interval", worker.DefaultCheckpointInterval, "State upload cadence for checkpointing tasks")
	workerCmd.Flags().Duration("heartbeat-interval", worker.DefaultHeartbeatInterval, "Liveness report cadence")
	workerCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	workerCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
	workerCmd.Flags().Bool("list-kinds", false, "Print registered task kinds and exit")

	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	if list, _ := flags.GetBool("list-kinds"); list {
		for _, name := range taskkind.Names() {
			cmd.Println(name)
		}
		return nil
	}

	level, _ := flags.GetString("log-level")
	jsonOut, _ := flags.GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})

	url, _ := flags.GetString("foreman")
	id, _ := flags.GetString("id")
	checkpointEvery, _ := flags.GetDuration("checkpoint-interval")
	heartbeatEvery, _ := flags.GetDuration("heartbeat-interval")

	w := worker.NewWorker(worker.Config{
		ForemanURL:         url,
		ID:                 id,
		CheckpointInterval: checkpointEvery,
		HeartbeatInterval:  heartbeatEvery,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
