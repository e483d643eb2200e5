package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/foreman/pkg/client"
	"github.com/cuemby/foreman/pkg/log"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job and wait for its results",
	Long: `Submit one task per argument and block until every task reaches a
terminal state. Results print as a JSON array ordered by argument
index; terminally failed tasks leave a null slot.

Examples:
  # Square three numbers
  foreman submit --kind square --args '[2, 3, 4]'

  # A checkpointed batch from a manifest
  foreman submit -f batch.yaml`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("foreman", "ws://localhost:8080/ws", "Foreman WebSocket URL")
	submitCmd.Flags().String("kind", "", "Task kind to run")
	submitCmd.Flags().String("args", "", "JSON array with one element per task")
	submitCmd.Flags().StringP("file", "f", "", "YAML job manifest (kind, args, job_id, checkpoint)")
	submitCmd.Flags().String("job-id", "", "Job identifier (default: generated UUID)")
	submitCmd.Flags().Bool("checkpoint", false, "Ask workers to checkpoint task state")
	submitCmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 = wait forever)")

	rootCmd.AddCommand(submitCmd)
}

// jobManifest is the YAML shape of --file
type jobManifest struct {
	Kind       string `yaml:"kind"`
	Args       []any  `yaml:"args"`
	JobID      string `yaml:"job_id"`
	Checkpoint bool   `yaml:"checkpoint"`
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	log.Init(log.Config{Level: log.WarnLevel})

	kind, _ := flags.GetString("kind")
	rawArgs, _ := flags.GetString("args")
	jobID, _ := flags.GetString("job-id")
	checkpointing, _ := flags.GetBool("checkpoint")

	var args []any
	if path, _ := flags.GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		var manifest jobManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
		if kind == "" {
			kind = manifest.Kind
		}
		if jobID == "" {
			jobID = manifest.JobID
		}
		checkpointing = checkpointing || manifest.Checkpoint
		args = manifest.Args
	}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Errorf("parse --args: %w", err)
		}
	}
	if kind == "" {
		return fmt.Errorf("--kind (or a manifest with one) is required")
	}

	ctx := cmd.Context()
	if timeout, _ := flags.GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opts := []client.SubmitOption{}
	if jobID != "" {
		opts = append(opts, client.WithJobID(jobID))
	}
	if checkpointing {
		opts = append(opts, client.WithCheckpointing())
	}

	url, _ := flags.GetString("foreman")
	c := client.NewClient(url)

	start := time.Now()
	submittedID, results, err := c.SubmitJob(ctx, kind, args, opts...)
	if err != nil {
		if submittedID != "" {
			return fmt.Errorf("job %s: %w (retrieve later with: foreman results %s)", submittedID, err, submittedID)
		}
		return err
	}

	cmd.Printf("Job %s completed in %s\n", submittedID, time.Since(start).Round(time.Millisecond))
	return printResults(cmd, results)
}

func printResults(cmd *cobra.Command, results []any) error {
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
