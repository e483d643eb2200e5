package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/foreman/pkg/api"
	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/job"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/router"
	"github.com/cuemby/foreman/pkg/scheduler"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the foreman service",
	Long: `Run the coordinating foreman: the WebSocket endpoint workers and
clients connect to, plus the HTTP observability API.

Examples:
  # Serve with defaults
  foreman serve

  # Serve with a config file and a different scheduler
  foreman serve --config foreman.yaml --scheduler performance`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("data-dir", "./foreman-data", "Directory for the task database and checkpoint blobs")
	serveCmd.Flags().String("scheduler", "fifo", "Worker selection strategy: "+strings.Join(scheduler.Names(), ", "))
	serveCmd.Flags().Int("retry-limit", job.DefaultRetryLimit, "Retries before a task fails terminally (0 = unbounded)")
	serveCmd.Flags().Duration("heartbeat-interval", router.DefaultHeartbeatInterval, "Worker ping cadence")
	serveCmd.Flags().Duration("stall-timeout", sweeper.DefaultStallThreshold, "Silence before an assigned task counts as stalled")
	serveCmd.Flags().Duration("sweep-interval", sweeper.DefaultInterval, "Recovery sweep cadence")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
	serveCmd.Flags().String("config", "", "YAML config file; explicit flags override it")

	rootCmd.AddCommand(serveCmd)
}

type serveConfig struct {
	Listen            string
	DataDir           string
	Scheduler         string
	RetryLimit        int
	HeartbeatInterval time.Duration
	StallTimeout      time.Duration
	SweepInterval     time.Duration
	LogLevel          string
	LogJSON           bool
}

// serveFileConfig is the YAML shape of --config. Durations are strings
// in time.ParseDuration syntax. Pointer fields distinguish "absent"
// from zero values.
type serveFileConfig struct {
	Listen            string `yaml:"listen"`
	DataDir           string `yaml:"data_dir"`
	Scheduler         string `yaml:"scheduler"`
	RetryLimit        *int   `yaml:"retry_limit"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	StallTimeout      string `yaml:"stall_timeout"`
	SweepInterval     string `yaml:"sweep_interval"`
	Log               struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
}

func loadServeConfig(cmd *cobra.Command) (serveConfig, error) {
	flags := cmd.Flags()
	cfg := serveConfig{}
	cfg.Listen, _ = flags.GetString("listen")
	cfg.DataDir, _ = flags.GetString("data-dir")
	cfg.Scheduler, _ = flags.GetString("scheduler")
	cfg.RetryLimit, _ = flags.GetInt("retry-limit")
	cfg.HeartbeatInterval, _ = flags.GetDuration("heartbeat-interval")
	cfg.StallTimeout, _ = flags.GetDuration("stall-timeout")
	cfg.SweepInterval, _ = flags.GetDuration("sweep-interval")
	cfg.LogLevel, _ = flags.GetString("log-level")
	cfg.LogJSON, _ = flags.GetBool("log-json")

	path, _ := flags.GetString("config")
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var file serveFileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// File values fill in anything not set explicitly on the command line
	if file.Listen != "" && !flags.Changed("listen") {
		cfg.Listen = file.Listen
	}
	if file.DataDir != "" && !flags.Changed("data-dir") {
		cfg.DataDir = file.DataDir
	}
	if file.Scheduler != "" && !flags.Changed("scheduler") {
		cfg.Scheduler = file.Scheduler
	}
	if file.RetryLimit != nil && !flags.Changed("retry-limit") {
		cfg.RetryLimit = *file.RetryLimit
	}
	if file.Log.Level != "" && !flags.Changed("log-level") {
		cfg.LogLevel = file.Log.Level
	}
	if file.Log.JSON != nil && !flags.Changed("log-json") {
		cfg.LogJSON = *file.Log.JSON
	}
	for _, d := range []struct {
		raw  string
		flag string
		dst  *time.Duration
	}{
		{file.HeartbeatInterval, "heartbeat-interval", &cfg.HeartbeatInterval},
		{file.StallTimeout, "stall-timeout", &cfg.StallTimeout},
		{file.SweepInterval, "sweep-interval", &cfg.SweepInterval},
	} {
		if d.raw == "" || flags.Changed(d.flag) {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("parse config duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	strategy, err := scheduler.New(cfg.Scheduler)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	metrics.RegisterComponent("store", true, "open")

	blobs, err := checkpoint.NewBlobStore(filepath.Join(cfg.DataDir, "checkpoints"))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer func() { _ = blobs.Close() }()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ring := events.NewRing(broker, 256)
	ring.Start()
	defer ring.Stop()

	reg := registry.NewRegistry()
	jobs := job.NewManager(st, broker, cfg.RetryLimit)
	dispatcher := dispatch.NewDispatcher(st, reg, jobs, strategy, broker)
	checkpoints := checkpoint.NewManager(st, blobs, broker)

	collector := metrics.NewCollector(reg, jobs)
	collector.Start()
	defer collector.Stop()

	msgRouter := router.NewRouter(router.Config{
		Store:             st,
		Registry:          reg,
		Jobs:              jobs,
		Dispatcher:        dispatcher,
		Checkpoints:       checkpoints,
		Broker:            broker,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	msgRouter.StartHeartbeat()
	defer msgRouter.Stop()
	metrics.RegisterComponent("router", true, "running")

	swp := sweeper.NewSweeper(sweeper.Config{
		Store:            st,
		Registry:         reg,
		Jobs:             jobs,
		Checkpoints:      checkpoints,
		Broker:           broker,
		Interval:         cfg.SweepInterval,
		StallThreshold:   cfg.StallTimeout,
		WorkerStaleAfter: 3 * cfg.HeartbeatInterval,
	})
	swp.Start()
	defer swp.Stop()

	server := api.NewServer(api.Config{
		Listen:      cfg.Listen,
		Router:      msgRouter,
		Store:       st,
		Registry:    reg,
		Jobs:        jobs,
		Checkpoints: checkpoints,
		Ring:        ring,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Str("scheduler", cfg.Scheduler).
		Msg("foreman running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	return nil
}
