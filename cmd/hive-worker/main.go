// Hive subprocess worker. Serves its agent as MCP tools on stdin and
// stdout until stdin closes. The worker config arrives as a JSON argument;
// all logging goes to stderr to keep the MCP channel clean.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/session"
	"github.com/agenthive/hive/pkg/version"
	"github.com/agenthive/hive/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to the runtime configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	workerCfg, err := readWorkerConfig(flag.Args())
	if err != nil {
		logger.Error("Invalid worker configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting worker", "version", version.Full(), "role", workerCfg.Role)

	runtimeCfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	defer session.Reset()

	err = worker.Serve(context.Background(), worker.ServeOptions{
		Config:      *workerCfg,
		UpstreamBin: runtimeCfg.UpstreamBin,
		AppsJSON:    runtimeCfg.AppsJSON,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

// readWorkerConfig accepts the config JSON as the first positional
// argument or, when absent, from the HIVE_WORKER_CONFIG environment
// variable.
func readWorkerConfig(args []string) (*config.WorkerConfig, error) {
	raw := os.Getenv("HIVE_WORKER_CONFIG")
	if len(args) > 0 {
		raw = args[0]
	}
	if raw == "" {
		return nil, errors.New("worker config JSON required as argument or HIVE_WORKER_CONFIG")
	}

	var cfg config.WorkerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse worker config: %w", err)
	}
	if cfg.Role == "" {
		return nil, errors.New("worker config needs a role")
	}
	return &cfg, nil
}

func loadRuntimeConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNotFound) {
		return cfg, nil
	}
	return cfg, err
}
