package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/orchestrator"
	"github.com/wardenlabs/warden/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the warden daemon",
	Long: `Starts the resident monitor: trigger loop, review cadence, executor,
and the local control API. Blocks until SIGINT or SIGTERM, then drains
workers within the configured shutdown grace.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	envPath := filepath.Join(filepath.Dir(flagConfig), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, flagConfig)
	if err != nil {
		return runtimeErr(err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("Starting warden",
		"version", version.Full(),
		"host", cfg.Hostname,
		"autonomy", cfg.AutonomyLevel,
		"config", flagConfig)

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return runtimeErr(fmt.Errorf("start warden: %w", err))
	}
	return runtimeErr(orch.Run(ctx))
}
