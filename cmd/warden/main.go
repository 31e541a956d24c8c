// Warden daemon and control CLI. `warden run` starts the resident
// monitor; the other subcommands talk to a running daemon over its
// local HTTP API and fall back to the state directory when the daemon
// is down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/version"
)

const defaultConfigPath = "/etc/warden/config.yaml"

var (
	flagConfig   string
	flagLogLevel string

	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Autonomous host monitor and remediation daemon",
	Long: `Warden watches one host: it samples metrics, tails the journal,
probes critical services, and keeps a token-budgeted context that
tiered language models review. Proposed fixes pass a policy gate and
an approval queue before anything touches the system.

Run the daemon with 'warden run'. Every other subcommand is a thin
client for the daemon's local API.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath, "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// exitError tags an error with the process exit status. Errors without
// a tag are treated as usage errors.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// runtimeErr marks err as a runtime failure (exit status 2) as opposed
// to a usage error (exit status 1).
func runtimeErr(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 2, err: err}
}

// loadConfig reads the .env next to the config file, loads the
// configuration, and configures the default logger. Shared by every
// subcommand.
func loadConfig(ctx context.Context) (*config.Config, error) {
	// Most hosts have no .env; stay quiet about it outside `run`.
	_ = godotenv.Load(filepath.Join(filepath.Dir(flagConfig), ".env"))

	cfg, err := config.Initialize(ctx, flagConfig)
	if err != nil {
		return nil, runtimeErr(err)
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logLevel.Set(parseLogLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// opContext bounds one client call against the daemon.
func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// chatContext bounds one conversational turn; deep-tier replies can
// take a while.
func chatContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
