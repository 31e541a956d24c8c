package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read the YAML file (a missing file means defaults-only)
//  3. Expand environment variables
//  4. Merge user values over the defaults
//  5. Resolve the hostname when unset
//  6. Validate the result
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"autonomy", cfg.AutonomyLevel,
		"state_dir", cfg.StateDir,
		"context_budget", cfg.ContextBudgetTokens,
		"classifier", cfg.ClassifierEnabled())

	return cfg, nil
}

func load(_ context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults alone describe a working daemon; an absent file is
		// how most hosts start out.
		slog.Warn("Configuration file not found, using built-in defaults", "path", path)
	case err != nil:
		return nil, NewLoadError(path, err)
	default:
		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("merge user config: %w", err))
		}
	}

	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.Hostname = hostname
	}

	return cfg, nil
}
