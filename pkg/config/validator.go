package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
)

// Validate performs comprehensive validation (fail-fast, stops at first
// error). Invalid configuration aborts startup; there is no degraded mode
// for a daemon allowed to run commands as root.
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateBudgets(); err != nil {
		return err
	}
	if err := c.validateTiers(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	return c.validateEndpoints()
}

func (c *Config) validateCore() error {
	if !c.AutonomyLevel.IsValid() {
		return NewValidationError("autonomy_level",
			fmt.Errorf("%w: %q (want observe, suggest, auto_safe, or auto_full)", ErrInvalidValue, c.AutonomyLevel))
	}
	if c.StateDir == "" {
		return NewValidationError("state_dir", ErrMissingRequiredField)
	}
	if c.Hostname == "" {
		return NewValidationError("hostname", ErrMissingRequiredField)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("log_level", fmt.Errorf("%w: %q", ErrInvalidValue, c.LogLevel))
	}
	return nil
}

func (c *Config) validateIntervals() error {
	positive := map[string]int{
		"trigger_interval_s":    c.TriggerIntervalS,
		"review_interval_s":     c.ReviewIntervalS,
		"sar_interval_s":        c.SARIntervalS,
		"debounce_window_s":     c.DebounceWindowS,
		"escalation_cooldown_s": c.EscalationCooldownS,
		"reopen_cooldown_s":     c.ReopenCooldownS,
		"action_timeout_s":      c.ActionTimeoutS,
		"rebuild_timeout_s":     c.RebuildTimeoutS,
		"snapshot_interval_s":   c.SnapshotIntervalS,
		"cleanup_interval_s":    c.CleanupIntervalS,
		"shutdown_grace_s":      c.ShutdownGraceS,
	}
	// Deterministic order keeps error messages stable for tests.
	for _, field := range sortedKeys(positive) {
		if positive[field] <= 0 {
			return NewValidationError(field, fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, positive[field]))
		}
	}
	return nil
}

func (c *Config) validateBudgets() error {
	if c.ContextBudgetTokens < 1024 {
		return NewValidationError("context_budget_tokens",
			fmt.Errorf("%w: must be at least 1024, got %d", ErrInvalidValue, c.ContextBudgetTokens))
	}
	if c.ReviewContextTokens <= 0 || c.ReviewContextTokens > c.ContextBudgetTokens {
		return NewValidationError("review_context_tokens",
			fmt.Errorf("%w: must be in 1..context_budget_tokens, got %d", ErrInvalidValue, c.ReviewContextTokens))
	}
	if c.MetaContextTokens <= 0 || c.MetaContextTokens > c.ContextBudgetTokens {
		return NewValidationError("meta_context_tokens",
			fmt.Errorf("%w: must be in 1..context_budget_tokens, got %d", ErrInvalidValue, c.MetaContextTokens))
	}
	if c.SummaryTokens <= 0 {
		return NewValidationError("summary_tokens",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.SummaryTokens))
	}
	return nil
}

func (c *Config) validateTiers() error {
	tiers := []struct {
		field string
		model string
		url   string
	}{
		{"trigger", c.TriggerModel, c.TriggerBackendURL},
		{"review", c.ReviewModel, c.ReviewBackendURL},
		{"meta", c.MetaModel, c.MetaBackendURL},
	}
	for _, t := range tiers {
		if t.model == "" {
			return NewValidationError(t.field+"_model", ErrMissingRequiredField)
		}
		if t.url == "" {
			return NewValidationError(t.field+"_backend_url", ErrMissingRequiredField)
		}
		u, err := url.Parse(t.url)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError(t.field+"_backend_url",
				fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, t.url))
		}
	}
	return nil
}

func (c *Config) validateThresholds() error {
	pct := map[string]float64{
		"thresholds.cpu_pct":  c.Thresholds.CPUPct,
		"thresholds.mem_pct":  c.Thresholds.MemPct,
		"thresholds.disk_pct": c.Thresholds.DiskPct,
	}
	for _, field := range sortedKeys(pct) {
		if pct[field] <= 0 || pct[field] > 100 {
			return NewValidationError(field,
				fmt.Errorf("%w: must be in (0,100], got %g", ErrInvalidValue, pct[field]))
		}
	}
	if c.Thresholds.LoadPerCore <= 0 {
		return NewValidationError("thresholds.load_per_core",
			fmt.Errorf("%w: must be positive, got %g", ErrInvalidValue, c.Thresholds.LoadPerCore))
	}
	return nil
}

func (c *Config) validateExecutor() error {
	if len(c.ProtectedServices) == 0 {
		return NewValidationError("protected_services",
			fmt.Errorf("%w: refusing to run with an empty protected set", ErrInvalidValue))
	}
	if c.QueueMaxPending <= 0 {
		return NewValidationError("queue_max_pending",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.QueueMaxPending))
	}
	if c.ClassifierMaxLines <= 0 {
		return NewValidationError("classifier_max_lines",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.ClassifierMaxLines))
	}
	if c.MetricsRetentionDays <= 0 {
		return NewValidationError("metrics_retention_days",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.MetricsRetentionDays))
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	if _, _, err := net.SplitHostPort(c.APIListen); err != nil {
		return NewValidationError("api_listen",
			fmt.Errorf("%w: %q is not host:port", ErrInvalidValue, c.APIListen))
	}
	if c.SemanticURL != "" {
		u, err := url.Parse(c.SemanticURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("semantic_url",
				fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, c.SemanticURL))
		}
	}
	if c.Database.Host == "" {
		return NewValidationError("database.host", ErrMissingRequiredField)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return NewValidationError("database.port",
			fmt.Errorf("%w: got %d", ErrInvalidValue, c.Database.Port))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
