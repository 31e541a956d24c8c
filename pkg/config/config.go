// Package config loads, validates, and watches warden's YAML
// configuration. A single config.yaml holds everything; environment
// variables are injected with {{.VAR}} template syntax before parsing.
package config

import (
	"fmt"
	"time"
)

// Config is the resolved configuration tree returned by Initialize and
// threaded through every component. Durations are stored as integer
// seconds to match the file format; use the accessor methods when a
// time.Duration is needed.
type Config struct {
	configPath string

	Hostname      string        `yaml:"hostname"`
	StateDir      string        `yaml:"state_dir"`
	LogLevel      string        `yaml:"log_level"`
	AutonomyLevel AutonomyLevel `yaml:"autonomy_level"`

	TriggerIntervalS int `yaml:"trigger_interval_s"`
	ReviewIntervalS  int `yaml:"review_interval_s"`
	SARIntervalS     int `yaml:"sar_interval_s"`
	SARFreshS        int `yaml:"sar_fresh_s"`

	ContextBudgetTokens int `yaml:"context_budget_tokens"`
	ReviewContextTokens int `yaml:"review_context_tokens"`
	MetaContextTokens   int `yaml:"meta_context_tokens"`
	SummaryTokens       int `yaml:"summary_tokens"`
	CompressAgeS        int `yaml:"compress_age_s"`

	TriggerModel      string `yaml:"trigger_model"`
	ReviewModel       string `yaml:"review_model"`
	MetaModel         string `yaml:"meta_model"`
	TriggerBackendURL string `yaml:"trigger_backend_url"`
	ReviewBackendURL  string `yaml:"review_backend_url"`
	MetaBackendURL    string `yaml:"meta_backend_url"`
	UseTriggerModel   *bool  `yaml:"use_trigger_model"`

	ClassifierMaxLines   int        `yaml:"classifier_max_lines"`
	MetricsRetentionDays int        `yaml:"metrics_retention_days"`
	ProtectedServices    []string   `yaml:"protected_services"`
	CriticalServices     []string   `yaml:"critical_services"`
	CleanupCommands      []string   `yaml:"cleanup_commands"`
	RebuildDryRunCmd     string     `yaml:"rebuild_dry_run_cmd"`
	RebuildSwitchCmd     string     `yaml:"rebuild_switch_cmd"`
	Thresholds           Thresholds `yaml:"thresholds"`

	DebounceWindowS     int `yaml:"debounce_window_s"`
	EscalationCooldownS int `yaml:"escalation_cooldown_s"`
	ReopenCooldownS     int `yaml:"reopen_cooldown_s"`
	ActionTimeoutS      int `yaml:"action_timeout_s"`
	RebuildTimeoutS     int `yaml:"rebuild_timeout_s"`
	QueueMaxPending     int `yaml:"queue_max_pending"`
	SnapshotIntervalS   int `yaml:"snapshot_interval_s"`
	CleanupIntervalS    int `yaml:"cleanup_interval_s"`
	ShutdownGraceS      int `yaml:"shutdown_grace_s"`

	Database    DatabaseConfig `yaml:"database"`
	SemanticURL string         `yaml:"semantic_url"`
	Gotify      GotifyConfig   `yaml:"gotify"`
	Slack       SlackConfig    `yaml:"slack"`
	APIListen   string         `yaml:"api_listen"`
}

// Thresholds are the metric levels above which the trigger loop emits
// events. Comparisons are strictly greater than, so a reading exactly at
// the threshold stays quiet.
type Thresholds struct {
	CPUPct      float64 `yaml:"cpu_pct"`
	MemPct      float64 `yaml:"mem_pct"`
	DiskPct     float64 `yaml:"disk_pct"`
	LoadPerCore float64 `yaml:"load_per_core"`
}

// DatabaseConfig holds PostgreSQL connection settings for the time-series
// store.
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	SSLMode         string `yaml:"sslmode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_s"`
}

// GotifyConfig holds the primary notification backend settings. An empty
// URL disables the backend.
type GotifyConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// SlackConfig holds the secondary notification backend settings. An empty
// token disables the backend.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// ConfigPath returns the file the configuration was loaded from.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// ClassifierEnabled reports whether the trigger-tier classifier runs.
func (c *Config) ClassifierEnabled() bool {
	return c.UseTriggerModel == nil || *c.UseTriggerModel
}

// TriggerInterval returns the trigger loop cadence.
func (c *Config) TriggerInterval() time.Duration { return seconds(c.TriggerIntervalS) }

// ReviewInterval returns the review reasoner cadence.
func (c *Config) ReviewInterval() time.Duration { return seconds(c.ReviewIntervalS) }

// SARInterval returns the activity report collection cadence.
func (c *Config) SARInterval() time.Duration { return seconds(c.SARIntervalS) }

// SARFresh returns how long an activity report counts as fresh.
func (c *Config) SARFresh() time.Duration { return seconds(c.SARFreshS) }

// CompressAge returns the age after which window entries get summarized.
func (c *Config) CompressAge() time.Duration { return seconds(c.CompressAgeS) }

// DebounceWindow returns the per-fingerprint event suppression window.
func (c *Config) DebounceWindow() time.Duration { return seconds(c.DebounceWindowS) }

// EscalationCooldown returns the per-fingerprint escalation suppression window.
func (c *Config) EscalationCooldown() time.Duration { return seconds(c.EscalationCooldownS) }

// ReopenCooldown returns how long a resolved issue absorbs reopening events.
func (c *Config) ReopenCooldown() time.Duration { return seconds(c.ReopenCooldownS) }

// ActionTimeout returns the per-command execution timeout.
func (c *Config) ActionTimeout() time.Duration { return seconds(c.ActionTimeoutS) }

// RebuildTimeout returns the timeout for rebuild dry-run and switch commands.
func (c *Config) RebuildTimeout() time.Duration { return seconds(c.RebuildTimeoutS) }

// SnapshotInterval returns the window/queue snapshot cadence.
func (c *Config) SnapshotInterval() time.Duration { return seconds(c.SnapshotIntervalS) }

// CleanupInterval returns the retention worker cadence.
func (c *Config) CleanupInterval() time.Duration { return seconds(c.CleanupIntervalS) }

// ShutdownGrace returns how long shutdown waits for in-flight work.
func (c *Config) ShutdownGrace() time.Duration { return seconds(c.ShutdownGraceS) }

// MetricsRetention returns the eviction horizon for the time-series store.
func (c *Config) MetricsRetention() time.Duration {
	return time.Duration(c.MetricsRetentionDays) * 24 * time.Hour
}

// TriggerTier returns the small-model tier used for classification and
// window summarization.
func (c *Config) TriggerTier() LLMTier {
	return LLMTier{
		Name:          TierTrigger,
		Model:         c.TriggerModel,
		BackendURL:    c.TriggerBackendURL,
		ContextTokens: c.ContextBudgetTokens,
		MaxTokens:     128,
		Timeout:       5 * time.Second,
		Retries:       1,
	}
}

// ReviewTier returns the medium-model tier used for periodic review.
func (c *Config) ReviewTier() LLMTier {
	return LLMTier{
		Name:          TierReview,
		Model:         c.ReviewModel,
		BackendURL:    c.ReviewBackendURL,
		ContextTokens: c.ReviewContextTokens,
		MaxTokens:     2048,
		Timeout:       30 * time.Second,
		Retries:       2,
	}
}

// MetaTier returns the large-model tier used for escalations and chat.
func (c *Config) MetaTier() LLMTier {
	return LLMTier{
		Name:          TierMeta,
		Model:         c.MetaModel,
		BackendURL:    c.MetaBackendURL,
		ContextTokens: c.MetaContextTokens,
		MaxTokens:     4096,
		Timeout:       120 * time.Second,
		Retries:       2,
	}
}

// DSN renders the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
