package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitialize_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, AutonomySuggest, cfg.AutonomyLevel)
	assert.Equal(t, 30, cfg.TriggerIntervalS)
	assert.Equal(t, 131072, cfg.ContextBudgetTokens)
	assert.Equal(t, "/var/lib/warden", cfg.StateDir)
	assert.NotEmpty(t, cfg.Hostname, "hostname falls back to os.Hostname")
	assert.True(t, cfg.ClassifierEnabled())
	assert.Contains(t, cfg.ProtectedServices, "sshd")
}

func TestInitialize_UserValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
autonomy_level: auto_safe
hostname: web-01
review_interval_s: 120
thresholds:
  cpu_pct: 95
protected_services: [sshd, dbus]
use_trigger_model: false
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, AutonomyAutoSafe, cfg.AutonomyLevel)
	assert.Equal(t, "web-01", cfg.Hostname)
	assert.Equal(t, 120, cfg.ReviewIntervalS)
	assert.Equal(t, float64(95), cfg.Thresholds.CPUPct)
	assert.Equal(t, []string{"sshd", "dbus"}, cfg.ProtectedServices)
	assert.False(t, cfg.ClassifierEnabled())

	// Unspecified keys keep their defaults.
	assert.Equal(t, 30, cfg.TriggerIntervalS)
	assert.Equal(t, float64(90), cfg.Thresholds.MemPct)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("WARDEN_TEST_GOTIFY_TOKEN", "tok-123")
	path := writeConfig(t, `
hostname: web-01
gotify:
  url: http://gotify.local
  token: "{{.WARDEN_TEST_GOTIFY_TOKEN}}"
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Gotify.Token)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "autonomy_level: [unterminated")

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_InvalidValueFailsStartup(t *testing.T) {
	path := writeConfig(t, "autonomy_level: yolo\n")

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "autonomy_level", verr.Field)
}

func TestTierAccessors(t *testing.T) {
	cfg := DefaultConfig()

	trigger := cfg.TriggerTier()
	assert.Equal(t, TierTrigger, trigger.Name)
	assert.Equal(t, "qwen3:1b", trigger.Model)
	assert.Equal(t, 1, trigger.Retries)

	review := cfg.ReviewTier()
	assert.Equal(t, 32768, review.ContextTokens)
	assert.Equal(t, 2, review.Retries)

	meta := cfg.MetaTier()
	assert.Equal(t, cfg.ContextBudgetTokens, meta.ContextTokens)
	assert.Greater(t, meta.Timeout, review.Timeout)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "warden",
		Password: "secret", DBName: "warden", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=warden password=secret dbname=warden sslmode=require",
		d.DSN())
}
