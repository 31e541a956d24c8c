package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

// fakeRun records executed argv and replies from a canned table keyed by
// the joined command line.
type fakeRun struct {
	mu      sync.Mutex
	replies map[string]commandOutput
	ran     []string
}

func newFakeRun() *fakeRun {
	return &fakeRun{replies: map[string]commandOutput{}}
}

func (f *fakeRun) reply(command string, out commandOutput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[command] = out
}

func (f *fakeRun) run(_ context.Context, argv []string) commandOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	command := strings.Join(argv, " ")
	f.ran = append(f.ran, command)
	if out, ok := f.replies[command]; ok {
		return out
	}
	return commandOutput{stdout: "ok\n"}
}

func (f *fakeRun) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func newTestRunner(t *testing.T) (*Runner, *fakeRun) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	runner := NewRunner(cfg)
	fake := newFakeRun()
	runner.run = fake.run
	return runner, fake
}

func TestRunner_ServiceRestartDefaultsToSubject(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionServiceRestart,
		Subject: "nginx",
	})

	assert.Equal(t, 0, result.ExitStatus)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{"systemctl restart nginx"}, fake.commands())
}

func TestRunner_ServiceRestartRejectsForeignCommands(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:     models.ActionServiceRestart,
		Subject:  "nginx",
		Commands: []string{"rm -rf /var/cache/nginx"},
	})

	assert.Equal(t, -1, result.ExitStatus)
	assert.Contains(t, result.Error, "only runs systemctl restart")
	assert.Empty(t, fake.commands())
}

func TestRunner_ServiceRestartFailurePropagates(t *testing.T) {
	runner, fake := newTestRunner(t)
	fake.reply("systemctl restart nginx", commandOutput{stderr: "Job failed\n", exit: 1})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionServiceRestart,
		Subject: "nginx",
	})

	assert.Equal(t, 1, result.ExitStatus)
	assert.Contains(t, result.Stderr, "Job failed")
}

func TestRunner_CleanupHonorsAllowList(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:     models.ActionCleanup,
		Subject:  "disk",
		Commands: []string{"rm -rf /var/log"},
	})

	assert.Equal(t, -1, result.ExitStatus)
	assert.Contains(t, result.Error, "not in allow-list")
	assert.Empty(t, fake.commands())
}

func TestRunner_CleanupEmptyRunsConfiguredList(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionCleanup,
		Subject: "disk",
	})

	assert.Equal(t, 0, result.ExitStatus)
	assert.Equal(t, []string{"journalctl --vacuum-time=7d"}, fake.commands())
}

func TestRunner_CleanupBuiltinAlwaysAllowed(t *testing.T) {
	runner, fake := newTestRunner(t)
	runner.cfg.CleanupCommands = nil

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:     models.ActionCleanup,
		Subject:  "disk",
		Commands: []string{builtinCleanup},
	})

	assert.Equal(t, 0, result.ExitStatus)
	assert.Equal(t, []string{builtinCleanup}, fake.commands())
}

func TestRunner_InvestigationRunsAllDespiteFailures(t *testing.T) {
	runner, fake := newTestRunner(t)
	fake.reply("systemctl status nginx", commandOutput{stdout: "inactive\n", exit: 3})
	fake.reply("df -h /var", commandOutput{stdout: "92%\n"})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionInvestigation,
		Subject: "nginx",
		Commands: []string{
			"systemctl status nginx",
			"df -h /var",
		},
	})

	// First nonzero exit is kept, but every command still ran.
	assert.Equal(t, 3, result.ExitStatus)
	assert.Len(t, fake.commands(), 2)
	assert.Contains(t, result.Stdout, "$ systemctl status nginx")
	assert.Contains(t, result.Stdout, "inactive")
	assert.Contains(t, result.Stdout, "$ df -h /var")
	assert.Contains(t, result.Stdout, "92%")
}

func TestRunner_InvestigationRejectsUnlistedCommand(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionInvestigation,
		Subject: "nginx",
		Commands: []string{
			"journalctl -u nginx -n 50",
			"curl http://localhost/debug",
		},
	})

	// One bad command fails the whole action before anything runs.
	assert.Equal(t, -1, result.ExitStatus)
	assert.Contains(t, result.Error, "not allow-listed")
	assert.Empty(t, fake.commands())
}

func TestInvestigationAllowed(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"journalctl -u nginx -n 50", true},
		{"systemctl status nginx", true},
		{"df -h", true},
		{"uptime", true},
		{"systemctl restart nginx", false},
		{"dfx --steal-data", false},
		{"curl http://example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, investigationAllowed(tt.command), "command %q", tt.command)
	}
}

func TestRunner_RebuildStopsWhenDryRunFails(t *testing.T) {
	runner, fake := newTestRunner(t)
	runner.cfg.RebuildDryRunCmd = "nixos-rebuild dry-build"
	runner.cfg.RebuildSwitchCmd = "nixos-rebuild switch"
	fake.reply("nixos-rebuild dry-build", commandOutput{stderr: "evaluation error\n", exit: 1})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionRebuild,
		Subject: "system",
	})

	assert.Equal(t, 1, result.ExitStatus)
	assert.Contains(t, result.Error, "dry run failed")
	assert.Equal(t, []string{"nixos-rebuild dry-build"}, fake.commands())
}

func TestRunner_RebuildSwitchesAfterCleanDryRun(t *testing.T) {
	runner, fake := newTestRunner(t)
	runner.cfg.RebuildDryRunCmd = "nixos-rebuild dry-build"
	runner.cfg.RebuildSwitchCmd = "nixos-rebuild switch"

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionRebuild,
		Subject: "system",
	})

	assert.Equal(t, 0, result.ExitStatus)
	assert.Equal(t, []string{"nixos-rebuild dry-build", "nixos-rebuild switch"}, fake.commands())
}

func TestRunner_RebuildUnconfigured(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionRebuild,
		Subject: "system",
	})

	assert.Equal(t, -1, result.ExitStatus)
	assert.Contains(t, result.Error, "not configured")
	assert.Empty(t, fake.commands())
}

func TestRunner_ConfigChangeWritesSuggestionFile(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		ID:          "act-42",
		Kind:        models.ActionConfigChange,
		Subject:     "nginx",
		Description: "raise worker_connections to 4096",
		Rationale:   "worker_connections exhausted during peak",
	})

	assert.Equal(t, 0, result.ExitStatus)
	assert.Empty(t, fake.commands())

	path := filepath.Join(runner.cfg.StateDir, "config_suggestion_act-42.txt")
	assert.Contains(t, result.Stdout, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "subject: nginx")
	assert.Contains(t, string(data), "raise worker_connections to 4096")
	assert.Contains(t, string(data), "worker_connections exhausted")
}

func TestRunner_SequenceStopsAtFirstFailure(t *testing.T) {
	runner, fake := newTestRunner(t)
	runner.cfg.CleanupCommands = []string{"cleanup-a", "cleanup-b", "cleanup-c"}
	fake.reply("cleanup-b", commandOutput{exit: 2})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionCleanup,
		Subject: "disk",
	})

	assert.Equal(t, 2, result.ExitStatus)
	assert.Equal(t, []string{"cleanup-a", "cleanup-b"}, fake.commands())
}

func TestRunner_UnknownKindFails(t *testing.T) {
	runner, fake := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionKind("teleport"),
		Subject: "host",
	})

	assert.Equal(t, -1, result.ExitStatus)
	assert.Contains(t, result.Error, "unknown action kind")
	assert.Empty(t, fake.commands())
}

func TestRunner_OutputCapped(t *testing.T) {
	runner, fake := newTestRunner(t)
	fake.reply("systemctl restart nginx", commandOutput{
		stdout: strings.Repeat("x", outputCap+500),
	})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionServiceRestart,
		Subject: "nginx",
	})

	assert.LessOrEqual(t, len(result.Stdout), outputCap+len("\n… output truncated"))
	assert.True(t, strings.HasSuffix(result.Stdout, "output truncated"))
}

func TestRunner_OutputScrubbed(t *testing.T) {
	runner, fake := newTestRunner(t)
	fake.reply("journalctl -u vault -n 20", commandOutput{
		stdout: "vault: token=s3cr3tS3ss10nT0k3nV4lu3 renewed\n",
	})

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:     models.ActionInvestigation,
		Subject:  "vault",
		Commands: []string{"journalctl -u vault -n 20"},
	})

	assert.NotContains(t, result.Stdout, "s3cr3tS3ss10nT0k3nV4lu3")
	assert.Contains(t, result.Stdout, "token=__MASKED_TOKEN__")
}

func TestRunner_DurationStamped(t *testing.T) {
	runner, _ := newTestRunner(t)

	result := runner.Run(context.Background(), models.ProposedAction{
		Kind:    models.ActionServiceRestart,
		Subject: "nginx",
	})

	assert.False(t, result.StartedAt.IsZero())
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}
