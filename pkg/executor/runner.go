package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/redact"
)

// outputCap bounds captured stdout and stderr per action so a chatty
// command cannot balloon the queue journal or the context window.
const outputCap = 8 * 1024

// investigationPrefixes are the read-only commands the investigation
// runner accepts. Anything else fails before execution.
var investigationPrefixes = []string{
	"journalctl",
	"systemctl status",
	"df",
	"free",
	"ps",
	"ss",
	"ip",
	"uptime",
}

// builtinCleanup is always an allowed cleanup command, independent of
// configuration.
const builtinCleanup = "journalctl --vacuum-time=7d"

// commandOutput is what running one command produced.
type commandOutput struct {
	stdout string
	stderr string
	exit   int
	err    error
}

// Runner executes approved actions. Commands are split on whitespace and
// run directly, never through a shell.
type Runner struct {
	cfg      *config.Config
	redactor *redact.Redactor
	logger   *slog.Logger

	// run is swapped by tests to avoid touching the host.
	run func(ctx context.Context, argv []string) commandOutput
	now func() time.Time
}

// NewRunner builds a runner against the given configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		cfg:      cfg,
		redactor: redact.NewRedactor(),
		logger:   slog.Default().With("component", "runner"),
		run:      runCommand,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ExecFunc runs one prepared argv and reports its output. Injected by
// harnesses that must not touch the host.
type ExecFunc func(ctx context.Context, argv []string) (stdout, stderr string, exitStatus int, err error)

// NewRunnerWithExec builds a runner whose command execution goes
// through exec instead of the host. Allow-lists, dry-run ordering, and
// output capping still apply.
func NewRunnerWithExec(cfg *config.Config, exec ExecFunc) *Runner {
	r := NewRunner(cfg)
	r.run = func(ctx context.Context, argv []string) commandOutput {
		stdout, stderr, exit, err := exec(ctx, argv)
		return commandOutput{stdout: stdout, stderr: stderr, exit: exit, err: err}
	}
	return r
}

// UpdateConfig swaps the configuration used for allow-lists and
// timeouts.
func (r *Runner) UpdateConfig(cfg *config.Config) {
	r.cfg = cfg
}

// Run executes one action and reports the outcome. It never returns an
// error: failures are encoded in the result so the caller's state
// machine sees exactly one of executed or failed. Captured output is
// scrubbed of secret-looking spans, then capped.
func (r *Runner) Run(ctx context.Context, action models.ProposedAction) models.ActionResult {
	started := r.now()
	result := models.ActionResult{StartedAt: started}

	switch action.Kind {
	case models.ActionServiceRestart:
		r.runServiceRestart(ctx, action, &result)
	case models.ActionCleanup:
		r.runCleanup(ctx, action, &result)
	case models.ActionInvestigation:
		r.runInvestigation(ctx, action, &result)
	case models.ActionRebuild:
		r.runRebuild(ctx, action, &result)
	case models.ActionConfigChange:
		r.runConfigChange(ctx, action, &result)
	default:
		result.ExitStatus = -1
		result.Error = fmt.Sprintf("unknown action kind %q", action.Kind)
	}

	result.Duration = r.now().Sub(started)
	result.Stdout = capOutput(r.redactor.Scrub(result.Stdout))
	result.Stderr = capOutput(r.redactor.Scrub(result.Stderr))
	return result
}

// runServiceRestart restarts the unit. Explicit commands must be
// restarts; with none given the subject names the unit.
func (r *Runner) runServiceRestart(ctx context.Context, action models.ProposedAction, result *models.ActionResult) {
	commands := action.Commands
	if len(commands) == 0 {
		commands = []string{"systemctl restart " + action.Subject}
	}
	for _, command := range commands {
		if !strings.HasPrefix(command, "systemctl restart ") {
			result.ExitStatus = -1
			result.Error = fmt.Sprintf("service_restart only runs systemctl restart, got %q", command)
			return
		}
	}
	r.runSequence(ctx, commands, r.cfg.ActionTimeout(), result)
}

// runCleanup runs only allow-listed commands: the built-in journal
// vacuum plus whatever the configuration names. An empty command list
// means the whole configured list.
func (r *Runner) runCleanup(ctx context.Context, action models.ProposedAction, result *models.ActionResult) {
	allowed := map[string]bool{builtinCleanup: true}
	for _, command := range r.cfg.CleanupCommands {
		allowed[command] = true
	}

	commands := action.Commands
	if len(commands) == 0 {
		commands = append([]string{}, r.cfg.CleanupCommands...)
	}
	for _, command := range commands {
		if !allowed[command] {
			result.ExitStatus = -1
			result.Error = fmt.Sprintf("cleanup command not in allow-list: %q", command)
			return
		}
	}
	r.runSequence(ctx, commands, r.cfg.ActionTimeout(), result)
}

// runInvestigation runs read-only diagnostics. Every command must match
// an allow-listed prefix. Commands that fail do not abort the rest; the
// reasoner gets whatever evidence could be collected.
func (r *Runner) runInvestigation(ctx context.Context, action models.ProposedAction, result *models.ActionResult) {
	for _, command := range action.Commands {
		if !investigationAllowed(command) {
			result.ExitStatus = -1
			result.Error = fmt.Sprintf("investigation command not allow-listed: %q", command)
			return
		}
	}

	var stdout, stderr strings.Builder
	for _, command := range action.Commands {
		out := r.runOne(ctx, command, r.cfg.ActionTimeout())
		fmt.Fprintf(&stdout, "$ %s\n%s\n", command, out.stdout)
		if out.stderr != "" {
			fmt.Fprintf(&stderr, "$ %s\n%s\n", command, out.stderr)
		}
		if out.exit != 0 && result.ExitStatus == 0 {
			result.ExitStatus = out.exit
		}
		if out.err != nil && result.Error == "" {
			result.Error = out.err.Error()
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
}

// runRebuild dry-runs the system rebuild and only switches when the dry
// run exits zero. A dry-run failure leaves the host untouched.
func (r *Runner) runRebuild(ctx context.Context, _ models.ProposedAction, result *models.ActionResult) {
	if r.cfg.RebuildDryRunCmd == "" || r.cfg.RebuildSwitchCmd == "" {
		result.ExitStatus = -1
		result.Error = "rebuild commands not configured"
		return
	}

	dry := r.runOne(ctx, r.cfg.RebuildDryRunCmd, r.cfg.RebuildTimeout())
	result.Stdout = dry.stdout
	result.Stderr = dry.stderr
	result.ExitStatus = dry.exit
	if dry.err != nil || dry.exit != 0 {
		result.Error = "rebuild dry run failed"
		if dry.err != nil {
			result.Error = fmt.Sprintf("rebuild dry run failed: %v", dry.err)
		}
		return
	}

	r.logger.Info("Rebuild dry run clean, switching", "command", r.cfg.RebuildSwitchCmd)
	sw := r.runOne(ctx, r.cfg.RebuildSwitchCmd, r.cfg.RebuildTimeout())
	result.Stdout += "\n" + sw.stdout
	result.Stderr += "\n" + sw.stderr
	result.ExitStatus = sw.exit
	if sw.err != nil {
		result.Error = sw.err.Error()
	}
}

// runConfigChange writes the proposed change to a suggestion file for
// the operator. With explicit approved commands it runs them instead.
func (r *Runner) runConfigChange(ctx context.Context, action models.ProposedAction, result *models.ActionResult) {
	if len(action.Commands) > 0 {
		r.runSequence(ctx, action.Commands, r.cfg.ActionTimeout(), result)
		return
	}

	path := filepath.Join(r.cfg.StateDir, fmt.Sprintf("config_suggestion_%s.txt", action.ID))
	body := fmt.Sprintf("subject: %s\nproposed: %s\nrationale: %s\n",
		action.Subject, action.Description, action.Rationale)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		result.ExitStatus = -1
		result.Error = fmt.Sprintf("write suggestion: %v", err)
		return
	}
	result.Stdout = "configuration suggestion written to " + path
}

// runSequence executes commands in order, stopping at the first failure.
func (r *Runner) runSequence(ctx context.Context, commands []string, timeout time.Duration, result *models.ActionResult) {
	var stdout, stderr strings.Builder
	for _, command := range commands {
		out := r.runOne(ctx, command, timeout)
		stdout.WriteString(out.stdout)
		stderr.WriteString(out.stderr)
		result.ExitStatus = out.exit
		if out.err != nil {
			result.Error = out.err.Error()
		}
		if out.exit != 0 || out.err != nil {
			break
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
}

func (r *Runner) runOne(ctx context.Context, command string, timeout time.Duration) commandOutput {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return commandOutput{exit: -1, err: fmt.Errorf("empty command")}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("Executing command", "command", command, "timeout", timeout)
	out := r.run(ctx, argv)
	if ctx.Err() == context.DeadlineExceeded {
		out.err = fmt.Errorf("timed out after %s", timeout)
		if out.exit == 0 {
			out.exit = -1
		}
	}
	return out
}

// runCommand is the real exec path. Partial output survives a timeout
// kill because the buffers fill as the command writes.
func runCommand(ctx context.Context, argv []string) commandOutput {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := commandOutput{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.exit = exitErr.ExitCode()
		} else {
			out.exit = -1
			out.err = err
		}
	}
	return out
}

func investigationAllowed(command string) bool {
	for _, prefix := range investigationPrefixes {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

func capOutput(s string) string {
	if len(s) <= outputCap {
		return s
	}
	return s[:outputCap] + "\n… output truncated"
}
