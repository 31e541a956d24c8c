// Package e2e boots a complete warden pipeline for end-to-end testing.
// The LLM backends, systemd probes, journal, metric sampler, command
// execution, and notification delivery are all faked at the edges;
// everything between them is the real thing.
package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/issues"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/reason"
	"github.com/wardenlabs/warden/pkg/trigger"
	"github.com/wardenlabs/warden/pkg/version"
	"github.com/wardenlabs/warden/pkg/window"
)

// ─────────────────────────────────────────────────────────────────────────────
// Host fakes
// ─────────────────────────────────────────────────────────────────────────────

// UnitStates is the scripted systemd world: unit name to is-active
// state. Units never set report "active".
type UnitStates struct {
	mu     sync.Mutex
	states map[string]string
}

// NewUnitStates creates a world where every unit is healthy.
func NewUnitStates() *UnitStates {
	return &UnitStates{states: make(map[string]string)}
}

// Set scripts the state one unit reports from now on.
func (u *UnitStates) Set(unit, state string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.states[unit] = state
}

// Probe is the injection point for the trigger loop and the executor's
// approval-time re-validation.
func (u *UnitStates) Probe(_ context.Context, unit string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if state, ok := u.states[unit]; ok {
		return state, nil
	}
	return "active", nil
}

// ExecResult scripts the outcome of one exact command line.
type ExecResult struct {
	Stdout string
	Stderr string
	Exit   int
	Err    error
}

// CommandRecorder stands in for host command execution. Every argv is
// recorded; outcomes come from the scripted results, with a clean zero
// exit as the default.
type CommandRecorder struct {
	mu      sync.Mutex
	ran     [][]string
	results map[string]ExecResult
}

// NewCommandRecorder creates a recorder where every command succeeds.
func NewCommandRecorder() *CommandRecorder {
	return &CommandRecorder{results: make(map[string]ExecResult)}
}

// SetResult scripts the outcome for one exact command line.
func (r *CommandRecorder) SetResult(command string, res ExecResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[command] = res
}

// Exec is the injection point for the action runner.
func (r *CommandRecorder) Exec(_ context.Context, argv []string) (string, string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, append([]string(nil), argv...))
	if res, ok := r.results[strings.Join(argv, " ")]; ok {
		return res.Stdout, res.Stderr, res.Exit, res.Err
	}
	return "", "", 0, nil
}

// Commands returns every executed command line in run order.
func (r *CommandRecorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	for i, argv := range r.ran {
		out[i] = strings.Join(argv, " ")
	}
	return out
}

// JournalFeed queues journal lines for the trigger loop. Each Delta
// drains the queue, matching how the real reader only returns lines
// past its cursor.
type JournalFeed struct {
	mu    sync.Mutex
	lines []journal.Entry
}

// Add queues lines for the next tick.
func (f *JournalFeed) Add(lines ...journal.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, lines...)
}

// Delta implements the trigger loop's journal source.
func (f *JournalFeed) Delta(_ context.Context) []journal.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.lines
	f.lines = nil
	return lines
}

// SampleFeed serves a fixed metric reading. Ticks keep seeing the same
// values until the test changes them, like a host whose load persists.
type SampleFeed struct {
	mu      sync.Mutex
	samples []models.MetricSample
}

// Set replaces the readings every subsequent tick observes.
func (f *SampleFeed) Set(samples ...models.MetricSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = samples
}

// Sample implements the trigger loop's sampler.
func (f *SampleFeed) Sample(_ context.Context) []models.MetricSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.MetricSample, len(f.samples))
	copy(out, f.samples)
	return out
}

// NotificationCapture is a notify backend that stores everything it is
// asked to deliver.
type NotificationCapture struct {
	mu   sync.Mutex
	sent []notify.Notification
}

// Name implements notify.Backend.
func (c *NotificationCapture) Name() string { return "capture" }

// Send implements notify.Backend.
func (c *NotificationCapture) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

// All returns every captured notification in delivery order.
func (c *NotificationCapture) All() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Notification, len(c.sent))
	copy(out, c.sent)
	return out
}

// Titled returns the captured notifications bearing the given title.
func (c *NotificationCapture) Titled(title string) []notify.Notification {
	var out []notify.Notification
	for _, n := range c.All() {
		if n.Title == title {
			out = append(out, n)
		}
	}
	return out
}

// scriptSummarizer routes window compression through the scripted small
// tier, matching the daemon wiring.
type scriptSummarizer struct {
	llm *ScriptedCompleter
	cfg *config.Config
}

func (s *scriptSummarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	instruction := fmt.Sprintf(
		"Summarize the following host events in at most %d tokens. Keep timestamps, unit names, and counts. Output only the summary.",
		maxTokens)
	return s.llm.Complete(ctx, s.cfg.TriggerTier(), []models.Message{
		models.SystemMessage(instruction),
		models.UserMessage(text),
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Test daemon
// ─────────────────────────────────────────────────────────────────────────────

// TestDaemon is a fully wired warden pipeline under test control.
// Scenarios drive it synchronously: Trigger.Tick for an observation
// round, Review.Cycle for a reasoning pass, Meta.HandleEscalation for
// a drained escalation. Only the executor's worker goroutine runs in
// the background, so settled actions are awaited with WaitSettled.
type TestDaemon struct {
	// Core
	Config *config.Config

	// Fakes at the edges
	LLM      *ScriptedCompleter
	Units    *UnitStates
	Exec     *CommandRecorder
	Journal  *JournalFeed
	Samples  *SampleFeed
	Notified *NotificationCapture

	// Real pipeline
	Window    *window.Window
	Assembler *window.Assembler
	Issues    *issues.Tracker
	Queue     *executor.Queue
	Executor  *executor.Executor
	Trigger   *trigger.Loop
	Review    *reason.Review
	Meta      *reason.Meta
	Chat      *reason.SessionManager
	Decisions *reason.DecisionLog
	Notifier  *notify.Service

	// Escalations is the channel the review reasoner escalates into.
	// Scenarios drain it and hand escalations to Meta themselves.
	Escalations chan reason.Escalation

	t         *testing.T
	startedAt time.Time
	stopOnce  sync.Once
}

type daemonConfig struct {
	cfg       *config.Config
	stateDir  string
	overrides []func(*config.Config)
}

// DaemonOption configures the test daemon.
type DaemonOption func(*daemonConfig)

// WithConfig substitutes a fully built configuration. Overriding
// options still apply on top of it.
func WithConfig(cfg *config.Config) DaemonOption {
	return func(dc *daemonConfig) { dc.cfg = cfg }
}

// WithStateDir pins the state directory so a second daemon can restore
// what an earlier one persisted.
func WithStateDir(dir string) DaemonOption {
	return func(dc *daemonConfig) { dc.stateDir = dir }
}

// WithAutonomy sets the level the executor's gate decides against.
func WithAutonomy(level config.AutonomyLevel) DaemonOption {
	return func(dc *daemonConfig) {
		dc.overrides = append(dc.overrides, func(cfg *config.Config) {
			cfg.AutonomyLevel = level
		})
	}
}

// WithCriticalServices sets the units the trigger loop probes.
func WithCriticalServices(units ...string) DaemonOption {
	return func(dc *daemonConfig) {
		dc.overrides = append(dc.overrides, func(cfg *config.Config) {
			cfg.CriticalServices = units
		})
	}
}

// WithContextBudget shrinks the window budget to force compression.
func WithContextBudget(tokens int) DaemonOption {
	return func(dc *daemonConfig) {
		dc.overrides = append(dc.overrides, func(cfg *config.Config) {
			cfg.ContextBudgetTokens = tokens
		})
	}
}

// NewTestDaemon assembles and starts a warden pipeline the way the
// orchestrator does, with the host edges swapped for fakes. Shutdown is
// registered via t.Cleanup; tests that restart on the same state
// directory call Shutdown explicitly first.
func NewTestDaemon(t *testing.T, opts ...DaemonOption) *TestDaemon {
	t.Helper()

	dc := &daemonConfig{}
	for _, opt := range opts {
		opt(dc)
	}
	if dc.stateDir == "" {
		dc.stateDir = t.TempDir()
	}
	cfg := dc.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Hostname = "testhost"
	}
	cfg.StateDir = dc.stateDir
	for _, override := range dc.overrides {
		override(cfg)
	}

	llm := NewScriptedCompleter()
	units := NewUnitStates()
	rec := NewCommandRecorder()
	feed := &JournalFeed{}
	samples := &SampleFeed{}
	captured := &NotificationCapture{}
	notifier := notify.NewServiceWithBackends(captured)

	ctx := context.Background()
	startedAt := time.Now().UTC()

	win := window.New(window.Options{
		Budget:        cfg.ContextBudgetTokens,
		SummaryTokens: cfg.SummaryTokens,
		CompressAge:   cfg.CompressAge(),
		StateDir:      cfg.StateDir,
		Summarizer:    &scriptSummarizer{llm: llm, cfg: cfg},
	})
	require.NoError(t, win.Start(ctx))
	require.NoError(t, win.SetHeader(ctx, testHeader(cfg, startedAt)))

	assembler := window.NewAssembler(win, nil, cfg.Hostname, cfg.SARFresh())

	tracker := issues.NewTracker(ctx, issues.Options{
		Host:           cfg.Hostname,
		StateDir:       cfg.StateDir,
		ReopenCooldown: cfg.ReopenCooldown(),
		Notifier:       notifier,
	})

	queue, err := executor.NewQueue(cfg.StateDir)
	require.NoError(t, err)

	exec := executor.New(executor.Options{
		Config: cfg,
		Queue:  queue,
		Runner: executor.NewRunnerWithExec(cfg, rec.Exec),
		Window: win,
		Issues: tracker,
		Notify: notifier,
		Probe:  units.Probe,
	})

	trig := trigger.NewLoop(trigger.Options{
		Config:  cfg,
		Sampler: samples,
		Journal: feed,
		LLM:     llm,
		Window:  win,
		Issues:  tracker,
		Probe:   units.Probe,
	})

	decisions := reason.NewDecisionLog(cfg.StateDir)
	escalations := make(chan reason.Escalation, 8)

	review := reason.NewReview(reason.ReviewOptions{
		Config:      cfg,
		LLM:         llm,
		Assembler:   assembler,
		Window:      win,
		Executor:    exec,
		Issues:      tracker,
		Decisions:   decisions,
		Escalations: escalations,
	})

	meta := reason.NewMeta(reason.MetaOptions{
		Config:    cfg,
		LLM:       llm,
		Assembler: assembler,
		Window:    win,
		Executor:  exec,
		Issues:    tracker,
		Notify:    notifier,
		Decisions: decisions,
	})
	exec.SetObserver(meta)

	chat := reason.NewSessionManager(reason.SessionOptions{
		Config: cfg,
		LLM:    llm,
		Window: win,
	})

	require.NoError(t, exec.Start(ctx))

	d := &TestDaemon{
		Config:      cfg,
		LLM:         llm,
		Units:       units,
		Exec:        rec,
		Journal:     feed,
		Samples:     samples,
		Notified:    captured,
		Window:      win,
		Assembler:   assembler,
		Issues:      tracker,
		Queue:       queue,
		Executor:    exec,
		Trigger:     trig,
		Review:      review,
		Meta:        meta,
		Chat:        chat,
		Decisions:   decisions,
		Notifier:    notifier,
		Escalations: escalations,
		t:           t,
		startedAt:   startedAt,
	}
	t.Cleanup(d.Shutdown)
	return d
}

// Shutdown stops the pipeline and persists queue and window state, like
// the daemon's shutdown path. Safe to call twice: tests that restart on
// a shared state directory call it explicitly and the t.Cleanup call
// afterwards is a no-op.
func (d *TestDaemon) Shutdown() {
	d.stopOnce.Do(func() {
		d.Executor.Stop()
		d.Window.Stop()
		if err := d.Queue.Persist(); err != nil {
			d.t.Logf("queue snapshot on shutdown failed: %v", err)
		}
	})
}

// WaitSettled blocks until the executor's worker drives the action to
// the wanted terminal status, returning the settled record.
func (d *TestDaemon) WaitSettled(id string, want models.QueueStatus) *models.QueuedAction {
	d.t.Helper()
	var settled *models.QueuedAction
	require.Eventually(d.t, func() bool {
		action, err := d.Queue.Get(id)
		if err != nil || action.Status != want {
			return false
		}
		settled = action
		return true
	}, 5*time.Second, 10*time.Millisecond, "action %s never settled as %s", id, want)
	return settled
}

// ServeAPI exposes the daemon's control surface on an in-process
// listener and returns a client bound to it.
func (d *TestDaemon) ServeAPI(t *testing.T) *api.Client {
	t.Helper()

	srv := api.NewServer(api.Options{
		Listen:  "127.0.0.1:0",
		Status:  daemonStatus{d},
		Actions: d.Queue,
		Decider: d.Executor,
		Issues:  d.Issues,
		Chat:    d.Chat,
		Notify:  d.Notifier,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return api.NewClient(strings.TrimPrefix(ts.URL, "http://"))
}

// daemonStatus reports the test daemon's state the way the orchestrator
// reports the real one's.
type daemonStatus struct {
	d *TestDaemon
}

func (s daemonStatus) Status(ctx context.Context) models.StatusResponse {
	health, lastReview := s.d.Review.Health()
	resp := models.StatusResponse{
		Host:         s.d.Config.Hostname,
		Version:      version.Full(),
		StartedAt:    s.d.startedAt,
		Autonomy:     string(s.d.Config.AutonomyLevel),
		Health:       health,
		LastReviewAt: lastReview,
		OpenIssues:   s.d.Issues.OpenCount(),
		PendingCount: s.d.Queue.PendingCount(),
		TriggerStats: s.d.Trigger.Stats(),
	}
	if snap, err := s.d.Window.Snapshot(ctx); err == nil {
		resp.WindowTokens = snap.Stats.Tokens
		resp.WindowEntries = snap.Stats.Entries
	}
	return resp
}

// testHeader is a compact stand-in for the daemon's system header.
func testHeader(cfg *config.Config, startedAt time.Time) string {
	return fmt.Sprintf("## Warden on %s\nResident host monitor, watching since %s.\nAutonomy level: %s.",
		cfg.Hostname, startedAt.Format(time.RFC3339), cfg.AutonomyLevel)
}
