// Package orchestrator assembles the warden daemon: it builds every
// component against the loaded configuration, starts them in dependency
// order, fans configuration reloads out to the running pieces, and
// drives the graceful shutdown sequence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/database"
	"github.com/wardenlabs/warden/pkg/discovery"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/issues"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/metrics"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/reason"
	"github.com/wardenlabs/warden/pkg/retention"
	"github.com/wardenlabs/warden/pkg/sar"
	"github.com/wardenlabs/warden/pkg/semantic"
	"github.com/wardenlabs/warden/pkg/trigger"
	"github.com/wardenlabs/warden/pkg/version"
	"github.com/wardenlabs/warden/pkg/window"
)

// escalationBuffer bounds how many review escalations may queue for the
// meta tier before new ones are dropped at the sender.
const escalationBuffer = 8

// Orchestrator owns the daemon's component graph and lifecycle.
type Orchestrator struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	host      string
	startedAt time.Time
	logger    *slog.Logger

	db        *database.Client
	metrics   *metrics.Store
	semantic  *semantic.Store
	notify    *notify.Service
	llm       *llm.Client
	window    *window.Window
	assembler *window.Assembler
	issues    *issues.Tracker
	queue     *executor.Queue
	exec      *executor.Executor
	trigger   *trigger.Loop
	review    *reason.Review
	meta      *reason.Meta
	chat      *reason.SessionManager
	decisions *reason.DecisionLog
	registry  *discovery.Registry
	sar       *sar.Collector
	retention *retention.Service
	apiServer *api.Server
	watcher   *config.Watcher

	escalations chan reason.Escalation

	workerCancel context.CancelFunc
	workers      sync.WaitGroup
}

// New builds the full component graph. The database must be reachable;
// the semantic store and notification backends are optional and degrade
// to warnings.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:         cfg,
		host:        cfg.Hostname,
		startedAt:   time.Now().UTC(),
		logger:      slog.Default().With("component", "orchestrator"),
		escalations: make(chan reason.Escalation, escalationBuffer),
	}

	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	o.db = db
	o.metrics = metrics.NewStore(db.DB())

	if cfg.SemanticURL != "" {
		o.semantic = semantic.NewStore(cfg.SemanticURL)
		if err := o.semantic.Ping(ctx); err != nil {
			o.logger.Warn("Semantic store unreachable, recall and issue persistence degraded",
				"url", cfg.SemanticURL, "error", err)
		}
	}

	o.notify = notify.NewService(cfg.Gotify, cfg.Slack)
	o.llm = llm.NewClient()

	o.window = window.New(window.Options{
		Budget:        cfg.ContextBudgetTokens,
		SummaryTokens: cfg.SummaryTokens,
		CompressAge:   cfg.CompressAge(),
		StateDir:      cfg.StateDir,
		Summarizer:    &tierSummarizer{llm: o.llm, cfg: o.config},
	})
	o.assembler = window.NewAssembler(o.window, o.metrics, o.host, cfg.SARFresh())

	o.issues = issues.NewTracker(ctx, issues.Options{
		Host:           o.host,
		StateDir:       cfg.StateDir,
		ReopenCooldown: cfg.ReopenCooldown(),
		Store:          o.semantic,
		Notifier:       o.notify,
	})

	queue, err := executor.NewQueue(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("action queue: %w", err)
	}
	o.queue = queue
	o.exec = executor.New(executor.Options{
		Config: cfg,
		Queue:  queue,
		Runner: executor.NewRunner(cfg),
		Window: o.window,
		Issues: o.issues,
		Notify: o.notify,
	})

	o.registry = discovery.NewRegistry(o.semantic, o.host)
	o.sar = sar.NewCollector()
	o.retention = retention.NewService(retention.Options{
		Config:  cfg,
		Metrics: o.metrics,
		Issues:  o.issues,
	})

	o.trigger = trigger.NewLoop(trigger.Options{
		Config:    cfg,
		Sampler:   metrics.NewSampler(o.host),
		Metrics:   o.metrics,
		Journal:   journal.NewReader(cfg.StateDir),
		LLM:       o.llm,
		Window:    o.window,
		Issues:    o.issues,
		Discovery: o.registry,
	})

	o.decisions = reason.NewDecisionLog(cfg.StateDir)
	o.review = reason.NewReview(reason.ReviewOptions{
		Config:      cfg,
		LLM:         o.llm,
		Assembler:   o.assembler,
		Window:      o.window,
		Executor:    o.exec,
		Issues:      o.issues,
		Decisions:   o.decisions,
		Escalations: o.escalations,
	})

	metaOpts := reason.MetaOptions{
		Config:    cfg,
		LLM:       o.llm,
		Assembler: o.assembler,
		Window:    o.window,
		Executor:  o.exec,
		Issues:    o.issues,
		Notify:    o.notify,
		Decisions: o.decisions,
	}
	if o.semantic != nil {
		metaOpts.Semantic = o.semantic
	}
	o.meta = reason.NewMeta(metaOpts)
	o.exec.SetObserver(o.meta)

	o.chat = reason.NewSessionManager(reason.SessionOptions{
		Config: cfg,
		LLM:    o.llm,
		Window: o.window,
	})

	o.apiServer = api.NewServer(api.Options{
		Listen:  cfg.APIListen,
		Status:  o,
		Actions: queue,
		Decider: o.exec,
		Issues:  o.issues,
		Chat:    o.chat,
		Notify:  o.notify,
	})

	if path := cfg.ConfigPath(); path != "" {
		watcher, err := config.NewWatcher(path, o.applyConfig)
		if err != nil {
			o.logger.Warn("Config watcher unavailable, hot reload disabled", "error", err)
		} else {
			o.watcher = watcher
		}
	}

	return o, nil
}

// Run starts every component, blocks until ctx is cancelled, then runs
// the shutdown sequence bounded by the configured grace period.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.start(ctx); err != nil {
		return err
	}

	o.logger.Info("warden started",
		"host", o.host,
		"version", version.Full(),
		"autonomy", o.config().AutonomyLevel,
		"api", o.config().APIListen)

	<-ctx.Done()
	o.logger.Info("Shutdown signal received")

	grace := o.config().ShutdownGrace()
	done := make(chan struct{})
	go func() {
		o.shutdown()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Shutdown complete")
	case <-time.After(grace):
		o.logger.Warn("Shutdown grace exceeded, exiting with workers still draining",
			"grace", grace)
	}
	return nil
}

// start brings components up in dependency order. Components run on
// their own lifetimes and stop through their Stop methods, so shutdown
// ordering stays under our control rather than the signal's.
func (o *Orchestrator) start(ctx context.Context) error {
	base := context.Background()

	if err := o.window.Start(base); err != nil {
		return fmt.Errorf("start window: %w", err)
	}
	if err := o.window.SetHeader(ctx, renderHeader(o.config(), o.host, o.startedAt)); err != nil {
		return fmt.Errorf("set window header: %w", err)
	}
	if err := o.exec.Start(base); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}
	if err := o.trigger.Start(base); err != nil {
		return fmt.Errorf("start trigger loop: %w", err)
	}
	if err := o.review.Start(base); err != nil {
		return fmt.Errorf("start review loop: %w", err)
	}
	if err := o.retention.Start(base); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}

	var workerCtx context.Context
	workerCtx, o.workerCancel = context.WithCancel(base)
	o.workers.Add(3)
	go o.consumeEscalations(workerCtx)
	go o.runActivityReports(workerCtx)
	go o.runSnapshots(workerCtx)

	if o.watcher != nil {
		if err := o.watcher.Start(base); err != nil {
			o.logger.Warn("Config watcher failed to start, hot reload disabled", "error", err)
		}
	}
	if err := o.apiServer.Start(); err != nil {
		return fmt.Errorf("start control api: %w", err)
	}

	o.registry.RegisterSelf(ctx)
	o.seedKnowledge(ctx)
	return nil
}

// shutdown stops the daemon back to front: stop taking operator input,
// stop producing new work, drain the workers, then persist and close.
func (o *Orchestrator) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.apiServer.Stop(stopCtx); err != nil {
		o.logger.Warn("Control API shutdown failed", "error", err)
	}
	if o.watcher != nil {
		o.watcher.Stop()
	}

	o.trigger.Stop()
	o.review.Stop()
	o.retention.Stop()
	o.workerCancel()
	o.workers.Wait()
	o.exec.Stop()

	o.window.Stop()
	if err := o.queue.Persist(); err != nil {
		o.logger.Warn("Final queue snapshot failed", "error", err)
	}
	if err := o.db.Close(); err != nil {
		o.logger.Warn("Database close failed", "error", err)
	}
}

func (o *Orchestrator) config() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// applyConfig is the watcher callback: swap the live configuration, fan
// it out to every component that re-reads tunables, and refresh the
// window header. Structural fields only take effect on restart.
func (o *Orchestrator) applyConfig(next *config.Config) {
	prev := o.config()
	for _, field := range structuralChanges(prev, next) {
		o.logger.Warn("Config change requires a restart to take effect", "field", field)
	}

	o.cfgMu.Lock()
	o.cfg = next
	o.cfgMu.Unlock()

	o.trigger.UpdateConfig(next)
	o.review.UpdateConfig(next)
	o.meta.UpdateConfig(next)
	o.exec.UpdateConfig(next)
	o.chat.UpdateConfig(next)
	o.retention.UpdateConfig(next)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.window.SetHeader(ctx, renderHeader(next, o.host, o.startedAt)); err != nil {
		o.logger.Warn("Header refresh failed after reload", "error", err)
	}

	o.logger.Info("Configuration reloaded", "autonomy", next.AutonomyLevel)
}

// structuralChanges names reloaded fields that the running process
// cannot re-apply.
func structuralChanges(prev, next *config.Config) []string {
	var fields []string
	if prev.StateDir != next.StateDir {
		fields = append(fields, "state_dir")
	}
	if prev.APIListen != next.APIListen {
		fields = append(fields, "api_listen")
	}
	if prev.SemanticURL != next.SemanticURL {
		fields = append(fields, "semantic_url")
	}
	if prev.Database != next.Database {
		fields = append(fields, "database")
	}
	if prev.Hostname != next.Hostname {
		fields = append(fields, "hostname")
	}
	return fields
}

// Status summarizes daemon state for the control API and `warden check`.
func (o *Orchestrator) Status(ctx context.Context) models.StatusResponse {
	cfg := o.config()
	health, lastReview := o.review.Health()

	resp := models.StatusResponse{
		Host:         o.host,
		Version:      version.Full(),
		StartedAt:    o.startedAt,
		Autonomy:     string(cfg.AutonomyLevel),
		Health:       health,
		LastReviewAt: lastReview,
		OpenIssues:   o.issues.OpenCount(),
		PendingCount: o.queue.PendingCount(),
		TriggerStats: o.trigger.Stats(),
	}
	if snap, err := o.window.Snapshot(ctx); err == nil {
		resp.WindowTokens = snap.Stats.Tokens
		resp.WindowEntries = snap.Stats.Entries
	}
	return resp
}

// tierSummarizer adapts the LLM client's small tier to the window's
// compression contract.
type tierSummarizer struct {
	llm *llm.Client
	cfg func() *config.Config
}

func (s *tierSummarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	instruction := fmt.Sprintf(
		"Summarize the following host events in at most %d tokens. Keep timestamps, unit names, and counts. Output only the summary.",
		maxTokens)
	return s.llm.Complete(ctx, s.cfg().TriggerTier(), []models.Message{
		models.SystemMessage(instruction),
		models.UserMessage(text),
	})
}
