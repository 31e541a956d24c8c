// Package trigger runs the fixed-cadence observation loop: sample host
// metrics, scan the journal delta, probe critical services, optionally
// classify leftover lines with the small LLM tier, then debounce and
// fan admitted events out to the context window and the issue tracker.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/metrics"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/window"
)

// debouncePruneLen bounds the debounce map; past this size expired
// fingerprints are swept on the next tick.
const debouncePruneLen = 1024

// Completer is the classifier backend, satisfied by the llm client.
type Completer interface {
	Complete(ctx context.Context, tier config.LLMTier, messages []models.Message) (string, error)
}

// Sampler reads host utilization, satisfied by the metrics sampler.
type Sampler interface {
	Sample(ctx context.Context) []models.MetricSample
}

// JournalSource yields new journal lines since the previous call,
// satisfied by the journal reader.
type JournalSource interface {
	Delta(ctx context.Context) []journal.Entry
}

// Admitter receives admitted events, satisfied by the context window.
type Admitter interface {
	Append(ctx context.Context, entry models.ContextEntry) error
}

// IssueSink correlates admitted events into tracked issues.
type IssueSink interface {
	Record(ctx context.Context, event models.TriggerEvent) (*models.Issue, bool)
	AutoResolve(ctx context.Context, subject, resolution string) int
}

// HostSink learns about other hosts whose lines appear in the journal.
type HostSink interface {
	ObserveHost(ctx context.Context, hostname string)
}

// Options wires a Loop. Journal, LLM, Issues, and Discovery may be nil;
// the corresponding tick steps are then skipped.
type Options struct {
	Config    *config.Config
	Sampler   Sampler
	Metrics   *metrics.Store
	Journal   JournalSource
	LLM       Completer
	Window    Admitter
	Issues    IssueSink
	Discovery HostSink

	// Probe overrides how unit states are read. Nil means
	// `systemctl is-active`; harnesses without systemd inject one.
	Probe func(ctx context.Context, unit string) (string, error)
}

type loopStats struct {
	ticks           atomic.Uint64
	eventsAdmitted  atomic.Uint64
	eventsDebounced atomic.Uint64
	patternsMatched atomic.Uint64
	classifierCalls atomic.Uint64
}

// Loop is the trigger loop. Ticks run on a single goroutine; Stats and
// UpdateConfig are safe to call from anywhere.
type Loop struct {
	mu  sync.RWMutex
	cfg *config.Config

	host      string
	sampler   Sampler
	metrics   *metrics.Store
	journal   JournalSource
	llm       Completer
	window    Admitter
	issues    IssueSink
	discovery HostSink
	logger    *slog.Logger

	// probe and now are swapped by tests.
	probe func(ctx context.Context, unit string) (string, error)
	now   func() time.Time

	lastAdmitted map[string]time.Time
	stats        loopStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop builds a trigger loop.
func NewLoop(opts Options) *Loop {
	probe := opts.Probe
	if probe == nil {
		probe = probeState
	}
	return &Loop{
		cfg:          opts.Config,
		host:         opts.Config.Hostname,
		sampler:      opts.Sampler,
		metrics:      opts.Metrics,
		journal:      opts.Journal,
		llm:          opts.LLM,
		window:       opts.Window,
		issues:       opts.Issues,
		discovery:    opts.Discovery,
		logger:       slog.Default().With("component", "trigger"),
		probe:        probe,
		now:          func() time.Time { return time.Now().UTC() },
		lastAdmitted: make(map[string]time.Time),
		done:         make(chan struct{}),
	}
}

// Start launches the tick goroutine. The first tick fires immediately so
// a fresh start observes the host without waiting out the interval.
func (l *Loop) Start(ctx context.Context) error {
	if l.cancel != nil {
		return nil
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)

	l.logger.Info("Trigger loop started",
		"interval", l.config().TriggerInterval(), "classifier", l.config().ClassifierEnabled())
	return nil
}

// Stop terminates the tick goroutine and waits for an in-flight tick.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.logger.Info("Trigger loop stopped")
}

// UpdateConfig swaps the active configuration. The next tick picks up
// new thresholds, service lists, and cadence.
func (l *Loop) UpdateConfig(cfg *config.Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *Loop) config() *config.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Stats snapshots the loop counters.
func (l *Loop) Stats() models.TriggerStats {
	return models.TriggerStats{
		Ticks:           l.stats.ticks.Load(),
		EventsAdmitted:  l.stats.eventsAdmitted.Load(),
		EventsDebounced: l.stats.eventsDebounced.Load(),
		PatternsMatched: l.stats.patternsMatched.Load(),
		ClassifierCalls: l.stats.classifierCalls.Load(),
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	l.Tick(ctx)
	for {
		// Reading the interval each round lets a config reload change
		// the cadence without a restart.
		timer := time.NewTimer(l.config().TriggerInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one observation round. Every step is error-isolated: a
// failed probe or store write is logged and the tick continues.
func (l *Loop) Tick(ctx context.Context) {
	cfg := l.config()
	l.stats.ticks.Add(1)

	var candidates []models.TriggerEvent

	// 1+2: sample host metrics, store them, evaluate thresholds.
	if l.sampler != nil {
		samples := l.sampler.Sample(ctx)
		l.storeSamples(ctx, samples)
		candidates = append(candidates, thresholdEvents(cfg.Thresholds, samples)...)
	}

	// 3: scan the journal delta against the pattern table.
	var unmatched []journal.Entry
	if l.journal != nil {
		lines := l.journal.Delta(ctx)
		l.observeHosts(ctx, lines)
		for _, line := range lines {
			if event, ok := matchLine(line); ok {
				l.stats.patternsMatched.Add(1)
				candidates = append(candidates, event)
				continue
			}
			// journald priority 4 is warning; lower is more severe.
			if line.Priority <= 4 && line.Message != "" {
				unmatched = append(unmatched, line)
			}
		}
	}

	// 4: probe critical services; healthy units auto-resolve their
	// issues.
	probeEvents, probeSamples, recovered := l.probeServices(ctx, cfg.CriticalServices)
	l.storeSamples(ctx, probeSamples)
	candidates = append(candidates, probeEvents...)
	if l.issues != nil {
		for _, subject := range recovered {
			if n := l.issues.AutoResolve(ctx, subject, "recovered"); n > 0 {
				l.logger.Info("Service recovered, issues auto-resolved",
					"subject", subject, "count", n)
			}
		}
	}

	// 5: best-effort classification of leftover warning-or-above lines.
	if cfg.ClassifierEnabled() {
		candidates = append(candidates, l.classify(ctx, cfg, unmatched)...)
	}

	// 6: debounce and admit.
	now := l.now()
	l.pruneDebounce(now, cfg.DebounceWindow())
	for _, event := range candidates {
		if last, seen := l.lastAdmitted[event.Fingerprint]; seen && now.Sub(last) < cfg.DebounceWindow() {
			l.stats.eventsDebounced.Add(1)
			continue
		}
		l.lastAdmitted[event.Fingerprint] = now
		l.admit(ctx, event)
	}
}

func (l *Loop) storeSamples(ctx context.Context, samples []models.MetricSample) {
	if l.metrics == nil || len(samples) == 0 {
		return
	}
	if err := l.metrics.InsertSamples(ctx, samples); err != nil {
		l.logger.Warn("Metric store write failed", "error", err)
	}
}

// admit fans one surviving event out to the context window and the issue
// tracker.
func (l *Loop) admit(ctx context.Context, event models.TriggerEvent) {
	l.stats.eventsAdmitted.Add(1)
	l.logger.Info("Event admitted",
		"kind", event.Kind, "severity", event.Severity, "subject", event.Subject)

	if l.window != nil {
		entry := window.NewEntry(models.EntryTriggerEvent, eventBody(event), event.Fingerprint)
		if err := l.window.Append(ctx, entry); err != nil {
			l.logger.Warn("Window admission failed", "error", err)
		}
	}
	if l.issues != nil {
		l.issues.Record(ctx, event)
	}
}

// eventBody renders an event the way it appears in reasoner prompts.
func eventBody(event models.TriggerEvent) string {
	return fmt.Sprintf("[%s] %s: %s", event.Severity, event.Subject, event.Reason)
}

// observeHosts reports journal hostnames to discovery so foreign hosts
// forwarding logs here get registered.
func (l *Loop) observeHosts(ctx context.Context, lines []journal.Entry) {
	if l.discovery == nil {
		return
	}
	seen := map[string]bool{}
	for _, line := range lines {
		if line.Hostname == "" || line.Hostname == l.host || seen[line.Hostname] {
			continue
		}
		seen[line.Hostname] = true
		l.discovery.ObserveHost(ctx, line.Hostname)
	}
}

func (l *Loop) pruneDebounce(now time.Time, window time.Duration) {
	if len(l.lastAdmitted) < debouncePruneLen {
		return
	}
	for fp, last := range l.lastAdmitted {
		if now.Sub(last) >= window {
			delete(l.lastAdmitted, fp)
		}
	}
}
