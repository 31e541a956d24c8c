// Package retention enforces the daemon's data retention on the
// cleanup cadence: expired metric samples are evicted from the
// time-series store and stale resolved issues are closed into the
// archive. Passes are idempotent; a failed pass retries on the next
// tick.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
)

// MetricEvicter deletes samples past a cutoff, satisfied by the
// metrics store.
type MetricEvicter interface {
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IssueTrimmer archives resolved issues that have gone stale,
// satisfied by the issue tracker.
type IssueTrimmer interface {
	TrimResolved(ctx context.Context, olderThan time.Duration) int
}

// Options wires a Service. Metrics and Issues may be nil; the
// corresponding pass is then skipped.
type Options struct {
	Config  *config.Config
	Metrics MetricEvicter
	Issues  IssueTrimmer
}

// Service runs the retention passes on a single goroutine.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	metrics MetricEvicter
	issues  IssueTrimmer
	logger  *slog.Logger

	// now is swapped by tests.
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a retention service.
func NewService(opts Options) *Service {
	return &Service{
		cfg:     opts.Config,
		metrics: opts.Metrics,
		issues:  opts.Issues,
		logger:  slog.Default().With("component", "retention"),
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}
}

// Start launches the retention goroutine. The first pass runs
// immediately so a daemon restarted after downtime catches up without
// waiting out the interval.
func (s *Service) Start(ctx context.Context) error {
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	cfg := s.config()
	s.logger.Info("Retention service started",
		"interval", cfg.CleanupInterval(), "horizon", cfg.MetricsRetention())
	return nil
}

// Stop terminates the retention goroutine and waits for an in-flight
// pass.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention service stopped")
}

// UpdateConfig swaps the active configuration. The next pass picks up
// new cadence and horizon values.
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	s.runAll(ctx)
	for {
		// Reading the interval each round lets a config reload change
		// the cadence without a restart.
		timer := time.NewTimer(s.config().CleanupInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runAll(ctx)
	}
}

// runAll executes every retention pass. Passes are independent; one
// failing does not stop the others.
func (s *Service) runAll(ctx context.Context) {
	s.evictMetrics(ctx)
	s.trimIssues(ctx)
}

// evictMetrics deletes samples older than the retention horizon.
func (s *Service) evictMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	cutoff := s.now().Add(-s.config().MetricsRetention())
	evicted, err := s.metrics.EvictOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("Metric eviction failed", "error", err)
		return
	}
	if evicted > 0 {
		s.logger.Info("Evicted expired metric samples",
			"count", evicted, "older_than", cutoff.Format(time.RFC3339))
	}
}

// trimIssues closes resolved issues older than the retention horizon.
// The horizon sits well past the reopen cooldown, so recurrences
// reattach to a resolved issue long before it is archived.
func (s *Service) trimIssues(ctx context.Context) {
	if s.issues == nil {
		return
	}
	if closed := s.issues.TrimResolved(ctx, s.config().MetricsRetention()); closed > 0 {
		s.logger.Info("Archived stale resolved issues", "count", closed)
	}
}
