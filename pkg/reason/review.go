package reason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/window"
)

// errCycleRunning means a tick fired while the previous cycle was still
// talking to the backend. The tick is skipped, not queued.
var errCycleRunning = errors.New("review cycle already running")

// ReviewOptions wires a Review. Issues and Decisions may be nil.
type ReviewOptions struct {
	Config      *config.Config
	LLM         Completer
	Assembler   PromptSource
	Window      Admitter
	Executor    ActionSink
	Issues      IssueSource
	Decisions   *DecisionLog
	Escalations chan<- Escalation
}

// Review is the cadenced medium-tier reasoner. Each cycle it reads the
// assembled context, asks for a structured verdict, routes any proposed
// actions, and escalates what it cannot settle.
type Review struct {
	mu  sync.RWMutex
	cfg *config.Config

	llm         Completer
	assemble    PromptSource
	window      Admitter
	executor    ActionSink
	issues      IssueSource
	decisions   *DecisionLog
	escalations chan<- Escalation
	logger      *slog.Logger

	now     func() time.Time
	running atomic.Bool

	escMu         sync.Mutex
	lastEscalated map[string]time.Time

	verdictMu    sync.Mutex
	lastStatus   models.HealthStatus
	lastVerdict  time.Time
	cycles       atomic.Uint64
	parseRetries atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReview builds the review reasoner.
func NewReview(opts ReviewOptions) *Review {
	return &Review{
		cfg:           opts.Config,
		llm:           opts.LLM,
		assemble:      opts.Assembler,
		window:        opts.Window,
		executor:      opts.Executor,
		issues:        opts.Issues,
		decisions:     opts.Decisions,
		escalations:   opts.Escalations,
		logger:        slog.Default().With("component", "review"),
		now:           func() time.Time { return time.Now().UTC() },
		lastEscalated: make(map[string]time.Time),
		done:          make(chan struct{}),
	}
}

// Start launches the cycle ticker. The first cycle runs after one full
// interval so the trigger loop has context to review.
func (r *Review) Start(ctx context.Context) error {
	if r.cancel != nil {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
	r.logger.Info("Review reasoner started", "interval", r.config().ReviewInterval())
	return nil
}

// Stop terminates the ticker and waits for an in-flight cycle's context
// to unwind.
func (r *Review) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// UpdateConfig swaps the configuration; the new cadence applies from the
// next tick.
func (r *Review) UpdateConfig(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Review) config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Health returns the most recent verdict for status reporting.
func (r *Review) Health() (models.HealthStatus, time.Time) {
	r.verdictMu.Lock()
	defer r.verdictMu.Unlock()
	return r.lastStatus, r.lastVerdict
}

func (r *Review) run(ctx context.Context) {
	defer close(r.done)
	for {
		timer := time.NewTimer(r.config().ReviewInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := r.Cycle(ctx); err != nil {
			switch {
			case errors.Is(err, errCycleRunning):
				r.logger.Debug("Previous review cycle still running, tick skipped")
			case errors.Is(err, llm.ErrBackendDown):
				r.logger.Debug("Review backend unavailable, cycle skipped")
			case ctx.Err() != nil:
				return
			default:
				r.logger.Warn("Review cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs one review pass. Concurrent calls are refused so a slow
// backend cannot pile up cycles.
func (r *Review) Cycle(ctx context.Context) (*models.ReviewReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, errCycleRunning
	}
	defer r.running.Store(false)

	cfg := r.config()
	started := r.now()

	prompt, err := r.assemble.Assemble(ctx, cfg.ReviewContextTokens)
	if err != nil {
		return nil, fmt.Errorf("assemble review prompt: %w", err)
	}

	messages := []models.Message{
		models.SystemMessage(reviewInstruction),
		models.UserMessage(prompt),
	}
	raw, err := r.llm.Complete(ctx, cfg.ReviewTier(), messages)
	if err != nil {
		r.recordError(started, cfg, err)
		return nil, err
	}

	report, ok := parseReviewReport(raw)
	if !ok {
		r.parseRetries.Add(1)
		r.logger.Debug("Review reply did not parse, retrying once")
		messages = append(messages,
			models.AssistantMessage(raw),
			models.UserMessage(reviewReinforce))
		raw, err = r.llm.Complete(ctx, cfg.ReviewTier(), messages)
		if err != nil {
			r.recordError(started, cfg, err)
			return nil, err
		}
		report, ok = parseReviewReport(raw)
		if !ok {
			err = fmt.Errorf("%w: review reply did not parse after retry", llm.ErrMalformedReply)
			r.recordError(started, cfg, err)
			return nil, err
		}
	}

	actionIDs := r.routeActions(ctx, report.Actions)
	if report.Escalate {
		r.escalate(report)
	}
	r.appendSummary(ctx, report, len(report.Actions))

	r.verdictMu.Lock()
	r.lastStatus = report.Status
	r.lastVerdict = started
	r.verdictMu.Unlock()
	r.cycles.Add(1)

	r.decisions.Append(models.DecisionRecord{
		At:         started,
		Origin:     models.OriginReview,
		Tier:       "review",
		Model:      cfg.ReviewModel,
		Status:     report.Status,
		Assessment: report.Assessment,
		ActionIDs:  actionIDs,
		Escalated:  report.Escalate,
		DurationMs: r.now().Sub(started).Milliseconds(),
	})

	r.logger.Info("Review cycle complete",
		"status", report.Status, "issues", len(report.Issues),
		"actions", len(report.Actions), "escalate", report.Escalate)
	return report, nil
}

func (r *Review) recordError(started time.Time, cfg *config.Config, err error) {
	r.decisions.Append(models.DecisionRecord{
		At:         started,
		Origin:     models.OriginReview,
		Tier:       "review",
		Model:      cfg.ReviewModel,
		Error:      err.Error(),
		DurationMs: r.now().Sub(started).Milliseconds(),
	})
}

// routeActions submits proposals in the order the reasoner declared
// them. Policy rejections and duplicates are expected outcomes, not
// cycle failures.
func (r *Review) routeActions(ctx context.Context, actions []models.ProposedAction) []string {
	ids := make([]string, 0, len(actions))
	for _, action := range actions {
		action.Origin = models.OriginReview
		queued, err := r.executor.Submit(ctx, action)
		switch {
		case errors.Is(err, executor.ErrPolicyRejected):
			ids = append(ids, queued.ID)
		case errors.Is(err, executor.ErrDuplicate):
			r.logger.Debug("Review action was a duplicate", "subject", action.Subject)
		case err != nil:
			r.logger.Warn("Review action submission failed",
				"subject", action.Subject, "error", err)
		default:
			ids = append(ids, queued.ID)
		}
	}
	return ids
}

// escalate hands the report to the meta tier unless the same problem
// escalated within the cooldown. The channel send never blocks: with the
// meta tier backed up, dropping is better than stalling review.
func (r *Review) escalate(report *models.ReviewReport) {
	cfg := r.config()
	now := r.now()
	fingerprint := r.escalationFingerprint(report)

	r.escMu.Lock()
	if last, ok := r.lastEscalated[fingerprint]; ok && now.Sub(last) < cfg.EscalationCooldown() {
		r.escMu.Unlock()
		r.logger.Debug("Escalation suppressed by cooldown", "fingerprint", fingerprint)
		return
	}
	r.lastEscalated[fingerprint] = now
	for fp, at := range r.lastEscalated {
		if now.Sub(at) > 2*cfg.EscalationCooldown() {
			delete(r.lastEscalated, fp)
		}
	}
	r.escMu.Unlock()

	esc := Escalation{Reason: report.EscalationReason, Fingerprint: fingerprint, At: now}
	select {
	case r.escalations <- esc:
		r.logger.Info("Escalated to meta tier", "reason", esc.Reason)
	default:
		r.logger.Warn("Escalation channel full, dropping", "reason", esc.Reason)
	}
}

// escalationFingerprint keys the cooldown on the most severe active
// issue, falling back to a hash of the reason text when nothing is
// tracked yet.
func (r *Review) escalationFingerprint(report *models.ReviewReport) string {
	if r.issues != nil {
		var best *models.Issue
		for _, status := range []models.IssueStatus{models.IssueOpen, models.IssueInvestigating} {
			for _, issue := range r.issues.List(status) {
				if best == nil || issue.Severity.Bucket() > best.Severity.Bucket() {
					best = issue
				}
			}
		}
		if best != nil && len(best.Fingerprints) > 0 {
			return best.Fingerprints[0]
		}
	}
	return hashFingerprint(report.EscalationReason)
}

func (r *Review) appendSummary(ctx context.Context, report *models.ReviewReport, actions int) {
	open := 0
	if r.issues != nil {
		open = r.issues.OpenCount()
	}
	body := fmt.Sprintf("Review: %s. %s (open issues: %d, actions proposed: %d)",
		report.Status, report.Assessment, open, actions)
	if report.Escalate {
		body += "; escalated: " + report.EscalationReason
	}
	if err := r.window.Append(ctx, window.NewEntry(models.EntryReviewSummary, body, "")); err != nil {
		r.logger.Warn("Review summary admission failed", "error", err)
	}
}

// parseReviewReport extracts and validates the verdict object. A reply
// whose status is not a known health status counts as a parse failure so
// the reinforced retry fires.
func parseReviewReport(raw string) (*models.ReviewReport, bool) {
	text, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return nil, false
	}
	var report models.ReviewReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, false
	}
	if !report.Status.Valid() {
		return nil, false
	}
	return &report, true
}
