// Package window maintains the rolling, token-budgeted context that all
// reasoner prompts are assembled from. A single goroutine owns the entry
// sequence; producers submit entries through a mailbox and block until
// admission, so the budget invariant holds without shared locks. Readers
// get point-in-time snapshots and never observe mid-compression state.
package window

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/tokens"
)

// ErrClosed reports an operation against a stopped window.
var ErrClosed = errors.New("context window is closed")

// truncationMarker is appended to any entry body cut down during
// admission or compression fallback.
const truncationMarker = " …[truncated]"

// Summarizer produces a bounded summary of aged entries. Implementations
// call the small reasoner tier; errors make compression fall back to
// rule-based truncation.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Options configures a Window.
type Options struct {
	Budget        int
	SummaryTokens int
	CompressAge   time.Duration
	StateDir      string

	// Summarizer may be nil; compression then always truncates.
	Summarizer Summarizer
	// Counter defaults to the shared tokens counter.
	Counter *tokens.Counter
}

// Stats counts what the window has done since start. Counters persist
// across restarts through the snapshot file.
type Stats struct {
	Entries    int    `json:"entries"`
	Tokens     int    `json:"tokens"`
	Appends    uint64 `json:"appends"`
	Coalesced  uint64 `json:"coalesced"`
	Summarized uint64 `json:"summarized"`
	Dropped    uint64 `json:"dropped"`
	Truncated  uint64 `json:"truncated"`
}

// Snapshot is a point-in-time copy of the window for assembly and
// inspection.
type Snapshot struct {
	Header  *models.ContextEntry
	Entries []models.ContextEntry
	Stats   Stats
}

// Window is the context window actor handle. All methods are safe for
// concurrent use; they funnel into the single actor goroutine.
type Window struct {
	budget        int
	summaryTokens int
	compressAge   time.Duration
	summarizer    Summarizer
	counter       *tokens.Counter
	snapshotPath  string
	logger        *slog.Logger
	now           func() time.Time

	appendCh  chan appendRequest
	headerCh  chan headerRequest
	snapCh    chan snapshotRequest
	persistCh chan persistRequest

	cancel context.CancelFunc
	done   chan struct{}

	// Actor-owned state. Only the loop goroutine touches these after
	// Start.
	header  *models.ContextEntry
	entries []models.ContextEntry
	total   int
	stats   Stats
}

type appendRequest struct {
	entry models.ContextEntry
	reply chan error
}

type headerRequest struct {
	entry models.ContextEntry
	reply chan error
}

type snapshotRequest struct {
	reply chan Snapshot
}

type persistRequest struct {
	reply chan error
}

// New creates a window. Call Start before use.
func New(opts Options) *Window {
	counter := opts.Counter
	if counter == nil {
		counter = tokens.Default()
	}
	return &Window{
		budget:        opts.Budget,
		summaryTokens: opts.SummaryTokens,
		compressAge:   opts.CompressAge,
		summarizer:    opts.Summarizer,
		counter:       counter,
		snapshotPath:  snapshotPath(opts.StateDir),
		logger:        slog.Default().With("component", "window"),
		now:           func() time.Time { return time.Now().UTC() },
		appendCh:      make(chan appendRequest),
		headerCh:      make(chan headerRequest),
		snapCh:        make(chan snapshotRequest),
		persistCh:     make(chan persistRequest),
		done:          make(chan struct{}),
	}
}

// Start restores the previous snapshot if one exists and launches the
// actor goroutine.
func (w *Window) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	if err := w.restore(); err != nil {
		w.logger.Warn("Window restore failed, starting empty", "error", err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)

	w.logger.Info("Context window started",
		"budget_tokens", w.budget, "restored_entries", len(w.entries))
	return nil
}

// Stop persists a final snapshot and terminates the actor.
func (w *Window) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.logger.Info("Context window stopped")
}

func (w *Window) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			if err := w.persist(); err != nil {
				w.logger.Error("Final window snapshot failed", "error", err)
			}
			return
		case req := <-w.appendCh:
			req.reply <- w.admit(ctx, req.entry)
		case req := <-w.headerCh:
			w.setHeader(req.entry)
			req.reply <- nil
		case req := <-w.snapCh:
			req.reply <- w.snapshot()
		case req := <-w.persistCh:
			req.reply <- w.persist()
		}
	}
}

// Append submits an entry for admission and blocks until the actor has
// made room for it.
func (w *Window) Append(ctx context.Context, entry models.ContextEntry) error {
	req := appendRequest{entry: entry, reply: make(chan error, 1)}
	select {
	case w.appendCh <- req:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetHeader replaces the system header entry. The header never drops and
// never compresses.
func (w *Window) SetHeader(ctx context.Context, body string) error {
	entry := models.ContextEntry{
		ID:         uuid.NewString(),
		Kind:       models.EntrySystemHeader,
		Timestamp:  w.now(),
		Body:       body,
		TokenCount: w.counter.Count(body),
	}
	req := headerRequest{entry: entry, reply: make(chan error, 1)}
	select {
	case w.headerCh <- req:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a point-in-time copy of the window.
func (w *Window) Snapshot(ctx context.Context) (Snapshot, error) {
	req := snapshotRequest{reply: make(chan Snapshot, 1)}
	select {
	case w.snapCh <- req:
	case <-w.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-w.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Persist writes the snapshot file now. The snapshotter worker calls
// this on its cadence; shutdown writes a final one regardless.
func (w *Window) Persist(ctx context.Context) error {
	req := persistRequest{reply: make(chan error, 1)}
	select {
	case w.persistCh <- req:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setHeader swaps the header and adjusts the running total. Runs on the
// actor goroutine.
func (w *Window) setHeader(entry models.ContextEntry) {
	if w.header != nil {
		w.total -= w.header.TokenCount
	}
	w.header = &entry
	w.total += entry.TokenCount
}

// snapshot copies actor state. Runs on the actor goroutine.
func (w *Window) snapshot() Snapshot {
	snap := Snapshot{
		Entries: make([]models.ContextEntry, len(w.entries)),
		Stats:   w.statsNow(),
	}
	copy(snap.Entries, w.entries)
	if w.header != nil {
		header := *w.header
		snap.Header = &header
	}
	return snap
}

func (w *Window) statsNow() Stats {
	stats := w.stats
	stats.Entries = len(w.entries)
	stats.Tokens = w.total
	return stats
}

// NewEntry builds a context entry with its token count stamped by the
// shared counter. Producers construct entries with this and never
// recount them.
func NewEntry(kind models.EntryKind, body, fingerprint string) models.ContextEntry {
	return models.ContextEntry{
		ID:           uuid.NewString(),
		Kind:         kind,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		TokenCount:   tokens.Count(body),
		Compressible: kind != models.EntrySystemHeader,
		Fingerprint:  fingerprint,
	}
}
