package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/models"
)

// compressTarget divides the budget to get the post-compression goal.
// Compressing below the budget leaves headroom so every admission does
// not immediately re-trigger compression.
const compressTarget = 2

// admit appends an entry, compressing first when it would break the
// budget. Runs on the actor goroutine.
func (w *Window) admit(ctx context.Context, entry models.ContextEntry) error {
	// An entry that cannot fit even in an empty window is cut down to
	// whatever room the non-droppable entries leave.
	reserved := w.reservedTokens()
	if entry.TokenCount > w.budget-reserved {
		entry = w.truncateEntry(entry, w.budget-reserved)
	}

	if w.total+entry.TokenCount > w.budget {
		w.compress(ctx, entry.TokenCount)
	}

	w.entries = append(w.entries, entry)
	w.total += entry.TokenCount
	w.stats.Appends++
	return nil
}

// reservedTokens is the space held by entries that never drop: the
// header and the newest meta analysis.
func (w *Window) reservedTokens() int {
	reserved := 0
	if w.header != nil {
		reserved += w.header.TokenCount
	}
	if i := w.newestMetaIndex(); i >= 0 {
		reserved += w.entries[i].TokenCount
	}
	return reserved
}

// compress shrinks the window until the incoming tokens fit, running the
// three stages in escalating order of information loss.
func (w *Window) compress(ctx context.Context, incoming int) {
	target := w.budget / compressTarget
	if room := w.budget - incoming; room < target {
		target = room
	}

	w.coalesce()
	if w.total <= target {
		return
	}
	w.summarizeAged(ctx)
	if w.total <= target {
		return
	}
	w.dropOldest(target)
}

// coalesce merges runs of entries sharing a fingerprint into one summary
// entry: "N× <reason> between t0 and t1".
func (w *Window) coalesce() {
	if len(w.entries) < 2 {
		return
	}
	out := w.entries[:0]
	for _, entry := range w.entries {
		last := len(out) - 1
		if last >= 0 && sameRun(out[last], entry) {
			out[last] = w.mergeRun(out[last], entry)
			w.stats.Coalesced++
			continue
		}
		out = append(out, entry)
	}
	w.entries = out
	w.recount()
}

func sameRun(a, b models.ContextEntry) bool {
	return a.Fingerprint != "" && a.Fingerprint == b.Fingerprint &&
		a.Compressible && b.Compressible
}

// mergeRun folds entry b into run head a, producing a summary entry.
func (w *Window) mergeRun(a, b models.ContextEntry) models.ContextEntry {
	first := a.Timestamp
	if a.FirstSeen != nil {
		first = *a.FirstSeen
	}
	last := b.Timestamp
	if b.LastSeen != nil {
		last = *b.LastSeen
	}
	count := runCount(a) + runCount(b)

	reason := a.Body
	if a.Count > 1 {
		// Already a coalesced summary; recover the reason text.
		reason = runReason(a)
	}

	body := fmt.Sprintf("%d× %s between %s and %s",
		count, reason, first.Format(time.RFC3339), last.Format(time.RFC3339))
	return models.ContextEntry{
		ID:           uuid.NewString(),
		Kind:         models.EntrySummary,
		Timestamp:    last,
		Body:         body,
		TokenCount:   w.counter.Count(body),
		Compressible: true,
		Fingerprint:  a.Fingerprint,
		Count:        count,
		FirstSeen:    &first,
		LastSeen:     &last,
	}
}

func runCount(e models.ContextEntry) int {
	if e.Count > 1 {
		return e.Count
	}
	return 1
}

// runReason strips the coalescing frame from a summary body, leaving the
// original reason text.
func runReason(e models.ContextEntry) string {
	body := e.Body
	if _, rest, found := strings.Cut(body, "× "); found {
		body = rest
	}
	if idx := strings.LastIndex(body, " between "); idx >= 0 {
		body = body[:idx]
	}
	return body
}

// summarizeAged batches compressible entries older than the compression
// age into one LLM-written summary entry. On summarizer failure the
// batch is concatenated and truncated instead; the window never blocks
// on a broken backend for more than the summarizer's own timeout.
func (w *Window) summarizeAged(ctx context.Context) {
	cutoff := w.now().Add(-w.compressAge)
	metaIdx := w.newestMetaIndex()

	var kept []models.ContextEntry
	var aged []models.ContextEntry
	for i, entry := range w.entries {
		if entry.Compressible && i != metaIdx && entry.Timestamp.Before(cutoff) {
			aged = append(aged, entry)
			continue
		}
		kept = append(kept, entry)
	}
	if len(aged) < 2 {
		return
	}

	var sb strings.Builder
	for _, entry := range aged {
		sb.WriteString(entry.Body)
		sb.WriteByte('\n')
	}

	body, err := w.summarize(ctx, sb.String())
	if err != nil {
		w.logger.Warn("Compression summarizer failed, truncating batch", "error", err)
		body = w.counter.Truncate(sb.String(), w.summaryTokens, truncationMarker)
		w.stats.Truncated++
	}

	summary := models.ContextEntry{
		ID:           uuid.NewString(),
		Kind:         models.EntrySummary,
		Timestamp:    aged[len(aged)-1].Timestamp,
		Body:         body,
		TokenCount:   w.counter.Count(body),
		Compressible: true,
	}
	w.stats.Summarized += uint64(len(aged))

	// The summary takes the batch's place at the old end of the window.
	w.entries = append([]models.ContextEntry{summary}, kept...)
	w.recount()
}

func (w *Window) summarize(ctx context.Context, text string) (string, error) {
	if w.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return w.summarizer.Summarize(ctx, text, w.summaryTokens)
}

// dropOldest removes compressible entries oldest-first until the total
// is at or below target. The newest meta analysis survives.
func (w *Window) dropOldest(target int) {
	for w.total > target {
		metaIdx := w.newestMetaIndex()
		dropped := false
		for i, entry := range w.entries {
			if !entry.Compressible || i == metaIdx {
				continue
			}
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			w.total -= entry.TokenCount
			w.stats.Dropped++
			dropped = true
			break
		}
		if !dropped {
			return
		}
	}
}

// newestMetaIndex locates the most recent meta analysis entry, which is
// exempt from summarization and dropping. Returns -1 when none exists.
func (w *Window) newestMetaIndex() int {
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].Kind == models.EntryMetaAnalysis {
			return i
		}
	}
	return -1
}

// truncateEntry cuts an oversized entry body to fit the given token
// room, marking the cut.
func (w *Window) truncateEntry(entry models.ContextEntry, room int) models.ContextEntry {
	if room < 1 {
		room = 1
	}
	entry.Body = w.counter.Truncate(entry.Body, room, truncationMarker)
	entry.TokenCount = w.counter.Count(entry.Body)
	w.stats.Truncated++
	return entry
}

// recount recomputes the running total from stored entry counts after a
// structural change. Entry counts themselves are never recomputed.
func (w *Window) recount() {
	total := 0
	if w.header != nil {
		total += w.header.TokenCount
	}
	for _, entry := range w.entries {
		total += entry.TokenCount
	}
	w.total = total
}
