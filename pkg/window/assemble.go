package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/tokens"
)

// MetricsSource renders the recent-metrics table included in every
// prompt. Implemented by the metrics store.
type MetricsSource interface {
	RecentTable(ctx context.Context, host string, now time.Time) (string, error)
}

// Assembler renders reasoner prompts from window snapshots. Rendering
// happens outside the actor so a slow metrics query never blocks
// admission.
type Assembler struct {
	window   *Window
	metrics  MetricsSource
	counter  *tokens.Counter
	host     string
	sarFresh time.Duration
	now      func() time.Time
}

// NewAssembler creates a prompt assembler. metrics may be nil; the
// metrics section is then omitted.
func NewAssembler(w *Window, metrics MetricsSource, host string, sarFresh time.Duration) *Assembler {
	return &Assembler{
		window:   w,
		metrics:  metrics,
		counter:  w.counter,
		host:     host,
		sarFresh: sarFresh,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assemble renders a prompt of at most budget tokens: system header,
// recent-metrics table, the freshest activity report, then entries
// newest-first until the budget is reached.
func (a *Assembler) Assemble(ctx context.Context, budget int) (string, error) {
	snap, err := a.window.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("window snapshot: %w", err)
	}

	var sb strings.Builder
	used := 0

	if snap.Header != nil {
		used += a.writeBlock(&sb, snap.Header.Body, budget-used)
	}

	if a.metrics != nil {
		table, err := a.metrics.RecentTable(ctx, a.host, a.now())
		if err == nil && table != "" {
			used += a.writeBlock(&sb, "## Recent metrics\n"+table, budget-used)
		}
	}

	activity := a.freshestActivity(snap.Entries)
	if activity != nil {
		used += a.writeBlock(&sb, "## System activity\n"+activity.Body, budget-used)
	}

	var events strings.Builder
	events.WriteString("## Recent events (newest first)\n")
	eventsUsed := a.counter.Count(events.String())
	wrote := false
	for i := len(snap.Entries) - 1; i >= 0; i-- {
		entry := snap.Entries[i]
		if activity != nil && entry.ID == activity.ID {
			continue
		}
		line := fmt.Sprintf("- [%s] (%s) %s\n",
			entry.Timestamp.Format(time.RFC3339), entry.Kind, entry.Body)
		cost := a.counter.Count(line)
		if used+eventsUsed+cost > budget {
			break
		}
		events.WriteString(line)
		eventsUsed += cost
		wrote = true
	}
	if wrote {
		sb.WriteString(events.String())
		used += eventsUsed
	}

	prompt := sb.String()
	// The final string is what callers bill, not the running count.
	if a.counter.Count(prompt) > budget {
		prompt = a.counter.Truncate(prompt, budget, truncationMarker)
	}
	return prompt, nil
}

// writeBlock appends text plus a separating newline when it fits in the
// remaining room, returning the tokens consumed. Oversized blocks are
// truncated rather than skipped only for the leading header block.
func (a *Assembler) writeBlock(sb *strings.Builder, text string, room int) int {
	if room <= 0 {
		return 0
	}
	block := text + "\n\n"
	cost := a.counter.Count(block)
	if cost > room {
		if sb.Len() > 0 {
			return 0
		}
		block = a.counter.Truncate(block, room, truncationMarker)
		cost = a.counter.Count(block)
	}
	sb.WriteString(block)
	return cost
}

// freshestActivity returns the newest activity report entry when it is
// within the freshness window, else nil.
func (a *Assembler) freshestActivity(entries []models.ContextEntry) *models.ContextEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind != models.EntryActivityReport {
			continue
		}
		if a.now().Sub(entries[i].Timestamp) <= a.sarFresh {
			entry := entries[i]
			return &entry
		}
		return nil
	}
	return nil
}
