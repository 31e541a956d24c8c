package orchestrator

import (
	"context"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/window"
)

// consumeEscalations feeds review escalations to the meta tier, one at
// a time so a slow deep analysis naturally backpressures the channel.
func (o *Orchestrator) consumeEscalations(ctx context.Context) {
	defer o.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case esc := <-o.escalations:
			if err := o.meta.HandleEscalation(ctx, esc); err != nil {
				o.logger.Warn("Escalation analysis failed",
					"reason", esc.Reason, "error", err)
			}
		}
	}
}

// runActivityReports collects sar summaries on the configured cadence
// and admits them to the context window. A host without sysstat gets
// one warning and an idle worker.
func (o *Orchestrator) runActivityReports(ctx context.Context) {
	defer o.workers.Done()

	if !o.sar.Available() {
		o.logger.Warn("sar not found, activity reports disabled (install sysstat to enable)")
		return
	}

	last := o.startedAt
	for {
		timer := time.NewTimer(o.config().SARInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		report := o.sar.Collect(ctx, last)
		last = time.Now().UTC()
		if !report.Available {
			o.logger.Debug("Activity report unavailable this cycle")
			continue
		}
		entry := window.NewEntry(models.EntryActivityReport, report.Rendered, "")
		if err := o.window.Append(ctx, entry); err != nil {
			o.logger.Warn("Activity report admission failed", "error", err)
		}
	}
}

// runSnapshots persists the window and queue on the snapshot cadence so
// a crash loses at most one interval of context.
func (o *Orchestrator) runSnapshots(ctx context.Context) {
	defer o.workers.Done()
	for {
		timer := time.NewTimer(o.config().SnapshotInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := o.window.Persist(ctx); err != nil {
			o.logger.Warn("Window snapshot failed", "error", err)
		}
		if err := o.queue.Persist(); err != nil {
			o.logger.Warn("Queue snapshot failed", "error", err)
		}
	}
}
