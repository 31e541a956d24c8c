// Package discovery feeds the systems registry in the semantic store:
// the local host registers itself at startup, and hosts whose lines show
// up in the aggregated journal are recorded as they are seen.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/semantic"
)

// refreshInterval limits last-seen updates per host; journal lines from
// a busy remote would otherwise hit the store every tick.
const refreshInterval = time.Hour

// Registry tracks known systems. All writes go through the semantic
// store; the in-memory map only rate-limits refreshes.
type Registry struct {
	store  *semantic.Store
	host   string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	observed map[string]observation
}

type observation struct {
	firstSeen time.Time
	lastWrite time.Time
}

// NewRegistry builds a registry for the given local hostname. store may
// be nil when the semantic store is unreachable; observations are then
// kept in memory only.
func NewRegistry(store *semantic.Store, host string) *Registry {
	return &Registry{
		store:    store,
		host:     host,
		logger:   slog.Default().With("component", "discovery"),
		now:      func() time.Time { return time.Now().UTC() },
		observed: make(map[string]observation),
	}
}

// RegisterSelf records the local host in the systems collection.
func (r *Registry) RegisterSelf(ctx context.Context) {
	now := r.now()
	r.mu.Lock()
	r.observed[r.host] = observation{firstSeen: now, lastWrite: now}
	r.mu.Unlock()

	r.upsert(ctx, semantic.System{
		Hostname:  r.host,
		Kind:      "local",
		FirstSeen: now,
		LastSeen:  now,
	})
}

// ObserveHost records a sighting of a host in the journal. The local
// host is ignored; remote hosts are written through at most once per
// refresh interval.
func (r *Registry) ObserveHost(ctx context.Context, hostname string) {
	if hostname == "" || hostname == r.host {
		return
	}
	now := r.now()

	r.mu.Lock()
	obs, known := r.observed[hostname]
	if known && now.Sub(obs.lastWrite) < refreshInterval {
		r.mu.Unlock()
		return
	}
	if !known {
		obs.firstSeen = now
	}
	obs.lastWrite = now
	r.observed[hostname] = obs
	r.mu.Unlock()

	if !known {
		r.logger.Info("Discovered system from journal", "hostname", hostname)
	}
	r.upsert(ctx, semantic.System{
		Hostname:  hostname,
		Kind:      "remote",
		FirstSeen: obs.firstSeen,
		LastSeen:  now,
	})
}

// ListKnown returns the systems registry, falling back to the in-memory
// observations when the store is unavailable.
func (r *Registry) ListKnown(ctx context.Context) []semantic.System {
	if r.store != nil {
		systems, err := r.store.ListSystems(ctx)
		if err == nil {
			return systems
		}
		r.logger.Warn("Systems listing failed, using in-memory view", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	systems := make([]semantic.System, 0, len(r.observed))
	for hostname, obs := range r.observed {
		kind := "remote"
		if hostname == r.host {
			kind = "local"
		}
		systems = append(systems, semantic.System{
			Hostname:  hostname,
			Kind:      kind,
			FirstSeen: obs.firstSeen,
			LastSeen:  obs.lastWrite,
		})
	}
	return systems
}

func (r *Registry) upsert(ctx context.Context, sys semantic.System) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertSystem(ctx, sys); err != nil {
		r.logger.Warn("System upsert failed", "hostname", sys.Hostname, "error", err)
	}
}
