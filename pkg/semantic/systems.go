package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// System is one host known to the registry: the local machine plus any
// remote hosts whose lines appear in the aggregated journal.
type System struct {
	Hostname  string    `json:"hostname"`
	Kind      string    `json:"kind"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// UpsertSystem registers or refreshes a host in the systems collection.
// The hostname is the record id, so repeated sightings update in place.
func (s *Store) UpsertSystem(ctx context.Context, sys System) error {
	doc := fmt.Sprintf("Host %s (%s), first seen %s",
		sys.Hostname, sys.Kind, sys.FirstSeen.Format(timeLayout))

	return s.upsert(ctx, collectionSystems, upsertRequest{
		IDs:       []string{sys.Hostname},
		Documents: []string{doc},
		Metadatas: []map[string]any{{
			"hostname":   sys.Hostname,
			"kind":       sys.Kind,
			"first_seen": sys.FirstSeen.Format(timeLayout),
			"last_seen":  sys.LastSeen.Format(timeLayout),
		}},
	})
}

// ListSystems returns every registered host, alphabetical by hostname.
func (s *Store) ListSystems(ctx context.Context) ([]System, error) {
	resp, err := s.get(ctx, collectionSystems, getRequest{
		Include: []string{"metadatas"},
	})
	if err != nil {
		return nil, err
	}

	systems := make([]System, 0, len(resp.Metadatas))
	for _, meta := range resp.Metadatas {
		sys := System{
			Hostname: metaString(meta, "hostname"),
			Kind:     metaString(meta, "kind"),
		}
		if t, err := time.Parse(timeLayout, metaString(meta, "first_seen")); err == nil {
			sys.FirstSeen = t
		}
		if t, err := time.Parse(timeLayout, metaString(meta, "last_seen")); err == nil {
			sys.LastSeen = t
		}
		if sys.Hostname != "" {
			systems = append(systems, sys)
		}
	}
	sort.Slice(systems, func(i, j int) bool {
		return systems[i].Hostname < systems[j].Hostname
	})
	return systems, nil
}
