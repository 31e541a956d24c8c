package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/models"
)

const timeLayout = time.RFC3339

// UpsertKnowledge stores one operational learning. The knowledge text is
// the searchable document; topic and category ride along as metadata.
func (s *Store) UpsertKnowledge(ctx context.Context, l models.Learning) (string, error) {
	id := uuid.NewString()
	err := s.upsert(ctx, collectionKnowledge, upsertRequest{
		IDs:       []string{id},
		Documents: []string{l.Knowledge},
		Metadatas: []map[string]any{{
			"topic":      l.Topic,
			"category":   l.Category,
			"confidence": l.Confidence,
			"created_at": time.Now().UTC().Format(timeLayout),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("upsert knowledge %q: %w", l.Topic, err)
	}
	return id, nil
}

// QueryKnowledge returns the k most relevant learnings for a free-text
// query, best match first.
func (s *Store) QueryKnowledge(ctx context.Context, text string, k int) ([]models.Learning, error) {
	resp, err := s.query(ctx, collectionKnowledge, queryRequest{
		QueryTexts: []string{text},
		NResults:   k,
		Include:    []string{"documents", "metadatas"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return nil, nil
	}

	learnings := make([]models.Learning, 0, len(resp.Documents[0]))
	for i, doc := range resp.Documents[0] {
		l := models.Learning{Knowledge: doc}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			meta := resp.Metadatas[0][i]
			l.Topic = metaString(meta, "topic")
			l.Category = metaString(meta, "category")
			if conf, ok := meta["confidence"].(float64); ok {
				l.Confidence = conf
			}
		}
		learnings = append(learnings, l)
	}
	return learnings, nil
}

// KnowledgeCount reports how many learnings the store holds. Used at
// startup to decide whether baseline seeding is needed.
func (s *Store) KnowledgeCount(ctx context.Context) (int, error) {
	return s.count(ctx, collectionKnowledge)
}
