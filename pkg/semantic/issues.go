package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wardenlabs/warden/pkg/models"
)

// IssueMatch is a similarity-search hit against the issues collection.
type IssueMatch struct {
	Issue      *models.Issue
	Similarity float64
}

// UpsertIssue writes an issue to the store. The full record is stored as
// the document so similarity search sees title, description, and
// resolution text together; filterable fields are mirrored into metadata.
func (s *Store) UpsertIssue(ctx context.Context, issue *models.Issue) error {
	doc, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal issue %s: %w", issue.ID, err)
	}

	return s.upsert(ctx, collectionIssues, upsertRequest{
		IDs:       []string{issue.ID},
		Documents: []string{string(doc)},
		Metadatas: []map[string]any{{
			"host":       issue.Host,
			"title":      issue.Title,
			"status":     string(issue.Status),
			"severity":   string(issue.Severity),
			"created_at": issue.CreatedAt.Format(timeLayout),
		}},
	})
}

// GetIssue fetches one issue by id. Returns nil when the id is unknown.
func (s *Store) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	resp, err := s.get(ctx, collectionIssues, getRequest{
		IDs:     []string{id},
		Include: []string{"documents"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return nil, nil
	}

	var issue models.Issue
	if err := json.Unmarshal([]byte(resp.Documents[0]), &issue); err != nil {
		return nil, fmt.Errorf("decode issue %s: %w", id, err)
	}
	return &issue, nil
}

// ListIssues returns stored issues, optionally filtered by host and
// status, newest first.
func (s *Store) ListIssues(ctx context.Context, host string, status models.IssueStatus) ([]*models.Issue, error) {
	where := map[string]any{}
	if host != "" {
		where["host"] = host
	}
	if status != "" {
		where["status"] = string(status)
	}
	if len(where) == 0 {
		where = nil
	}

	resp, err := s.get(ctx, collectionIssues, getRequest{
		Where:   where,
		Include: []string{"documents"},
	})
	if err != nil {
		return nil, err
	}

	issues := make([]*models.Issue, 0, len(resp.Documents))
	for i, doc := range resp.Documents {
		var issue models.Issue
		if err := json.Unmarshal([]byte(doc), &issue); err != nil {
			s.logger.Warn("Skipping undecodable issue record", "id", resp.IDs[i], "error", err)
			continue
		}
		issues = append(issues, &issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].CreatedAt.After(issues[j].CreatedAt)
	})
	return issues, nil
}

// QueryIssues finds the k most similar stored issues for a free-text
// query, best match first. Distances are converted to similarities.
func (s *Store) QueryIssues(ctx context.Context, text string, k int) ([]IssueMatch, error) {
	resp, err := s.query(ctx, collectionIssues, queryRequest{
		QueryTexts: []string{text},
		NResults:   k,
		Include:    []string{"documents", "distances"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return nil, nil
	}

	matches := make([]IssueMatch, 0, len(resp.Documents[0]))
	for i, doc := range resp.Documents[0] {
		var issue models.Issue
		if err := json.Unmarshal([]byte(doc), &issue); err != nil {
			continue
		}
		m := IssueMatch{Issue: &issue, Similarity: 1}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Similarity = 1 - resp.Distances[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteIssue removes an issue record from the store.
func (s *Store) DeleteIssue(ctx context.Context, id string) error {
	return s.delete(ctx, collectionIssues, []string{id})
}
