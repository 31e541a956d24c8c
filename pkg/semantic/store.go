// Package semantic is the HTTP adapter for warden's vector store. The
// store holds three collections: issues (long-lived problem records),
// knowledge (operational learnings), and systems (hosts observed in the
// journal). Documents are embedded server-side, so the adapter only
// ships text and metadata.
//
// The store is an enrichment layer: every caller treats it as optional
// and degrades when it is unreachable.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	apiPrefix = "/api/v1"

	// Collection names. Fixed; the store creates them on first use.
	collectionIssues    = "warden_issues"
	collectionKnowledge = "warden_knowledge"
	collectionSystems   = "warden_systems"

	requestTimeout = 10 * time.Second
)

// Store talks to a Chroma-compatible vector database over HTTP. Safe for
// concurrent use.
type Store struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	mu          sync.Mutex
	collections map[string]string // name -> collection id
}

// NewStore creates a store adapter for the given base URL.
func NewStore(baseURL string) *Store {
	return &Store{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     baseURL,
		logger:      slog.Default().With("component", "semantic"),
		collections: make(map[string]string),
	}
}

// Ping checks that the store answers its heartbeat endpoint. Used at
// startup; failure is reported, never fatal.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiPrefix+"/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: status %d", resp.StatusCode)
	}
	return nil
}

// collection resolves a collection name to its id, creating the
// collection on first use. Ids are cached for the life of the store.
func (s *Store) collection(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if id, ok := s.collections[name]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var created collectionInfo
	err := s.post(ctx, "/collections", createCollectionRequest{
		Name:        name,
		GetOrCreate: true,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.collections[name] = created.ID
	s.mu.Unlock()
	return created.ID, nil
}

// upsert writes documents into a collection, replacing records that
// share an id.
func (s *Store) upsert(ctx context.Context, collectionName string, records upsertRequest) error {
	id, err := s.collection(ctx, collectionName)
	if err != nil {
		return err
	}
	return s.post(ctx, "/collections/"+id+"/upsert", records, nil)
}

// get fetches records by id or metadata filter.
func (s *Store) get(ctx context.Context, collectionName string, req getRequest) (*getResponse, error) {
	id, err := s.collection(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	var out getResponse
	if err := s.post(ctx, "/collections/"+id+"/get", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// query runs a semantic similarity search.
func (s *Store) query(ctx context.Context, collectionName string, req queryRequest) (*queryResponse, error) {
	id, err := s.collection(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	var out queryResponse
	if err := s.post(ctx, "/collections/"+id+"/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// delete removes records by id.
func (s *Store) delete(ctx context.Context, collectionName string, ids []string) error {
	id, err := s.collection(ctx, collectionName)
	if err != nil {
		return err
	}
	return s.post(ctx, "/collections/"+id+"/delete", deleteRequest{IDs: ids}, nil)
}

// count returns the number of records in a collection.
func (s *Store) count(ctx context.Context, collectionName string) (int, error) {
	id, err := s.collection(ctx, collectionName)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+apiPrefix+"/collections/"+id+"/count", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collectionName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("count %s: status %d", collectionName, resp.StatusCode)
	}

	var n int
	if err := json.Unmarshal(body, &n); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return n, nil
}

// post sends a JSON request and decodes the JSON response into out when
// out is non-nil.
func (s *Store) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("store returned HTTP %d for %s: %s", resp.StatusCode, path, truncate(respBody, 256))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
