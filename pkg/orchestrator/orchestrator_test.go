package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/issues"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/reason"
	"github.com/wardenlabs/warden/pkg/retention"
	"github.com/wardenlabs/warden/pkg/semantic"
	"github.com/wardenlabs/warden/pkg/trigger"
	"github.com/wardenlabs/warden/pkg/window"
)

func TestRenderHeader(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutonomyLevel = config.AutonomyAutoSafe
	cfg.CriticalServices = []string{"nginx", "postgresql"}
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	header := renderHeader(cfg, "db-1", started)

	assert.Contains(t, header, "## Warden on db-1")
	assert.Contains(t, header, "2026-03-01T08:00:00Z")
	assert.Contains(t, header, "auto_safe")
	assert.Contains(t, header, "low-risk actions run unattended")
	assert.Contains(t, header, "sshd")
	assert.Contains(t, header, "nginx, postgresql")
	assert.Contains(t, header, "load per core")
}

func TestStructuralChanges(t *testing.T) {
	prev := config.DefaultConfig()
	next := config.DefaultConfig()
	assert.Empty(t, structuralChanges(prev, next))

	next.APIListen = "127.0.0.1:9000"
	next.SemanticURL = "http://other:8000"
	next.Database.Host = "replica"
	changed := structuralChanges(prev, next)
	assert.ElementsMatch(t, []string{"api_listen", "semantic_url", "database"}, changed)

	// Tunables are not structural.
	tuned := config.DefaultConfig()
	tuned.AutonomyLevel = config.AutonomyAutoFull
	tuned.ReviewIntervalS = 300
	assert.Empty(t, structuralChanges(prev, tuned))
}

// testOrchestrator builds the pieces of an Orchestrator that work
// without a database or LLM backend.
func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()

	w := window.New(window.Options{
		Budget:   cfg.ContextBudgetTokens,
		StateDir: cfg.StateDir,
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	queue, err := executor.NewQueue(cfg.StateDir)
	require.NoError(t, err)

	tracker := issues.NewTracker(context.Background(), issues.Options{
		Host:     "db-1",
		StateDir: cfg.StateDir,
	})

	exec := executor.New(executor.Options{
		Config: cfg,
		Queue:  queue,
		Runner: executor.NewRunner(cfg),
		Window: w,
		Issues: tracker,
	})

	o := &Orchestrator{
		cfg:       cfg,
		host:      "db-1",
		startedAt: time.Now().UTC(),
		logger:    slog.Default().With("component", "orchestrator"),
		window:    w,
		queue:     queue,
		issues:    tracker,
		exec:      exec,
		trigger:   trigger.NewLoop(trigger.Options{Config: cfg}),
		review:    reason.NewReview(reason.ReviewOptions{Config: cfg}),
		meta:      reason.NewMeta(reason.MetaOptions{Config: cfg}),
		chat:      reason.NewSessionManager(reason.SessionOptions{Config: cfg}),
		retention: retention.NewService(retention.Options{Config: cfg, Issues: tracker}),
	}
	require.NoError(t, o.window.SetHeader(context.Background(),
		renderHeader(cfg, o.host, o.startedAt)))
	return o
}

func TestStatus_ComposesComponentState(t *testing.T) {
	o := testOrchestrator(t)

	_, err := o.queue.Enqueue(models.ProposedAction{
		ID:          "act-1",
		Subject:     "nginx",
		Kind:        models.ActionServiceRestart,
		Description: "restart nginx",
		Risk:        models.RiskLow,
		Origin:      models.OriginReview,
	}, models.StatusPending)
	require.NoError(t, err)

	status := o.Status(context.Background())

	assert.Equal(t, "db-1", status.Host)
	assert.Equal(t, "suggest", status.Autonomy)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, 0, status.OpenIssues)
	assert.NotZero(t, status.StartedAt)
	assert.Contains(t, status.Version, "warden/")
	assert.Greater(t, status.WindowTokens, 0, "header tokens count toward the window")
}

func TestApplyConfig_SwapsTunablesAndRefreshesHeader(t *testing.T) {
	o := testOrchestrator(t)

	next := config.DefaultConfig()
	next.StateDir = o.config().StateDir
	next.AutonomyLevel = config.AutonomyAutoFull

	o.applyConfig(next)

	assert.Equal(t, "auto_full", o.Status(context.Background()).Autonomy)

	snap, err := o.window.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Header)
	assert.Contains(t, snap.Header.Body, "auto_full")
}

// chromaFake answers just enough of the store API for seeding.
type chromaFake struct {
	mu      sync.Mutex
	count   int
	upserts int
	docs    []string
}

func (f *chromaFake) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/collections", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "warden_knowledge"})
	})
	mux.HandleFunc("GET /api/v1/collections/col-1/count", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.count)
	})
	mux.HandleFunc("POST /api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Documents []string `json:"documents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.upserts++
		f.docs = append(f.docs, req.Documents...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})
	return mux
}

func TestSeedKnowledge_PopulatesEmptyCollection(t *testing.T) {
	fake := &chromaFake{}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	o := &Orchestrator{
		logger:   slog.Default(),
		semantic: semantic.NewStore(ts.URL),
	}
	o.seedKnowledge(context.Background())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, len(baselineKnowledge), fake.upserts)
	assert.True(t, strings.Contains(strings.Join(fake.docs, "\n"), "journalctl --vacuum-time"),
		"seeded docs carry the baseline text")
}

func TestSeedKnowledge_SkipsPopulatedCollection(t *testing.T) {
	fake := &chromaFake{count: 12}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	o := &Orchestrator{
		logger:   slog.Default(),
		semantic: semantic.NewStore(ts.URL),
	}
	o.seedKnowledge(context.Background())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Zero(t, fake.upserts)
}

func TestSeedKnowledge_NilStoreIsNoop(t *testing.T) {
	o := &Orchestrator{logger: slog.Default()}
	assert.NotPanics(t, func() { o.seedKnowledge(context.Background()) })
}

// stubCompleter fails every call; the escalation pump must survive it.
type stubCompleter struct {
	mu    sync.Mutex
	calls int
}

func (s *stubCompleter) Complete(context.Context, config.LLMTier, []models.Message) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return "", errors.New("backend gone")
}

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAssembler struct{}

func (stubAssembler) Assemble(context.Context, int) (string, error) { return "context", nil }

func TestConsumeEscalations_SurvivesAnalysisFailure(t *testing.T) {
	completer := &stubCompleter{}
	o := &Orchestrator{
		cfg:         config.DefaultConfig(),
		logger:      slog.Default(),
		escalations: make(chan reason.Escalation, escalationBuffer),
		meta: reason.NewMeta(reason.MetaOptions{
			Config:    config.DefaultConfig(),
			LLM:       completer,
			Assembler: stubAssembler{},
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.workers.Add(1)
	go o.consumeEscalations(ctx)

	o.escalations <- reason.Escalation{Reason: "disk filling"}
	o.escalations <- reason.Escalation{Reason: "still filling"}

	require.Eventually(t, func() bool { return completer.callCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	o.workers.Wait()
}
