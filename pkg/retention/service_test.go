package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/config"
)

type fakeEvicter struct {
	mu      sync.Mutex
	cutoffs []time.Time
	evicted int64
	err     error
}

func (f *fakeEvicter) EvictOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.evicted, f.err
}

func (f *fakeEvicter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func (f *fakeEvicter) lastCutoff() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cutoffs[len(f.cutoffs)-1]
}

type fakeTrimmer struct {
	mu       sync.Mutex
	horizons []time.Duration
	closed   int
}

func (f *fakeTrimmer) TrimResolved(_ context.Context, olderThan time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.horizons = append(f.horizons, olderThan)
	return f.closed
}

func (f *fakeTrimmer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.horizons)
}

func (f *fakeTrimmer) lastHorizon() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.horizons[len(f.horizons)-1]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Hostname = "web1"
	return cfg
}

func TestRunAllEvictsAndTrims(t *testing.T) {
	evicter := &fakeEvicter{evicted: 42}
	trimmer := &fakeTrimmer{closed: 2}
	svc := NewService(Options{Config: testConfig(), Metrics: evicter, Issues: trimmer})

	fixed := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.runAll(context.Background())

	require.Equal(t, 1, evicter.calls())
	assert.Equal(t, fixed.Add(-testConfig().MetricsRetention()), evicter.lastCutoff())
	require.Equal(t, 1, trimmer.calls())
	assert.Equal(t, testConfig().MetricsRetention(), trimmer.lastHorizon())
}

func TestRunAllIsolatesFailures(t *testing.T) {
	evicter := &fakeEvicter{err: errors.New("connection reset")}
	trimmer := &fakeTrimmer{}
	svc := NewService(Options{Config: testConfig(), Metrics: evicter, Issues: trimmer})

	svc.runAll(context.Background())

	assert.Equal(t, 1, evicter.calls())
	assert.Equal(t, 1, trimmer.calls(), "issue trim runs even when eviction fails")
}

func TestRunAllSkipsAbsentStores(t *testing.T) {
	trimmer := &fakeTrimmer{}
	svc := NewService(Options{Config: testConfig(), Issues: trimmer})

	svc.runAll(context.Background())

	assert.Equal(t, 1, trimmer.calls())
}

func TestStartRunsImmediatePass(t *testing.T) {
	evicter := &fakeEvicter{}
	trimmer := &fakeTrimmer{}
	svc := NewService(Options{Config: testConfig(), Metrics: evicter, Issues: trimmer})

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return evicter.calls() >= 1 && trimmer.calls() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	svc := NewService(Options{Config: testConfig(), Issues: &fakeTrimmer{}})

	svc.Stop() // never started

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
	svc.Stop()
}

func TestUpdateConfigMovesHorizon(t *testing.T) {
	evicter := &fakeEvicter{}
	svc := NewService(Options{Config: testConfig(), Metrics: evicter})

	fixed := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.runAll(context.Background())

	next := testConfig()
	next.MetricsRetentionDays = 7
	svc.UpdateConfig(next)
	svc.runAll(context.Background())

	require.Equal(t, 2, evicter.calls())
	assert.Equal(t, fixed.Add(-7*24*time.Hour), evicter.lastCutoff())
}
