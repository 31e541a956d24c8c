package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/models"
)

type fakeSampler struct {
	samples []models.MetricSample
}

func (f *fakeSampler) Sample(context.Context) []models.MetricSample {
	return f.samples
}

type fakeJournal struct {
	mu    sync.Mutex
	lines []journal.Entry
}

// Delta returns the staged lines once, like a real cursor would.
func (f *fakeJournal) Delta(context.Context) []journal.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.lines
	f.lines = nil
	return lines
}

type fakeAdmitter struct {
	mu      sync.Mutex
	entries []models.ContextEntry
	err     error
}

func (f *fakeAdmitter) Append(_ context.Context, entry models.ContextEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAdmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeIssues struct {
	mu       sync.Mutex
	recorded []models.TriggerEvent
	resolved []string
}

func (f *fakeIssues) Record(_ context.Context, event models.TriggerEvent) (*models.Issue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, event)
	return nil, true
}

func (f *fakeIssues) AutoResolve(_ context.Context, subject, _ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, subject)
	return 1
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(context.Context, config.LLMTier, []models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		f.calls++
		return "", f.err
	}
	reply := "ignore"
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return reply, nil
}

type fakeDiscovery struct {
	mu    sync.Mutex
	hosts []string
}

func (f *fakeDiscovery) ObserveHost(_ context.Context, hostname string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, hostname)
}

type loopFixture struct {
	loop      *Loop
	cfg       *config.Config
	sampler   *fakeSampler
	journal   *fakeJournal
	window    *fakeAdmitter
	issues    *fakeIssues
	llm       *fakeCompleter
	discovery *fakeDiscovery
}

func newFixture(t *testing.T) *loopFixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Hostname = "web1"
	cfg.CriticalServices = nil
	disabled := false
	cfg.UseTriggerModel = &disabled

	f := &loopFixture{
		cfg:       cfg,
		sampler:   &fakeSampler{},
		journal:   &fakeJournal{},
		window:    &fakeAdmitter{},
		issues:    &fakeIssues{},
		llm:       &fakeCompleter{},
		discovery: &fakeDiscovery{},
	}
	f.loop = NewLoop(Options{
		Config:    cfg,
		Sampler:   f.sampler,
		Journal:   f.journal,
		LLM:       f.llm,
		Window:    f.window,
		Issues:    f.issues,
		Discovery: f.discovery,
	})
	return f
}

func TestTick_ThresholdBreachAdmitted(t *testing.T) {
	f := newFixture(t)
	f.sampler.samples = []models.MetricSample{sample(models.MetricCPUPct, 97.3)}

	f.loop.Tick(context.Background())

	require.Equal(t, 1, f.window.count())
	entry := f.window.entries[0]
	assert.Equal(t, models.EntryTriggerEvent, entry.Kind)
	assert.Contains(t, entry.Body, "[warning] cpu: cpu_pct 97.3 above threshold 90.0")
	require.Len(t, f.issues.recorded, 1)
	assert.Equal(t, models.KindMetricThreshold, f.issues.recorded[0].Kind)

	stats := f.loop.Stats()
	assert.Equal(t, uint64(1), stats.Ticks)
	assert.Equal(t, uint64(1), stats.EventsAdmitted)
}

func TestTick_ExactThresholdStaysQuiet(t *testing.T) {
	f := newFixture(t)
	f.sampler.samples = []models.MetricSample{
		sample(models.MetricCPUPct, 90.0),
		sample(models.MetricDiskPct, 85.0),
	}

	f.loop.Tick(context.Background())

	assert.Equal(t, 0, f.window.count())
	assert.Equal(t, uint64(0), f.loop.Stats().EventsAdmitted)
}

func TestTick_DebounceWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.loop.now = func() time.Time { return now }
	f.sampler.samples = []models.MetricSample{sample(models.MetricCPUPct, 97.3)}

	f.loop.Tick(context.Background())
	f.loop.Tick(context.Background())

	assert.Equal(t, 1, f.window.count())
	stats := f.loop.Stats()
	assert.Equal(t, uint64(1), stats.EventsAdmitted)
	assert.Equal(t, uint64(1), stats.EventsDebounced)

	// Past the debounce window the same fingerprint is admitted again.
	now = now.Add(f.cfg.DebounceWindow() + time.Second)
	f.loop.Tick(context.Background())
	assert.Equal(t, 2, f.window.count())
}

func TestTick_SeverityEscalationBypassesDebounce(t *testing.T) {
	f := newFixture(t)
	f.cfg.CriticalServices = []string{"nginx"}
	state := "inactive"
	f.loop.probe = func(context.Context, string) (string, error) {
		return state, nil
	}

	f.loop.Tick(context.Background())
	require.Equal(t, 1, f.window.count())

	// Same subject at higher severity fingerprints into a different
	// bucket, so the escalation is not swallowed by the debounce map.
	state = "failed"
	f.loop.Tick(context.Background())
	require.Equal(t, 2, f.window.count())
	assert.Contains(t, f.window.entries[1].Body, "[critical]")
	assert.Equal(t, uint64(0), f.loop.Stats().EventsDebounced)
}

func TestTick_PatternScanAdmitsAndTracks(t *testing.T) {
	f := newFixture(t)
	f.journal.lines = []journal.Entry{
		journalLine("Failed to start nginx.service - A high performance web server.", "init.scope"),
		journalLine("Started Session 42 of user root.", "init.scope"),
	}

	f.loop.Tick(context.Background())

	require.Equal(t, 1, f.window.count())
	assert.Contains(t, f.window.entries[0].Body, "[warning] nginx:")
	require.Len(t, f.issues.recorded, 1)
	assert.Equal(t, "nginx", f.issues.recorded[0].Subject)

	stats := f.loop.Stats()
	assert.Equal(t, uint64(1), stats.PatternsMatched)
	assert.Equal(t, uint64(1), stats.EventsAdmitted)
}

func TestTick_ServiceProbeStates(t *testing.T) {
	f := newFixture(t)
	f.cfg.CriticalServices = []string{"nginx", "postgresql", "redis"}
	states := map[string]string{"nginx": "failed", "postgresql": "inactive", "redis": "active"}
	f.loop.probe = func(_ context.Context, unit string) (string, error) {
		return states[unit], nil
	}

	f.loop.Tick(context.Background())

	require.Equal(t, 2, f.window.count())
	assert.Contains(t, f.window.entries[0].Body, "[critical] nginx: service nginx is failed")
	assert.Contains(t, f.window.entries[1].Body, "[warning] postgresql: service postgresql is inactive")
	assert.Equal(t, []string{"redis"}, f.issues.resolved)
}

func TestTick_ProbeErrorSkipsUnit(t *testing.T) {
	f := newFixture(t)
	f.cfg.CriticalServices = []string{"nginx"}
	f.loop.probe = func(context.Context, string) (string, error) {
		return "", errors.New("dbus not available")
	}

	f.loop.Tick(context.Background())

	assert.Equal(t, 0, f.window.count())
	assert.Equal(t, uint64(1), f.loop.Stats().Ticks)
}

func TestTick_ClassifierUpgradesLine(t *testing.T) {
	f := newFixture(t)
	enabled := true
	f.cfg.UseTriggerModel = &enabled
	f.llm.replies = []string{"critical"}
	line := journalLine("disk controller reset occurred", "kernel")
	line.Priority = 3
	f.journal.lines = []journal.Entry{line}

	f.loop.Tick(context.Background())

	require.Equal(t, 1, f.window.count())
	assert.Contains(t, f.window.entries[0].Body, "[critical] kernel: disk controller reset occurred")
	require.Len(t, f.issues.recorded, 1)
	assert.Equal(t, models.KindClassifier, f.issues.recorded[0].Kind)
	assert.Equal(t, uint64(1), f.loop.Stats().ClassifierCalls)
}

func TestTick_ClassifierIgnoreVerdictDropsLine(t *testing.T) {
	f := newFixture(t)
	enabled := true
	f.cfg.UseTriggerModel = &enabled
	f.llm.replies = []string{"noise"}
	line := journalLine("some chatty warning", "app.service")
	line.Priority = 4
	f.journal.lines = []journal.Entry{line}

	f.loop.Tick(context.Background())

	assert.Equal(t, 0, f.window.count())
	assert.Equal(t, uint64(1), f.loop.Stats().ClassifierCalls)
}

func TestTick_ClassifierErrorDegradesToRules(t *testing.T) {
	f := newFixture(t)
	enabled := true
	f.cfg.UseTriggerModel = &enabled
	f.llm.err = errors.New("timeout")
	line := journalLine("unexplained warning", "app.service")
	line.Priority = 4
	f.journal.lines = []journal.Entry{line}

	f.loop.Tick(context.Background())

	assert.Equal(t, 0, f.window.count())
	assert.Equal(t, uint64(1), f.loop.Stats().ClassifierCalls)
}

func TestTick_ClassifierLineCap(t *testing.T) {
	f := newFixture(t)
	enabled := true
	f.cfg.UseTriggerModel = &enabled
	f.cfg.ClassifierMaxLines = 2
	for i := 0; i < 5; i++ {
		line := journalLine("odd warning", "app.service")
		line.Priority = 4
		f.journal.lines = append(f.journal.lines, line)
	}

	f.loop.Tick(context.Background())

	assert.Equal(t, uint64(2), f.loop.Stats().ClassifierCalls)
}

func TestTick_ClassifierSkipsInfoLines(t *testing.T) {
	f := newFixture(t)
	enabled := true
	f.cfg.UseTriggerModel = &enabled
	line := journalLine("routine informational message", "app.service")
	line.Priority = 6
	f.journal.lines = []journal.Entry{line}

	f.loop.Tick(context.Background())

	assert.Equal(t, uint64(0), f.loop.Stats().ClassifierCalls)
}

func TestTick_ObservesForeignHosts(t *testing.T) {
	f := newFixture(t)
	local := journalLine("local chatter", "app.service")
	local.Hostname = "web1"
	foreign := journalLine("remote chatter", "app.service")
	foreign.Hostname = "db1"
	again := journalLine("more remote chatter", "app.service")
	again.Hostname = "db1"
	f.journal.lines = []journal.Entry{local, foreign, again}

	f.loop.Tick(context.Background())

	assert.Equal(t, []string{"db1"}, f.discovery.hosts)
}

func TestTick_WindowErrorDoesNotStopIssueRecording(t *testing.T) {
	f := newFixture(t)
	f.window.err = errors.New("window closed")
	f.sampler.samples = []models.MetricSample{sample(models.MetricCPUPct, 99)}

	f.loop.Tick(context.Background())

	require.Len(t, f.issues.recorded, 1)
	assert.Equal(t, uint64(1), f.loop.Stats().EventsAdmitted)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.cfg.TriggerIntervalS = 3600
	f.sampler.samples = []models.MetricSample{sample(models.MetricCPUPct, 99)}

	require.NoError(t, f.loop.Start(context.Background()))
	// The first tick fires immediately on start.
	deadline := time.After(2 * time.Second)
	for f.window.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick observed after start")
		case <-time.After(10 * time.Millisecond):
		}
	}
	f.loop.Stop()

	assert.GreaterOrEqual(t, f.loop.Stats().Ticks, uint64(1))
}

func TestUpdateConfig_SwapsThresholds(t *testing.T) {
	f := newFixture(t)
	f.sampler.samples = []models.MetricSample{sample(models.MetricCPUPct, 80)}

	f.loop.Tick(context.Background())
	assert.Equal(t, 0, f.window.count())

	next := config.DefaultConfig()
	next.Hostname = "web1"
	next.CriticalServices = nil
	disabled := false
	next.UseTriggerModel = &disabled
	next.Thresholds.CPUPct = 75
	f.loop.UpdateConfig(next)

	f.loop.Tick(context.Background())
	assert.Equal(t, 1, f.window.count())
}
