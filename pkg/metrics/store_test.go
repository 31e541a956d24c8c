package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/test/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return NewStore(client.DB())
}

func sampleAt(ts time.Time, name string, value float64) models.MetricSample {
	return models.MetricSample{
		Timestamp: ts,
		Host:      "web-01",
		Name:      name,
		Value:     value,
		Unit:      "percent",
	}
}

func TestStore_InsertAndQueryRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Minute)

	require.NoError(t, store.InsertSamples(ctx, []models.MetricSample{
		sampleAt(base.Add(-2*time.Minute), models.MetricCPUPct, 10),
		sampleAt(base.Add(-1*time.Minute), models.MetricCPUPct, 20),
		sampleAt(base, models.MetricCPUPct, 30),
	}))

	points, err := store.QueryRange(ctx, "web-01", models.MetricCPUPct, base.Add(-90*time.Second), base)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 20, points[0].Value, 1e-9)
	assert.InDelta(t, 30, points[1].Value, 1e-9)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp), "points must come back oldest first")
}

func TestStore_QueryRangeIgnoresOtherHosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	other := sampleAt(now, models.MetricCPUPct, 99)
	other.Host = "db-02"
	require.NoError(t, store.InsertSample(ctx, other))

	points, err := store.QueryRange(ctx, "web-01", models.MetricCPUPct, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestStore_AggregateBucketsAverages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Minute).Add(-5 * time.Minute)

	require.NoError(t, store.InsertSamples(ctx, []models.MetricSample{
		sampleAt(base, models.MetricCPUPct, 10),
		sampleAt(base.Add(10*time.Second), models.MetricCPUPct, 20),
		sampleAt(base.Add(20*time.Second), models.MetricCPUPct, 30),
		sampleAt(base.Add(60*time.Second), models.MetricCPUPct, 40),
		sampleAt(base.Add(70*time.Second), models.MetricCPUPct, 60),
	}))

	points, err := store.Aggregate(ctx, "web-01", models.MetricCPUPct, base, base.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, base.Unix(), points[0].Timestamp.Unix(), "bucket should land on the minute boundary")
	assert.InDelta(t, 20, points[0].Value, 1e-9)
	assert.InDelta(t, 50, points[1].Value, 1e-9)
}

func TestStore_StatsAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-3 * time.Minute)

	require.NoError(t, store.InsertSamples(ctx, []models.MetricSample{
		sampleAt(base, models.MetricMemPct, 10),
		sampleAt(base.Add(time.Minute), models.MetricMemPct, 30),
		sampleAt(base.Add(2*time.Minute), models.MetricMemPct, 20),
	}))

	stats, err := store.Stats(ctx, "web-01", models.MetricMemPct, base.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 10, stats.Min, 1e-9)
	assert.InDelta(t, 30, stats.Max, 1e-9)
	assert.InDelta(t, 20, stats.Avg, 1e-9)
	assert.InDelta(t, 20, stats.Last, 1e-9)

	missing, err := store.Stats(ctx, "web-01", models.MetricDiskPct, base)
	require.NoError(t, err)
	assert.Nil(t, missing, "no samples in range should yield nil stats")

	latest, err := store.Latest(ctx, "web-01")
	require.NoError(t, err)
	require.Contains(t, latest, models.MetricMemPct)
	assert.InDelta(t, 20, latest[models.MetricMemPct].Value, 1e-9)
}

func TestStore_EvictOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertSamples(ctx, []models.MetricSample{
		sampleAt(now.Add(-48*time.Hour), models.MetricCPUPct, 11),
		sampleAt(now.Add(-36*time.Hour), models.MetricCPUPct, 12),
		sampleAt(now, models.MetricCPUPct, 13),
	}))

	removed, err := store.EvictOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	points, err := store.QueryRange(ctx, "web-01", models.MetricCPUPct, now.Add(-72*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 13, points[0].Value, 1e-9)
}

func TestStore_RecentTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	at := now.Add(-2 * time.Minute)

	require.NoError(t, store.InsertSamples(ctx, []models.MetricSample{
		sampleAt(at, models.MetricCPUPct, 93.5),
		sampleAt(at, models.MetricLoad1, 0.42),
	}))

	table, err := store.RecentTable(ctx, "web-01", now)
	require.NoError(t, err)
	assert.Contains(t, table, "Recent system metrics")
	assert.Contains(t, table, "cpu%")
	assert.Contains(t, table, "93.5")
	assert.Contains(t, table, "0.42")
	// mem and disk have no readings in the bucket
	assert.Contains(t, table, "-")
}

func TestStore_RecentTableEmpty(t *testing.T) {
	store := newTestStore(t)

	table, err := store.RecentTable(context.Background(), "web-01", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, table)
}
