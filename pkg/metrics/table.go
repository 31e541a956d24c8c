package metrics

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const (
	recentWindow     = 15 * time.Minute
	recentResolution = time.Minute
)

var tableMetrics = []string{
	models.MetricCPUPct,
	models.MetricMemPct,
	models.MetricDiskPct,
	models.MetricLoad1,
}

// RecentTable renders the last fifteen minutes of host metrics at
// one-minute resolution for prompt assembly. Buckets with no reading for
// a column show "-". Returns "" when the range holds no samples at all.
func (s *Store) RecentTable(ctx context.Context, host string, now time.Time) (string, error) {
	from := now.Add(-recentWindow)

	series := make(map[string]map[int64]float64, len(tableMetrics))
	buckets := make(map[int64]struct{})
	for _, name := range tableMetrics {
		points, err := s.Aggregate(ctx, host, name, from, now, recentResolution)
		if err != nil {
			return "", err
		}
		column := make(map[int64]float64, len(points))
		for _, p := range points {
			key := p.Timestamp.Unix()
			column[key] = p.Value
			buckets[key] = struct{}{}
		}
		series[name] = column
	}
	if len(buckets) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Recent system metrics (15m, 1m buckets):\n")
	b.WriteString("time   cpu%  mem%  disk%  load1\n")
	for _, key := range slices.Sorted(maps.Keys(buckets)) {
		ts := time.Unix(key, 0).UTC()
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			ts.Format("15:04"),
			cell(series[models.MetricCPUPct], key, "%.1f"),
			cell(series[models.MetricMemPct], key, "%.1f"),
			cell(series[models.MetricDiskPct], key, "%.1f"),
			cell(series[models.MetricLoad1], key, "%.2f"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func cell(column map[int64]float64, key int64, format string) string {
	v, ok := column[key]
	if !ok {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
