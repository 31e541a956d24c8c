// Package metrics samples host metrics and persists them to the
// time-series store backing threshold checks and prompt tables.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const insertSampleSQL = `
	INSERT INTO metric_samples (ts, host, name, value, unit, tags)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Store reads and writes metric samples in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an open database handle. The caller owns the handle's
// lifecycle; Store never closes it.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "metrics"),
	}
}

// InsertSample persists a single observation.
func (s *Store) InsertSample(ctx context.Context, sample models.MetricSample) error {
	tags, err := marshalTags(sample.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertSampleSQL,
		sample.Timestamp, sample.Host, sample.Name, sample.Value, sample.Unit, tags)
	if err != nil {
		return fmt.Errorf("insert sample %s: %w", sample.Name, err)
	}
	return nil
}

// InsertSamples persists a batch of observations in one transaction.
func (s *Store) InsertSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sample batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		tags, err := marshalTags(sample.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			sample.Timestamp, sample.Host, sample.Name, sample.Value, sample.Unit, tags); err != nil {
			return fmt.Errorf("insert sample %s: %w", sample.Name, err)
		}
	}
	return tx.Commit()
}

// QueryRange returns raw points for one metric between from and to,
// oldest first.
func (s *Store) QueryRange(ctx context.Context, host, name string, from, to time.Time) ([]models.MetricPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value FROM metric_samples
		WHERE host = $1 AND name = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`,
		host, name, from, to)
	if err != nil {
		return nil, fmt.Errorf("query range %s: %w", name, err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// Aggregate buckets one metric into fixed intervals and averages each
// bucket, oldest first.
func (s *Store) Aggregate(ctx context.Context, host, name string, from, to time.Time, bucket time.Duration) ([]models.MetricPoint, error) {
	secs := int64(bucket.Seconds())
	if secs < 1 {
		secs = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM ts) / $5) * $5) AS bucket,
		       avg(value)
		FROM metric_samples
		WHERE host = $1 AND name = $2 AND ts >= $3 AND ts <= $4
		GROUP BY bucket
		ORDER BY bucket ASC`,
		host, name, from, to, secs)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", name, err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// Latest returns the most recent sample per metric name for a host.
func (s *Store) Latest(ctx context.Context, host string) (map[string]models.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name) name, ts, value, unit
		FROM metric_samples
		WHERE host = $1
		ORDER BY name, ts DESC`,
		host)
	if err != nil {
		return nil, fmt.Errorf("query latest metrics: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]models.MetricSample)
	for rows.Next() {
		sample := models.MetricSample{Host: host}
		if err := rows.Scan(&sample.Name, &sample.Timestamp, &sample.Value, &sample.Unit); err != nil {
			return nil, fmt.Errorf("scan latest metric: %w", err)
		}
		latest[sample.Name] = sample
	}
	return latest, rows.Err()
}

// Stats summarizes one metric since from. Returns nil when no samples
// exist in the range.
func (s *Store) Stats(ctx context.Context, host, name string, from time.Time) (*models.MetricStats, error) {
	stats := models.MetricStats{Name: name}
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(min(value), 0), coalesce(max(value), 0), coalesce(avg(value), 0)
		FROM metric_samples
		WHERE host = $1 AND name = $2 AND ts >= $3`,
		host, name, from).Scan(&stats.Count, &stats.Min, &stats.Max, &stats.Avg)
	if err != nil {
		return nil, fmt.Errorf("metric stats %s: %w", name, err)
	}
	if stats.Count == 0 {
		return nil, nil
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM metric_samples
		WHERE host = $1 AND name = $2
		ORDER BY ts DESC LIMIT 1`,
		host, name).Scan(&stats.Last)
	if err != nil {
		return nil, fmt.Errorf("latest value %s: %w", name, err)
	}
	return &stats, nil
}

// EvictOlderThan deletes samples older than cutoff and reports how many
// rows went away.
func (s *Store) EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metric_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict samples: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("Evicted metric samples", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func scanPoints(rows *sql.Rows) ([]models.MetricPoint, error) {
	var points []models.MetricPoint
	for rows.Next() {
		var p models.MetricPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("scan metric point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func marshalTags(tags map[string]string) ([]byte, error) {
	if len(tags) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return b, nil
}
