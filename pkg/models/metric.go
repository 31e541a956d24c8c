package models

import "time"

// Well-known metric names emitted by the collector. Threshold checks and
// prompt tables refer to metrics by these names.
const (
	MetricCPUPct     = "cpu_pct"
	MetricMemPct     = "mem_pct"
	MetricDiskPct    = "disk_pct"
	MetricLoad1      = "load1"
	MetricLoadPerCPU = "load_per_cpu"

	// MetricServiceActive records the probed state of a critical service
	// as 1 (active) or 0, with the unit name in Tags["unit"].
	MetricServiceActive = "service_active"
)

// MetricSample is one host metric observation.
type MetricSample struct {
	Timestamp time.Time         `json:"timestamp"`
	Host      string            `json:"host"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricPoint is a (timestamp, value) pair returned by range queries.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricStats aggregates a metric over a query range.
type MetricStats struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Last  float64 `json:"last"`
}
