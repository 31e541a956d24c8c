package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/wardenlabs/warden/pkg/models"
)

// rootMount is the filesystem whose usage feeds the disk threshold.
const rootMount = "/"

// Sampler reads host utilization through gopsutil. The probe functions
// are fields so tests can substitute fixed readings.
type Sampler struct {
	host   string
	logger *slog.Logger

	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	loadAvg       func(ctx context.Context) (*load.AvgStat, error)
	numCPU        func() int
}

// NewSampler builds a sampler stamping samples with the given host name.
func NewSampler(host string) *Sampler {
	return &Sampler{
		host:          host,
		logger:        slog.Default().With("component", "metrics"),
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
		loadAvg:       load.AvgWithContext,
		numCPU:        runtime.NumCPU,
	}
}

// Cores returns the CPU count used to scale the load threshold.
func (s *Sampler) Cores() int {
	if n := s.numCPU(); n > 0 {
		return n
	}
	return 1
}

// Sample gathers one observation of each host metric. Probe failures are
// logged and skipped so a bad reading never stalls the tick; the returned
// slice holds whatever succeeded.
func (s *Sampler) Sample(ctx context.Context) []models.MetricSample {
	now := time.Now().UTC()
	samples := make([]models.MetricSample, 0, 5)

	// interval 0 compares against the previous call instead of blocking.
	if pcts, err := s.cpuPercent(ctx, 0, false); err != nil {
		s.logger.Warn("CPU sample failed", "error", err)
	} else if len(pcts) > 0 {
		samples = append(samples, s.observe(now, models.MetricCPUPct, pcts[0], "percent"))
	}

	if vm, err := s.virtualMemory(ctx); err != nil {
		s.logger.Warn("Memory sample failed", "error", err)
	} else {
		samples = append(samples, s.observe(now, models.MetricMemPct, vm.UsedPercent, "percent"))
	}

	if usage, err := s.diskUsage(ctx, rootMount); err != nil {
		s.logger.Warn("Disk sample failed", "mount", rootMount, "error", err)
	} else {
		samples = append(samples, s.observe(now, models.MetricDiskPct, usage.UsedPercent, "percent"))
	}

	if avg, err := s.loadAvg(ctx); err != nil {
		s.logger.Warn("Load sample failed", "error", err)
	} else {
		samples = append(samples, s.observe(now, models.MetricLoad1, avg.Load1, ""))
		samples = append(samples, s.observe(now, models.MetricLoadPerCPU, avg.Load1/float64(s.Cores()), ""))
	}

	return samples
}

func (s *Sampler) observe(ts time.Time, name string, value float64, unit string) models.MetricSample {
	return models.MetricSample{
		Timestamp: ts,
		Host:      s.host,
		Name:      name,
		Value:     value,
		Unit:      unit,
	}
}
