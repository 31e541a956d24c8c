package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/models"
)

func stubSampler() *Sampler {
	s := NewSampler("test-host")
	s.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return []float64{42.5}, nil
	}
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 61.2}, nil
	}
	s.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{UsedPercent: 73.9}, nil
	}
	s.loadAvg = func(context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 2.0}, nil
	}
	s.numCPU = func() int { return 4 }
	return s
}

func byName(samples []models.MetricSample) map[string]models.MetricSample {
	m := make(map[string]models.MetricSample, len(samples))
	for _, sample := range samples {
		m[sample.Name] = sample
	}
	return m
}

func TestSampler_AllProbes(t *testing.T) {
	samples := stubSampler().Sample(context.Background())
	require.Len(t, samples, 5)

	got := byName(samples)
	assert.InDelta(t, 42.5, got[models.MetricCPUPct].Value, 1e-9)
	assert.InDelta(t, 61.2, got[models.MetricMemPct].Value, 1e-9)
	assert.InDelta(t, 73.9, got[models.MetricDiskPct].Value, 1e-9)
	assert.InDelta(t, 2.0, got[models.MetricLoad1].Value, 1e-9)
	assert.InDelta(t, 0.5, got[models.MetricLoadPerCPU].Value, 1e-9)

	for _, sample := range samples {
		assert.Equal(t, "test-host", sample.Host)
		assert.False(t, sample.Timestamp.IsZero())
	}
}

func TestSampler_ProbeFailureSkipsMetric(t *testing.T) {
	s := stubSampler()
	s.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return nil, errors.New("proc not mounted")
	}

	samples := s.Sample(context.Background())
	require.Len(t, samples, 4)

	_, ok := byName(samples)[models.MetricCPUPct]
	assert.False(t, ok, "failed probe must not produce a sample")
}

func TestSampler_EmptyCPUReadingSkipped(t *testing.T) {
	s := stubSampler()
	s.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return []float64{}, nil
	}

	samples := s.Sample(context.Background())
	_, ok := byName(samples)[models.MetricCPUPct]
	assert.False(t, ok)
}

func TestSampler_AllProbesFailing(t *testing.T) {
	s := stubSampler()
	probeErr := errors.New("unavailable")
	s.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return nil, probeErr }
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, probeErr }
	s.diskUsage = func(context.Context, string) (*disk.UsageStat, error) { return nil, probeErr }
	s.loadAvg = func(context.Context) (*load.AvgStat, error) { return nil, probeErr }

	assert.Empty(t, s.Sample(context.Background()))
}

func TestSampler_CoresFloor(t *testing.T) {
	s := stubSampler()
	s.numCPU = func() int { return 0 }
	assert.Equal(t, 1, s.Cores())

	s.numCPU = func() int { return 8 }
	assert.Equal(t, 8, s.Cores())
}
