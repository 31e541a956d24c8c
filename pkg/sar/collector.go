// Package sar collects system activity reports by shelling out to the
// sysstat sar tool and parsing its tables into an ActivityReport.
package sar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const (
	execTimeout = 10 * time.Second

	// recentRows bounds the tail window averaged for rate metrics.
	recentRows = 10

	// sar -b reports 512-byte blocks.
	blockKB = 0.5
)

// Collector shells out to sar. The exec and lookup hooks are fields so
// tests can feed canned output.
type Collector struct {
	logger *slog.Logger

	run      func(ctx context.Context, args ...string) ([]byte, error)
	lookPath func(file string) (string, error)
	now      func() time.Time
}

// NewCollector builds a collector backed by the real sar binary.
func NewCollector() *Collector {
	return &Collector{
		logger:   slog.Default().With("component", "sar"),
		run:      runSar,
		lookPath: exec.LookPath,
		now:      time.Now,
	}
}

// Available reports whether the sar binary is installed.
func (c *Collector) Available() bool {
	_, err := c.lookPath("sar")
	return err == nil
}

// Collect runs the sar report set starting at since and assembles an
// ActivityReport. Missing sysstat, or output with no parseable section,
// yields Available=false; individual section failures leave zeroes.
func (c *Collector) Collect(ctx context.Context, since time.Time) models.ActivityReport {
	now := c.now().UTC()
	report := models.ActivityReport{CollectedAt: now}
	if !c.Available() {
		return report
	}

	start := since.UTC().Format("15:04:05")

	cpuRows := c.table(ctx, now, []string{"-u", "-s", start}, "%user", "%idle")
	memRows := c.table(ctx, now, []string{"-r", "-s", start}, "%memused", "kbmemused")
	ioRows := c.table(ctx, now, []string{"-b", "-s", start}, "tps", "bread/s")
	loadRows := c.table(ctx, now, []string{"-q", "-s", start}, "ldavg-1", "runq-sz")
	netRows := c.networkTable(ctx, now, []string{"-n", "DEV", "-s", start})

	if len(cpuRows)+len(memRows)+len(ioRows)+len(loadRows)+len(netRows) == 0 {
		return report
	}
	report.Available = true

	var b strings.Builder
	fmt.Fprintf(&b, "System Activity Report (since %s UTC):\n", start)

	if len(cpuRows) > 0 {
		user := tailAvg(cpuRows, "%user", recentRows)
		system := tailAvg(cpuRows, "%system", recentRows)
		iowait := tailAvg(cpuRows, "%iowait", recentRows)
		idle := tailAvg(cpuRows, "%idle", recentRows)
		report.CPUPct = 100 - idle
		if report.CPUPct < 0 {
			report.CPUPct = 0
		}
		b.WriteString("\nCPU Usage (recent average):\n")
		fmt.Fprintf(&b, "  User: %.1f%%\n", user)
		fmt.Fprintf(&b, "  System: %.1f%%\n", system)
		fmt.Fprintf(&b, "  I/O Wait: %.1f%%\n", iowait)
		fmt.Fprintf(&b, "  Idle: %.1f%%\n", idle)
	}

	if len(loadRows) > 0 {
		b.WriteString("\nLoad Average (current):\n")
		fmt.Fprintf(&b, "  1-min: %.2f\n", lastVal(loadRows, "ldavg-1"))
		fmt.Fprintf(&b, "  5-min: %.2f\n", lastVal(loadRows, "ldavg-5"))
		fmt.Fprintf(&b, "  15-min: %.2f\n", lastVal(loadRows, "ldavg-15"))
	}

	if len(memRows) > 0 {
		report.MemPct = lastVal(memRows, "%memused")
		fmt.Fprintf(&b, "\nMemory Usage: %.1f%%\n", report.MemPct)
	}

	if len(ioRows) > 0 {
		report.IO = models.IOStats{
			TPS:      tailAvg(ioRows, "tps", recentRows),
			ReadKBs:  tailAvg(ioRows, "bread/s", recentRows) * blockKB,
			WriteKBs: tailAvg(ioRows, "bwrtn/s", recentRows) * blockKB,
		}
		b.WriteString("\nDisk I/O (recent average):\n")
		fmt.Fprintf(&b, "  Transactions/s: %.1f\n", report.IO.TPS)
		fmt.Fprintf(&b, "  Read: %.1f kB/s\n", report.IO.ReadKBs)
		fmt.Fprintf(&b, "  Write: %.1f kB/s\n", report.IO.WriteKBs)
	}

	if len(netRows) > 0 {
		report.Net = sumLatestThroughput(netRows)
		b.WriteString("\nNetwork (current):\n")
		fmt.Fprintf(&b, "  Rx: %.1f kB/s\n", report.Net.RxKBs)
		fmt.Fprintf(&b, "  Tx: %.1f kB/s\n", report.Net.TxKBs)
	}

	report.Rendered = strings.TrimRight(b.String(), "\n")
	return report
}

func (c *Collector) table(ctx context.Context, now time.Time, args []string, anyCols ...string) []row {
	out, err := c.exec(ctx, args)
	if err != nil {
		c.logger.Debug("sar section failed", "args", strings.Join(args, " "), "error", err)
		return nil
	}
	return parseTable(string(out), now, anyCols...)
}

func (c *Collector) networkTable(ctx context.Context, now time.Time, args []string) []netRow {
	out, err := c.exec(ctx, args)
	if err != nil {
		c.logger.Debug("sar section failed", "args", strings.Join(args, " "), "error", err)
		return nil
	}
	return parseNetworkTable(string(out), now)
}

func (c *Collector) exec(ctx context.Context, args []string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	return c.run(execCtx, args...)
}

// sumLatestThroughput adds rx/tx across interfaces at the newest
// timestamp, ignoring loopback.
func sumLatestThroughput(rows []netRow) models.NetStats {
	var latest time.Time
	for _, r := range rows {
		if r.at.After(latest) {
			latest = r.at
		}
	}

	var net models.NetStats
	for _, r := range rows {
		if r.iface == "lo" || !r.at.Equal(latest) {
			continue
		}
		net.RxKBs += r.cols["rxkB/s"]
		net.TxKBs += r.cols["txkB/s"]
	}
	return net
}

func runSar(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sar", args...)
	// Force 24-hour timestamps so parsing is locale independent.
	cmd.Env = append(os.Environ(), "S_TIME_FORMAT=ISO", "LC_ALL=C")
	return cmd.Output()
}
