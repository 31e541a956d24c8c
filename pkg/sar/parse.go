package sar

import (
	"strconv"
	"strings"
	"time"
)

// row is one timestamped line of a sar table, keyed by the literal
// header tokens ("%user", "tps", "ldavg-1", ...).
type row struct {
	at   time.Time
	cols map[string]float64
}

// netRow additionally carries the interface a reading belongs to.
type netRow struct {
	row
	iface string
}

// parseTable extracts timestamped rows from sar's columnar output. The
// header line is located by any of the given column names; "Average:"
// summary lines and anything that does not start with a clock time are
// skipped. Row dates are resolved against now (sar prints times only),
// rolling back a day when the time would land in the future.
func parseTable(out string, now time.Time, anyCols ...string) []row {
	lines := strings.Split(out, "\n")

	headerIdx := -1
	var header []string
	for i, line := range lines {
		for _, col := range anyCols {
			if strings.Contains(line, col) {
				headerIdx = i
				header = strings.Fields(line)
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 || len(header) < 2 {
		return nil
	}

	var rows []row
	for _, line := range lines[headerIdx+1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "Average") {
			continue
		}
		at, ok := clockTime(fields[0], now)
		if !ok {
			continue
		}

		r := row{at: at, cols: make(map[string]float64, len(header)-1)}
		for i, name := range header[1:] {
			idx := i + 1
			if idx >= len(fields) {
				break
			}
			if v, err := strconv.ParseFloat(fields[idx], 64); err == nil {
				r.cols[name] = v
			}
		}
		rows = append(rows, r)
	}
	return rows
}

// parseNetworkTable handles `sar -n DEV`, whose rows repeat per interface.
func parseNetworkTable(out string, now time.Time) []netRow {
	lines := strings.Split(out, "\n")

	headerIdx := -1
	var header []string
	for i, line := range lines {
		if strings.Contains(line, "IFACE") {
			headerIdx = i
			header = strings.Fields(line)
			break
		}
	}
	if headerIdx < 0 || len(header) < 3 {
		return nil
	}

	var rows []netRow
	for _, line := range lines[headerIdx+1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 || strings.HasPrefix(fields[0], "Average") {
			continue
		}
		at, ok := clockTime(fields[0], now)
		if !ok {
			continue
		}

		r := netRow{
			row:   row{at: at, cols: make(map[string]float64, len(header)-2)},
			iface: fields[1],
		}
		for i, name := range header[2:] {
			idx := i + 2
			if idx >= len(fields) {
				break
			}
			if v, err := strconv.ParseFloat(fields[idx], 64); err == nil {
				r.cols[name] = v
			}
		}
		rows = append(rows, r)
	}
	return rows
}

// clockTime turns an HH:MM:SS token into a timestamp on now's date,
// shifting to yesterday when the result would be ahead of now.
func clockTime(token string, now time.Time) (time.Time, bool) {
	clock, err := time.Parse("15:04:05", token)
	if err != nil {
		return time.Time{}, false
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location())
	if at.After(now) {
		at = at.AddDate(0, 0, -1)
	}
	return at, true
}

// tailAvg averages a column over the last n rows that carry it.
func tailAvg(rows []row, col string, n int) float64 {
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	var sum float64
	var count int
	for _, r := range rows {
		if v, ok := r.cols[col]; ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// lastVal returns the newest reading of a column, or 0.
func lastVal(rows []row, col string) float64 {
	for i := len(rows) - 1; i >= 0; i-- {
		if v, ok := rows[i].cols[col]; ok {
			return v
		}
	}
	return 0
}
