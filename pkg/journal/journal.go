// Package journal reads the systemd journal incrementally through
// journalctl's JSON output, tracking a cursor so each tick sees only
// new lines. Messages are scrubbed of secret-looking spans before
// anything downstream sees them.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/redact"
)

const (
	readTimeout     = 10 * time.Second
	firstRunWindow  = "5 minutes ago"
	defaultMaxLines = 100
	cursorFile      = "journal.cursor"

	// journald lines can run long; give the scanner room.
	maxLineBytes = 1 << 20
)

// Entry is one journal record in the fields warden cares about.
type Entry struct {
	Cursor    string
	Timestamp time.Time
	Message   string
	Unit      string
	Hostname  string
	Priority  int
}

// Reader shells out to journalctl and remembers the last-seen cursor in
// the state directory, so restarts do not replay old lines.
type Reader struct {
	cursorPath string
	cursor     string
	maxLines   int
	redactor   *redact.Redactor
	logger     *slog.Logger

	// run is swapped by tests to feed fixture output.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewReader creates a reader persisting its cursor under stateDir.
func NewReader(stateDir string) *Reader {
	r := &Reader{
		cursorPath: filepath.Join(stateDir, cursorFile),
		maxLines:   defaultMaxLines,
		redactor:   redact.NewRedactor(),
		logger:     slog.Default().With("component", "journal"),
	}
	r.run = runJournalctl
	r.cursor = r.loadCursor()
	return r
}

// Delta returns journal entries since the previous call, oldest first.
// The first call on a fresh state dir looks back five minutes. A failed
// read returns nil so the caller's tick proceeds with empty log input.
func (r *Reader) Delta(ctx context.Context) []Entry {
	args := []string{"-n", strconv.Itoa(r.maxLines), "--output=json", "--no-pager"}
	if r.cursor != "" {
		args = append(args, "--after-cursor", r.cursor)
	} else {
		args = append(args, "--since", firstRunWindow)
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	out, err := r.run(readCtx, args...)
	if err != nil {
		r.logger.Warn("Journal read failed", "error", err)
		return nil
	}

	entries := parseEntries(out)
	for i := range entries {
		entries[i].Message = r.redactor.Scrub(entries[i].Message)
	}
	if len(entries) > 0 {
		r.cursor = entries[len(entries)-1].Cursor
		r.saveCursor()
	}
	return entries
}

// Cursor exposes the current position, mainly for status reporting.
func (r *Reader) Cursor() string {
	return r.cursor
}

func (r *Reader) loadCursor() string {
	b, err := os.ReadFile(r.cursorPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (r *Reader) saveCursor() {
	if err := os.WriteFile(r.cursorPath, []byte(r.cursor), 0o600); err != nil {
		r.logger.Warn("Failed to persist journal cursor", "error", err)
	}
}

func runJournalctl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "journalctl", args...).Output()
}

// wireEntry mirrors journalctl's JSON field names. MESSAGE is raw because
// journald emits non-UTF8 payloads as byte arrays; those decode to "".
type wireEntry struct {
	Cursor     string          `json:"__CURSOR"`
	RealtimeUS string          `json:"__REALTIME_TIMESTAMP"`
	Message    json.RawMessage `json:"MESSAGE"`
	Priority   string          `json:"PRIORITY"`
	Unit       string          `json:"_SYSTEMD_UNIT"`
	Syslog     string          `json:"SYSLOG_IDENTIFIER"`
	Hostname   string          `json:"_HOSTNAME"`
}

func parseEntries(out []byte) []Entry {
	var entries []Entry

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var w wireEntry
		if err := json.Unmarshal(line, &w); err != nil {
			continue
		}

		entry := Entry{
			Cursor:   w.Cursor,
			Hostname: w.Hostname,
			Priority: parsePriority(w.Priority),
			Unit:     w.Unit,
		}
		if entry.Unit == "" {
			entry.Unit = w.Syslog
		}
		if len(w.Message) > 0 {
			var msg string
			if err := json.Unmarshal(w.Message, &msg); err == nil {
				entry.Message = msg
			}
		}
		if us, err := strconv.ParseInt(w.RealtimeUS, 10, 64); err == nil {
			entry.Timestamp = time.UnixMicro(us).UTC()
		}

		entries = append(entries, entry)
	}
	return entries
}

func parsePriority(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 7 {
		// journald omits PRIORITY on some records; treat as info.
		return 6
	}
	return p
}
