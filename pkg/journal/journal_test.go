package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalLine(cursor, message string) string {
	return fmt.Sprintf(`{"__CURSOR":"%s","__REALTIME_TIMESTAMP":"1756150000000000","MESSAGE":"%s","PRIORITY":"3","_SYSTEMD_UNIT":"nginx.service","_HOSTNAME":"web-01"}`,
		cursor, message)
}

func TestReader_FirstCallUsesLookback(t *testing.T) {
	r := NewReader(t.TempDir())

	var gotArgs []string
	r.run = func(_ context.Context, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(journalLine("c1", "connection refused")), nil
	}

	entries := r.Delta(context.Background())
	require.Len(t, entries, 1)
	assert.Contains(t, gotArgs, "--since")
	assert.NotContains(t, gotArgs, "--after-cursor")

	e := entries[0]
	assert.Equal(t, "connection refused", e.Message)
	assert.Equal(t, "nginx.service", e.Unit)
	assert.Equal(t, "web-01", e.Hostname)
	assert.Equal(t, 3, e.Priority)
	assert.Equal(t, time.UnixMicro(1756150000000000).UTC(), e.Timestamp)
}

func TestReader_SecondCallUsesCursor(t *testing.T) {
	r := NewReader(t.TempDir())

	r.run = func(_ context.Context, _ ...string) ([]byte, error) {
		return []byte(journalLine("c1", "first") + "\n" + journalLine("c2", "second")), nil
	}
	require.Len(t, r.Delta(context.Background()), 2)
	assert.Equal(t, "c2", r.Cursor())

	var gotArgs []string
	r.run = func(_ context.Context, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, nil
	}
	r.Delta(context.Background())
	assert.Contains(t, gotArgs, "--after-cursor")
	assert.Contains(t, gotArgs, "c2")
	assert.NotContains(t, gotArgs, "--since")
}

func TestReader_CursorSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	r := NewReader(dir)
	r.run = func(_ context.Context, _ ...string) ([]byte, error) {
		return []byte(journalLine("persisted-cursor", "oom-killer invoked")), nil
	}
	r.Delta(context.Background())

	fresh := NewReader(dir)
	assert.Equal(t, "persisted-cursor", fresh.Cursor())
}

func TestReader_ScrubsSecrets(t *testing.T) {
	r := NewReader(t.TempDir())
	r.run = func(_ context.Context, _ ...string) ([]byte, error) {
		return []byte(journalLine("c1", "pam: password=hunter2secret rejected for root")), nil
	}

	entries := r.Delta(context.Background())
	require.Len(t, entries, 1)
	assert.Equal(t, "pam: password=__MASKED_PASSWORD__ rejected for root", entries[0].Message)
}

func TestReader_FailedReadReturnsNothing(t *testing.T) {
	r := NewReader(t.TempDir())
	r.cursor = "keep-me"
	r.run = func(_ context.Context, _ ...string) ([]byte, error) {
		return nil, errors.New("journalctl: not found")
	}

	assert.Nil(t, r.Delta(context.Background()))
	assert.Equal(t, "keep-me", r.Cursor(), "cursor must not move on a failed read")
}

func TestParseEntries_SkipsMalformedLines(t *testing.T) {
	out := []byte(journalLine("c1", "ok") + "\nnot json at all\n\n" + journalLine("c2", "also ok"))

	entries := parseEntries(out)
	require.Len(t, entries, 2)
	assert.Equal(t, "ok", entries[0].Message)
	assert.Equal(t, "also ok", entries[1].Message)
}

func TestParseEntries_BinaryMessageAndFallbacks(t *testing.T) {
	out := []byte(`{"__CURSOR":"c1","MESSAGE":[104,105],"SYSLOG_IDENTIFIER":"sshd","PRIORITY":"bogus"}`)

	entries := parseEntries(out)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Empty(t, e.Message, "byte-array payloads are not text")
	assert.Equal(t, "sshd", e.Unit, "SYSLOG_IDENTIFIER backs a missing _SYSTEMD_UNIT")
	assert.Equal(t, 6, e.Priority)
	assert.True(t, e.Timestamp.IsZero())
}
