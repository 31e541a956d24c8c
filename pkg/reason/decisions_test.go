package reason

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/models"
)

func TestDecisionLog_AppendAndTail(t *testing.T) {
	log := NewDecisionLog(t.TempDir())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	log.Append(models.DecisionRecord{
		At:         at,
		Origin:     models.OriginReview,
		Tier:       "review",
		Model:      "qwen2.5:14b",
		Status:     models.HealthAttentionNeeded,
		Assessment: "disk filling on /var",
		ActionIDs:  []string{"act-1"},
		Escalated:  true,
		DurationMs: 1200,
	})
	log.Append(models.DecisionRecord{
		At:     at.Add(time.Minute),
		Origin: models.OriginMeta,
		Tier:   "meta",
		Error:  "backend timeout",
	})

	records, err := log.Tail(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "disk filling on /var", records[0].Assessment)
	assert.True(t, records[0].Escalated)
	assert.True(t, records[0].At.Equal(at))
	assert.Equal(t, "backend timeout", records[1].Error)
}

func TestDecisionLog_TailReturnsNewestN(t *testing.T) {
	log := NewDecisionLog(t.TempDir())
	for i := 0; i < 5; i++ {
		log.Append(models.DecisionRecord{Tier: "review", Assessment: fmt.Sprintf("cycle %d", i)})
	}

	records, err := log.Tail(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "cycle 3", records[0].Assessment)
	assert.Equal(t, "cycle 4", records[1].Assessment)
}

func TestDecisionLog_MissingFileIsEmptyHistory(t *testing.T) {
	log := NewDecisionLog(t.TempDir())
	records, err := log.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecisionLog_SkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	log := NewDecisionLog(dir)
	log.Append(models.DecisionRecord{Tier: "review", Assessment: "good line"})

	f, err := os.OpenFile(filepath.Join(dir, decisionsFile), os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{half a record\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	log.Append(models.DecisionRecord{Tier: "meta", Assessment: "after the tear"})

	records, err := log.Tail(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "good line", records[0].Assessment)
	assert.Equal(t, "after the tear", records[1].Assessment)
}

func TestDecisionLog_NilReceiverIsSafe(t *testing.T) {
	var log *DecisionLog
	assert.NotPanics(t, func() {
		log.Append(models.DecisionRecord{Tier: "review"})
	})
}
