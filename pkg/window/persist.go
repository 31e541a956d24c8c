package window

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const snapshotFile = "context_window.json"

func snapshotPath(stateDir string) string {
	return filepath.Join(stateDir, snapshotFile)
}

// snapshotDoc is the on-disk snapshot format. The header rides first in
// Entries so the document shape stays a flat entry list.
type snapshotDoc struct {
	Entries    []models.ContextEntry `json:"entries"`
	TokenCount int                   `json:"token_count"`
	Stats      Stats                 `json:"stats"`
	SavedAt    time.Time             `json:"saved_at"`
}

// persist writes the snapshot document atomically: the document lands in
// a temp file first and replaces the previous snapshot with a rename.
// Runs on the actor goroutine.
func (w *Window) persist() error {
	doc := snapshotDoc{
		Entries:    make([]models.ContextEntry, 0, len(w.entries)+1),
		TokenCount: w.total,
		Stats:      w.statsNow(),
		SavedAt:    w.now(),
	}
	if w.header != nil {
		doc.Entries = append(doc.Entries, *w.header)
	}
	doc.Entries = append(doc.Entries, w.entries...)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := w.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, w.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads the persisted snapshot under stateDir without a
// running window. The CLI uses it to inspect daemon state while the
// daemon is down. The second return is when the snapshot was written.
func ReadSnapshot(stateDir string) (Snapshot, time.Time, error) {
	data, err := os.ReadFile(snapshotPath(stateDir))
	if err != nil {
		return Snapshot{}, time.Time{}, fmt.Errorf("read snapshot: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, time.Time{}, fmt.Errorf("decode snapshot: %w", err)
	}

	var snap Snapshot
	for _, entry := range doc.Entries {
		if entry.Kind == models.EntrySystemHeader && snap.Header == nil {
			header := entry
			snap.Header = &header
			continue
		}
		snap.Entries = append(snap.Entries, entry)
	}
	snap.Stats = doc.Stats
	return snap, doc.SavedAt, nil
}

// restore loads the previous snapshot. Called once from Start, before
// the actor goroutine exists. A missing file is a clean first start.
func (w *Window) restore() error {
	data, err := os.ReadFile(w.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	w.header = nil
	w.entries = w.entries[:0]
	for _, entry := range doc.Entries {
		if entry.Kind == models.EntrySystemHeader && w.header == nil {
			header := entry
			w.header = &header
			continue
		}
		w.entries = append(w.entries, entry)
	}
	w.stats = doc.Stats
	w.recount()
	return nil
}
