package wal

import (
	"errors"
	"testing"
)

var errTest = errors.New("boom")

func TestGetStats_EmptyWAL(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	stats := w.GetStats()

	if stats.TotalFiles != 1 {
		t.Errorf("Expected 1 file, got %d", stats.TotalFiles)
	}
	if stats.LastSequence != 0 {
		t.Errorf("Expected sequence 0, got %d", stats.LastSequence)
	}
	if stats.SequenceCount != 0 {
		t.Errorf("Expected sequence count 0, got %d", stats.SequenceCount)
	}
}

func TestGetStats_WithEntries(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	for i := 0; i < 10; i++ {
		if err := w.Append(EntryIssued, "resource", nil); err != nil {
			t.Fatalf("Failed to append entry %d: %v", i, err)
		}
	}
	_ = w.AppendError(EntryFailed, "resource", nil, errTest)

	stats := w.GetStats()

	if stats.LastSequence != 11 {
		t.Errorf("Expected sequence 11, got %d", stats.LastSequence)
	}
	if stats.SequenceCount != 11 {
		t.Errorf("Expected sequence count 11, got %d", stats.SequenceCount)
	}
	if stats.TotalSizeBytes == 0 || stats.CurrentFileSize == 0 {
		t.Error("Expected non-zero sizes")
	}
	if stats.EntriesByType[EntryFailed] != 1 {
		t.Errorf("Expected 1 failed entry, got %d", stats.EntriesByType[EntryFailed])
	}
}

func TestGetStatsFromDir_MultipleRuns(t *testing.T) {
	dir := t.TempDir()

	for run := 0; run < 3; run++ {
		w, err := Open(dir)
		if err != nil {
			t.Fatalf("Failed to open WAL: %v", err)
		}
		_ = w.Append(EntryPlanned, "", nil)
		_ = w.Append(EntryCompleted, "", nil)
		_ = w.Close()
	}

	stats := GetStatsFromDir(dir, DefaultConfig())
	if stats.TotalFiles != 3 {
		t.Errorf("Expected 3 files, got %d", stats.TotalFiles)
	}
	if stats.FirstSequence != 1 || stats.LastSequence != 6 {
		t.Errorf("Sequence range = %d..%d, want 1..6", stats.FirstSequence, stats.LastSequence)
	}
	for name, n := range stats.WritesPerFile {
		if n != 2 {
			t.Errorf("%s: expected 2 writes, got %d", name, n)
		}
	}
}

func TestGetStatsFromDir_Missing(t *testing.T) {
	stats := GetStatsFromDir(t.TempDir(), DefaultConfig())
	if stats.TotalFiles != 0 || stats.SequenceCount != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}
