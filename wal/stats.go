package wal

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Stats summarizes the journal files in a directory
type Stats struct {
	TotalFiles      int               `json:"total_files"`
	TotalSizeBytes  int64             `json:"total_size_bytes"`
	OldestFile      time.Time         `json:"oldest_file"`
	NewestFile      time.Time         `json:"newest_file"`
	CurrentFileSize int64             `json:"current_file_size,omitempty"`
	FirstSequence   int64             `json:"first_sequence"`
	LastSequence    int64             `json:"last_sequence"`
	SequenceCount   int64             `json:"sequence_count"`
	WritesPerFile   map[string]int    `json:"writes_per_file,omitempty"`
	EntriesByType   map[EntryType]int `json:"entries_by_type,omitempty"`
}

// GetStats returns current WAL statistics
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := GetStatsFromDir(w.dir, w.config)
	stats.CurrentFileSize = w.size
	if w.sequence > stats.LastSequence {
		stats.LastSequence = w.sequence
	}
	return stats
}

// GetStatsFromDir returns statistics for a WAL directory (no active WAL needed)
func GetStatsFromDir(dir string, config Config) Stats {
	stats := Stats{}

	files := findAllWALFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return stats
	}

	var span fileSpan
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			span.add(info)
		}
	}
	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = span.bytes
	stats.OldestFile, stats.NewestFile = span.oldest, span.newest
	stats.WritesPerFile = make(map[string]int, len(files))
	stats.EntriesByType = make(map[EntryType]int)

	for _, file := range files {
		first, last, count := scanFile(file, stats.EntriesByType)
		stats.WritesPerFile[filepath.Base(file)] = count
		if count == 0 {
			continue
		}
		if stats.FirstSequence == 0 || first < stats.FirstSequence {
			stats.FirstSequence = first
		}
		if last > stats.LastSequence {
			stats.LastSequence = last
		}
	}
	if stats.LastSequence > 0 {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	}

	return stats
}

// scanFile reads one journal file, skipping corrupted lines
func scanFile(path string, byType map[EntryType]int) (first, last int64, count int) {
	reader, err := NewReader(path)
	if err != nil {
		return 0, 0, 0
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, ErrCorrupt) {
			continue
		}
		if err != nil {
			break
		}
		count++
		byType[entry.Type]++
		if first == 0 || entry.Sequence < first {
			first = entry.Sequence
		}
		if entry.Sequence > last {
			last = entry.Sequence
		}
	}
	return first, last, count
}

// findLastSequenceInFiles finds highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	maxSeq := int64(0)
	for _, file := range files {
		_, last, _ := scanFile(file, map[EntryType]int{})
		if last > maxSeq {
			maxSeq = last
		}
	}
	return maxSeq
}
