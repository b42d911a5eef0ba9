package wal

import (
	"fmt"
	"os"
	"time"
)

// PruneStats reports what a retention pass removed
type PruneStats struct {
	FilesRemoved  int       `json:"files_removed"`
	BytesFreed    int64     `json:"bytes_freed"`
	OldestRemoved time.Time `json:"oldest_removed"`
	NewestRemoved time.Time `json:"newest_removed"`
}

// Prune removes the journal files of dir whose last entry was written before
// the retention period. Zero retention removes every file.
func Prune(dir string, config Config) (PruneStats, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}
	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)

	var span fileSpan
	for _, path := range findAllWALFiles(dir, config.FilePrefix) {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return span.pruneStats(), fmt.Errorf("failed to remove %s: %w", path, err)
		}
		span.add(info)
	}
	return span.pruneStats(), nil
}

// fileSpan accumulates the size and modification range of journal files
type fileSpan struct {
	count  int
	bytes  int64
	oldest time.Time
	newest time.Time
}

func (s *fileSpan) add(info os.FileInfo) {
	mod := info.ModTime()
	if s.count == 0 || mod.Before(s.oldest) {
		s.oldest = mod
	}
	if s.count == 0 || mod.After(s.newest) {
		s.newest = mod
	}
	s.count++
	s.bytes += info.Size()
}

func (s *fileSpan) pruneStats() PruneStats {
	return PruneStats{
		FilesRemoved:  s.count,
		BytesFreed:    s.bytes,
		OldestRemoved: s.oldest,
		NewestRemoved: s.newest,
	}
}
