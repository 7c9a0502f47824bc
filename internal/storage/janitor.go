package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Janitor prunes old playback blobs from the local data directory.
// Handles release their blobs when sessions turn over; the janitor
// catches whatever a crash or unclean shutdown left behind.
type Janitor struct {
	dataDir   string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewJanitor creates a janitor that deletes blobs older than retention.
func NewJanitor(dataDir string, retention time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		dataDir:   dataDir,
		retention: retention,
		interval:  1 * time.Hour,
		log:       log.With().Str("component", "janitor").Logger(),
		stop:      make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.loop()
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *Janitor) loop() {
	// Run once on startup to clear any backlog from downtime
	j.prune()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.prune()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) prune() {
	if j.retention <= 0 {
		return
	}

	cutoff := time.Now().Add(-j.retention)
	var prunedCount int
	var prunedBytes int64

	filepath.WalkDir(j.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		// Reports are kept; only playback blobs age out.
		if rel, relErr := filepath.Rel(j.dataDir, path); relErr == nil {
			if strings.HasPrefix(filepath.ToSlash(rel), "reports/") {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				prunedCount++
				prunedBytes += info.Size()
			}
		}
		return nil
	})

	j.removeEmptyDirs()

	if prunedCount > 0 {
		j.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("blob prune complete")
	}
}

// removeEmptyDirs clears out empty {origin}/{date} directories left
// after pruning.
func (j *Janitor) removeEmptyDirs() {
	entries, _ := os.ReadDir(j.dataDir)
	for _, originDir := range entries {
		if !originDir.IsDir() || originDir.Name() == "reports" {
			continue
		}
		originPath := filepath.Join(j.dataDir, originDir.Name())
		dateDirs, _ := os.ReadDir(originPath)
		for _, dateDir := range dateDirs {
			if !dateDir.IsDir() {
				continue
			}
			datePath := filepath.Join(originPath, dateDir.Name())
			remaining, _ := os.ReadDir(datePath)
			if len(remaining) == 0 {
				os.Remove(datePath)
			}
		}
		remaining, _ := os.ReadDir(originPath)
		if len(remaining) == 0 {
			os.Remove(originPath)
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
