// Package checkpoint picks the checkpoint the arbitration loop should
// resume from: the unfinished run with the most completed work.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmsafe/warden/internal/logger"
)

// Record is one candidate checkpoint on disk.
type Record struct {
	Path           string
	RunID          string
	CompletedCount int
	ModTime        time.Time
}

// checkpointFile tolerates both schema generations: an explicit
// completed_count, or a completed_sample_ids list whose length is the
// count. Writers emit both; older files carry only the list.
type checkpointFile struct {
	RunID              string   `json:"run_id"`
	CompletedCount     *int     `json:"completed_count"`
	CompletedSampleIDs []string `json:"completed_sample_ids"`
}

// Selector ranks checkpoints in a directory against result files.
type Selector struct {
	checkpointDir string
	resultsDir    string
	log           logger.Logger
}

// NewSelector creates a selector over checkpointDir, excluding runs
// that already have a result file in resultsDir.
func NewSelector(checkpointDir, resultsDir string, log logger.Logger) *Selector {
	return &Selector{checkpointDir: checkpointDir, resultsDir: resultsDir, log: log}
}

// Best returns the unfinished checkpoint with the highest completed
// count, ties broken by most recent mtime. Resuming a finished run
// would restart it from scratch and report a spurious zero-sample
// result, so any checkpoint with a matching result file is excluded.
// Returns nil when no resumable checkpoint exists; malformed files
// count as zero progress and never abort selection.
func (s *Selector) Best() *Record {
	matches, err := filepath.Glob(filepath.Join(s.checkpointDir, "checkpoint_*.json"))
	if err != nil || len(matches) == 0 {
		return nil
	}

	var best *Record
	for _, path := range matches {
		rec := s.load(path)
		if rec == nil {
			continue
		}
		if s.finished(rec.RunID) {
			s.log.Debug("Skipping finished run", logger.F("run_id", rec.RunID))
			continue
		}
		if best == nil ||
			rec.CompletedCount > best.CompletedCount ||
			(rec.CompletedCount == best.CompletedCount && rec.ModTime.After(best.ModTime)) {
			best = rec
		}
	}
	return best
}

func (s *Selector) load(path string) *Record {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	rec := &Record{
		Path:    path,
		RunID:   runIDFromFilename(path),
		ModTime: info.ModTime(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("Unreadable checkpoint treated as zero progress",
			logger.F("path", path), logger.F("error", err))
		return rec
	}

	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		s.log.Warn("Malformed checkpoint treated as zero progress",
			logger.F("path", path), logger.F("error", err))
		return rec
	}

	if cf.RunID != "" {
		rec.RunID = cf.RunID
	}
	if cf.CompletedCount != nil {
		rec.CompletedCount = *cf.CompletedCount
	} else {
		rec.CompletedCount = len(cf.CompletedSampleIDs)
	}
	return rec
}

// finished reports whether a result file for the run already exists.
func (s *Selector) finished(runID string) bool {
	if runID == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(s.resultsDir, runID+"_results.json"))
	return err == nil
}

// runIDFromFilename derives the run id embedded in
// checkpoint_<run_id>.json.
func runIDFromFilename(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".json")
	return strings.TrimPrefix(name, "checkpoint_")
}
