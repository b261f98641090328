// Package telemetry reads the training status file the priority
// workload refreshes while it runs. Reads never fail: a missing file
// or key degrades to caller-supplied defaults so both loops keep
// polling through broken telemetry.
package telemetry

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one parsed read of the status file. Ephemeral; re-read
// each poll.
type Snapshot struct {
	Step        int
	TargetSteps int
	Device      string
	State       string

	SourcePath string
	ObservedAt time.Time
	Age        time.Duration
	Missing    bool
}

// Defaults supplies the values used for a missing file or key.
type Defaults struct {
	Step        int
	TargetSteps int
	Device      string
	State       string
}

// Reader resolves and parses the status file.
type Reader struct {
	preferred string
	glob      string
}

// NewReader creates a reader for the preferred status path plus an
// optional glob of candidate files.
func NewReader(preferred, glob string) *Reader {
	return &Reader{preferred: preferred, glob: glob}
}

// Resolve picks the snapshot source: the preferred path when its
// mtime is at least as fresh as the best glob candidate, otherwise
// the freshest candidate. When nothing exists the preferred path is
// returned so the read degrades to defaults instead of failing.
func (r *Reader) Resolve() string {
	preferredMtime, preferredOK := mtime(r.preferred)

	best := ""
	var bestMtime time.Time
	if r.glob != "" {
		matches, err := filepath.Glob(r.glob)
		if err == nil {
			for _, m := range matches {
				mt, ok := mtime(m)
				if !ok {
					continue
				}
				if best == "" || mt.After(bestMtime) {
					best, bestMtime = m, mt
				}
			}
		}
	}

	switch {
	case preferredOK && (best == "" || !preferredMtime.Before(bestMtime)):
		return r.preferred
	case best != "":
		return best
	default:
		return r.preferred
	}
}

// Read resolves the source and parses it into a snapshot.
func (r *Reader) Read(now time.Time, defaults Defaults) Snapshot {
	source := r.Resolve()

	snap := Snapshot{
		Step:        defaults.Step,
		TargetSteps: defaults.TargetSteps,
		Device:      defaults.Device,
		State:       defaults.State,
		SourcePath:  source,
		Missing:     true,
	}

	info, err := os.Stat(source)
	if err != nil {
		return snap
	}
	snap.Missing = false
	snap.ObservedAt = info.ModTime()
	snap.Age = now.Sub(info.ModTime())

	data, err := os.ReadFile(source)
	if err != nil {
		return snap
	}

	fields := parseKeyValues(string(data))
	snap.Step = intField(fields, "step", defaults.Step)
	snap.TargetSteps = intField(fields, "target_steps", defaults.TargetSteps)
	if v, ok := fields["device"]; ok {
		snap.Device = v
	}
	if v, ok := fields["state"]; ok {
		snap.State = v
	}
	return snap
}

// parseKeyValues parses line-oriented key=value text. The last
// occurrence of a key wins; lines without '=' are skipped.
func parseKeyValues(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}

func intField(fields map[string]string, key string, fallback int) int {
	raw, ok := fields[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func mtime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
