// Package results reads the result files the secondary workload
// writes and formats the one-line success summary for notifications.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RunResult is the subset of a result file warden consumes.
type RunResult struct {
	RunID   string `json:"run_id"`
	Summary struct {
		Overall struct {
			TotalSamples      int     `json:"total_samples"`
			AttackSuccessRate float64 `json:"attack_success_rate"`
			RefusalRate       float64 `json:"refusal_rate"`
		} `json:"overall"`
	} `json:"summary"`
	Metadata struct {
		UnavailableProviders []string `json:"unavailable_providers"`
	} `json:"metadata"`
}

// Load parses a single result file.
func Load(path string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	var r RunResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse result file %s: %w", path, err)
	}
	return &r, nil
}

// Newest returns the most recently modified *_results.json in dir, or
// "" when none exists.
func Newest(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*_results.json"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	sort.Slice(matches, func(i, j int) bool {
		return modTimeOf(matches[i]).After(modTimeOf(matches[j]))
	})
	return matches[0]
}

// SummaryLine formats the single-line run summary sent on success.
func (r *RunResult) SummaryLine() string {
	overall := r.Summary.Overall
	line := fmt.Sprintf("run %s: %d samples, ASR %.2f%%, refusal %.2f%%",
		r.RunID, overall.TotalSamples,
		overall.AttackSuccessRate*100, overall.RefusalRate*100)

	if len(r.Metadata.UnavailableProviders) > 0 {
		providers := append([]string(nil), r.Metadata.UnavailableProviders...)
		sort.Strings(providers)
		line += ", unavailable providers: " + strings.Join(providers, ", ")
	}
	return line
}

func modTimeOf(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
