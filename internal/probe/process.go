// Package probe answers two questions from local tools: is the
// priority workload running (pgrep), and is a priority-class GPU idle
// (nvidia-smi).
//
// The two probes deliberately fail in opposite directions: a missing
// process-listing tool reads as "not active" (fail-open toward
// scheduling) while a missing or broken device query reads as "not
// idle" (fail-closed, never schedule against unknown device state).
package probe

import (
	"context"
	"strings"
	"time"
)

const probeTimeout = 4 * time.Second

// ProcessProbe detects whether the priority workload is running.
type ProcessProbe struct {
	pattern string
	require string
}

// NewProcessProbe creates a probe matching command lines against
// pattern, with an optional stricter secondary substring. The second
// match guards against unrelated processes that merely reference the
// same path (an editor, a tail, a shell history grep).
func NewProcessProbe(pattern, require string) *ProcessProbe {
	return &ProcessProbe{pattern: pattern, require: require}
}

// Active reports whether a matching process is currently running.
// Absence of pgrep is treated as not active.
func (p *ProcessProbe) Active(ctx context.Context) bool {
	if _, err := lookPath("pgrep"); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// pgrep exits nonzero when nothing matches.
	out, err := runCommand(ctx, "pgrep", "-af", p.pattern)
	if err != nil {
		return false
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, p.pattern) {
			continue
		}
		if p.require == "" || strings.Contains(line, p.require) {
			return true
		}
	}
	return false
}
