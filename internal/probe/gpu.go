package probe

import (
	"context"
	"strconv"
	"strings"
)

// Pessimistic fallbacks for unparsable nvidia-smi fields: a device we
// cannot read must never look idle.
const (
	fallbackMemoryUsedMB  = 10000
	fallbackMemoryTotalMB = 0
	fallbackUtilization   = 100
)

// GPUStat is one parsed device row from nvidia-smi.
type GPUStat struct {
	Name           string
	MemoryUsedMB   int
	MemoryTotalMB  int
	UtilizationPct int
}

// GPUProbe classifies local devices as idle or busy.
type GPUProbe struct {
	deviceClass  string
	idleMemoryMB int
	idleUtilPct  int
}

// NewGPUProbe creates a probe for devices whose name contains
// deviceClass (case-insensitive).
func NewGPUProbe(deviceClass string, idleMemoryMB, idleUtilPct int) *GPUProbe {
	return &GPUProbe{
		deviceClass:  deviceClass,
		idleMemoryMB: idleMemoryMB,
		idleUtilPct:  idleUtilPct,
	}
}

// Stats queries nvidia-smi and parses its CSV rows. Any failure
// returns nil, which downstream reads as "not idle".
func (p *GPUProbe) Stats(ctx context.Context) []GPUStat {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := runCommand(ctx, "nvidia-smi",
		"--query-gpu=name,memory.used,memory.total,utilization.gpu",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil
	}
	return ParseGPUStats(string(out))
}

// Idle reports whether at least one priority-class device is idle.
func (p *GPUProbe) Idle(ctx context.Context) bool {
	for _, stat := range p.Stats(ctx) {
		if !strings.Contains(strings.ToLower(stat.Name), strings.ToLower(p.deviceClass)) {
			continue
		}
		if p.IsIdle(stat) {
			return true
		}
	}
	return false
}

// IsIdle applies the idle rule to a single device: memory under the
// configured floor and under 10% of total, utilization at or below
// the threshold. A device without a readable memory total is busy.
func (p *GPUProbe) IsIdle(stat GPUStat) bool {
	if stat.MemoryTotalMB <= 0 {
		return false
	}
	if stat.MemoryUsedMB*10 >= stat.MemoryTotalMB {
		return false
	}
	return stat.MemoryUsedMB < p.idleMemoryMB && stat.UtilizationPct <= p.idleUtilPct
}

// ParseGPUStats parses comma-separated nvidia-smi rows. Rows with too
// few columns are skipped; unparsable fields get pessimistic
// fallbacks.
func ParseGPUStats(output string) []GPUStat {
	var stats []GPUStat
	for _, rawLine := range strings.Split(output, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}
		stats = append(stats, GPUStat{
			Name:           strings.TrimSpace(parts[0]),
			MemoryUsedMB:   parseSMIInt(parts[1], fallbackMemoryUsedMB),
			MemoryTotalMB:  parseSMIInt(parts[2], fallbackMemoryTotalMB),
			UtilizationPct: parseSMIInt(parts[3], fallbackUtilization),
		})
	}
	return stats
}

// parseSMIInt parses an nvidia-smi numeric field. Values like "N/A"
// or "[Not Supported]" take the fallback.
func parseSMIInt(raw string, fallback int) int {
	value, _, _ := strings.Cut(strings.TrimSpace(raw), " ")
	switch strings.ToLower(value) {
	case "n/a", "[not", "not":
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
