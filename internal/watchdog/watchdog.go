// Package watchdog monitors the priority training workload: it polls
// liveness and status telemetry each cycle and raises edge-triggered
// alerts on stall, crash, completion, and broken telemetry.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/notify"
	"github.com/mmsafe/warden/internal/telemetry"
	"github.com/mmsafe/warden/internal/tracker"
)

// Liveness reports whether the priority workload is running.
type Liveness interface {
	Active(ctx context.Context) bool
}

// State is the watchdog's explicit per-cycle state: the progress
// high-water mark plus one dedup flag per alert kind. Each flag is
// set on first emission and cleared when its condition clears, so an
// alert fires once per transition into the condition. The state lives
// only for the process lifetime; losing it on restart costs at most
// one duplicate alert, never a missed one.
type State struct {
	LastStep     int // monotonic high-water mark, -1 until first reading
	LastProgress time.Time

	StalledSent   bool
	CrashedSent   bool
	CompletedSent bool
	StaleSent     bool
}

// NewState returns the initial state. LastProgress starts at now so a
// freshly started watchdog grants a full stall window before alerting.
func NewState(now time.Time) State {
	return State{LastStep: -1, LastProgress: now}
}

// Monitor runs the watchdog cycle. Single-threaded; all state is
// owned by the loop goroutine.
type Monitor struct {
	cfg       func() *config.Config
	liveness  Liveness
	notifier  notify.Notifier
	heartbeat *tracker.Writer
	log       logger.Logger

	state       State
	startedAt   time.Time
	cycles      int
	lastAlert   string
	lastAlertAt time.Time
}

// NewMonitor creates a watchdog monitor. cfg is called every cycle so
// hot-reloaded thresholds take effect at the next tick.
func NewMonitor(cfg func() *config.Config, liveness Liveness, notifier notify.Notifier, heartbeat *tracker.Writer, log logger.Logger) *Monitor {
	now := time.Now()
	return &Monitor{
		cfg:       cfg,
		liveness:  liveness,
		notifier:  notifier,
		heartbeat: heartbeat,
		log:       log,
		state:     NewState(now),
		startedAt: now,
	}
}

// State returns a copy of the current watchdog state.
func (m *Monitor) State() State {
	return m.state
}

// Run executes the polling loop until the context is cancelled. The
// poll interval is re-read each cycle.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		m.Tick(ctx, time.Now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg().Watchdog.GetPollInterval()):
		}
	}
}

// Tick performs one watchdog cycle.
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	cfg := m.cfg()
	m.cycles++

	active := m.liveness.Active(ctx)
	reader := telemetry.NewReader(cfg.Telemetry.StatusFile, cfg.Telemetry.StatusGlob)
	snap := reader.Read(now, telemetry.Defaults{
		Step:        -1,
		TargetSteps: cfg.Training.TargetSteps,
		State:       "unknown",
	})
	artifacts := artifactsPresent(cfg.Training.FinalArtifacts)

	m.log.Debug("Watchdog cycle",
		logger.F("active", active),
		logger.F("step", snap.Step),
		logger.F("target_steps", snap.TargetSteps),
		logger.F("telemetry_age", snap.Age.Round(time.Second)),
		logger.F("artifacts", artifacts),
	)

	if active {
		m.tickActive(cfg, now, snap, artifacts)
	} else {
		m.tickInactive(snap, artifacts)
	}

	m.writeHeartbeat(now)
}

func (m *Monitor) tickActive(cfg *config.Config, now time.Time, snap telemetry.Snapshot, artifacts bool) {
	// The workload is running, so a past crash condition has cleared.
	m.state.CrashedSent = false

	// A large step regression while active is a legitimate
	// resume-from-earlier-checkpoint, not a stall or crash: reset the
	// baseline and say so once. The baseline reset makes the same
	// drop unrepeatable, so no dedup flag is needed.
	drop := cfg.Watchdog.StepDropThreshold
	if drop > 0 && m.state.LastStep >= 0 && snap.Step >= 0 && m.state.LastStep-snap.Step >= drop {
		m.send(notify.SeverityInfo, "resume",
			fmt.Sprintf("training resumed from an earlier checkpoint: step %d -> %d", m.state.LastStep, snap.Step))
		m.state.LastStep = snap.Step
		m.state.LastProgress = now
		m.state.StalledSent = false
		m.state.CompletedSent = false
	}

	if snap.Step > m.state.LastStep {
		m.state.LastStep = snap.Step
		m.state.LastProgress = now
		m.state.StalledSent = false
	}

	// Stale telemetry makes a true stall indistinguishable from a
	// broken status writer; warn once and suppress stall detection
	// until the file freshens.
	if snap.Missing || snap.Age >= cfg.Telemetry.GetStaleAfter() {
		if !m.state.StaleSent {
			m.state.StaleSent = true
			m.send(notify.SeverityWarn, "stale-telemetry",
				fmt.Sprintf("training telemetry is stale: %s not refreshed for %s",
					snap.SourcePath, snap.Age.Round(time.Second)))
		}
		return
	}
	m.state.StaleSent = false

	if (snap.TargetSteps > 0 && snap.Step >= snap.TargetSteps) || artifacts {
		if !m.state.CompletedSent {
			m.state.CompletedSent = true
			m.send(notify.SeverityInfo, "complete",
				fmt.Sprintf("training complete: step %d/%d", snap.Step, snap.TargetSteps))
		}
		return
	}
	m.state.CompletedSent = false

	if now.Sub(m.state.LastProgress) >= cfg.Watchdog.GetStallAfter() {
		if !m.state.StalledSent {
			m.state.StalledSent = true
			m.send(notify.SeverityWarn, "stalled",
				fmt.Sprintf("training stalled: no progress past step %d for %s",
					m.state.LastStep, now.Sub(m.state.LastProgress).Round(time.Second)))
		}
	} else {
		m.state.StalledSent = false
	}
}

func (m *Monitor) tickInactive(snap telemetry.Snapshot, artifacts bool) {
	// Stall and staleness only apply to a running workload; re-arm
	// them for the next active window.
	m.state.StalledSent = false
	m.state.StaleSent = false

	if artifacts {
		m.state.CrashedSent = false
		if !m.state.CompletedSent {
			m.state.CompletedSent = true
			m.send(notify.SeverityInfo, "ended",
				"training process ended and final artifacts are present")
		}
		return
	}

	m.state.CompletedSent = false
	if !m.state.CrashedSent {
		m.state.CrashedSent = true
		m.send(notify.SeverityCritical, "crashed",
			fmt.Sprintf("training process is not running and no final artifacts were found (last step %d)",
				m.state.LastStep))
	}
}

func (m *Monitor) send(sev notify.Severity, kind, msg string) {
	m.lastAlert = kind
	m.lastAlertAt = time.Now()
	m.log.Info("Alert", logger.F("kind", kind), logger.F("severity", sev), logger.F("message", msg))
	m.notifier.Send(sev, msg)
}

func (m *Monitor) writeHeartbeat(now time.Time) {
	if m.heartbeat == nil {
		return
	}
	err := m.heartbeat.Write(tracker.Heartbeat{
		Loop:        "watchdog",
		PID:         os.Getpid(),
		StartedAt:   m.startedAt,
		UpdatedAt:   now,
		Cycles:      m.cycles,
		Status:      "running",
		LastAlert:   m.lastAlert,
		LastAlertAt: m.lastAlertAt,
	})
	if err != nil {
		m.log.Warn("Failed to write heartbeat", logger.F("error", err))
	}
}

// artifactsPresent reports whether any final-output glob matches an
// existing file.
func artifactsPresent(globs []string) bool {
	for _, g := range globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			continue
		}
		for _, mth := range matches {
			if _, err := os.Stat(mth); err == nil {
				return true
			}
		}
	}
	return false
}
