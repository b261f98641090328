// Package arbiter schedules the secondary evaluation workload onto
// the accelerator whenever the priority training workload leaves it
// idle, resuming from the most-complete unfinished checkpoint.
//
// The arbiter and the watchdog are separate processes that never talk
// to each other; both poll trainer liveness independently and may
// momentarily disagree for up to one poll interval. That race window
// is accepted: the worst case is one launch attempt that the next
// gate check catches, not a corrupted run.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mmsafe/warden/internal/checkpoint"
	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/notify"
	"github.com/mmsafe/warden/internal/resilience"
	"github.com/mmsafe/warden/internal/results"
	"github.com/mmsafe/warden/internal/tracker"
)

// Liveness reports whether the priority workload is running.
type Liveness interface {
	Active(ctx context.Context) bool
}

// Device reports whether a priority-class accelerator is idle.
type Device interface {
	Idle(ctx context.Context) bool
}

// executeCommand runs the workload binary with combined output
// appended to logPath. Swappable in tests.
var executeCommand = func(ctx context.Context, logPath, bin string, args []string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open launch log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	return cmd.Run()
}

// Arbiter owns the scheduling loop state. Single-threaded; the
// synchronous launch occupies the loop until the run finishes, so at
// most one launch is ever in flight per host.
type Arbiter struct {
	cfg       func() *config.Config
	liveness  Liveness
	device    Device
	notifier  notify.Notifier
	heartbeat *tracker.Writer
	log       logger.Logger

	// launchedThisCycle is true once a run succeeded in the current
	// idle window; it resets only on the next inactive-to-active
	// transition of the priority workload.
	launchedThisCycle bool
	prevActive        bool

	breaker         *resilience.CircuitBreaker
	breakerNotified bool

	startedAt   time.Time
	cycles      int
	lastAlert   string
	lastAlertAt time.Time
}

// New creates an arbiter. cfg is called every cycle so hot-reloaded
// settings apply at the next tick.
func New(cfg func() *config.Config, liveness Liveness, device Device, notifier notify.Notifier, heartbeat *tracker.Writer, log logger.Logger) *Arbiter {
	c := cfg()
	return &Arbiter{
		cfg:       cfg,
		liveness:  liveness,
		device:    device,
		notifier:  notifier,
		heartbeat: heartbeat,
		log:       log,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Threshold:  c.Arbiter.Breaker.Threshold,
			ResetAfter: c.Arbiter.Breaker.GetResetAfter(),
		}),
		startedAt: time.Now(),
	}
}

// LaunchedThisCycle reports whether the current idle window has
// already had its run.
func (a *Arbiter) LaunchedThisCycle() bool {
	return a.launchedThisCycle
}

// Run executes the arbitration loop until the context is cancelled.
func (a *Arbiter) Run(ctx context.Context) error {
	for {
		wait := a.Tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tick performs one arbitration cycle and returns how long to wait
// before the next one: the retry interval after a failed launch, the
// poll interval otherwise.
func (a *Arbiter) Tick(ctx context.Context) time.Duration {
	cfg := a.cfg()
	a.cycles++
	poll := cfg.Arbiter.GetPollInterval()

	active := a.liveness.Active(ctx)
	if active && !a.prevActive {
		// New activity bounds the previous idle window; the next
		// idle window may launch again.
		a.launchedThisCycle = false
	}
	a.prevActive = active

	if active {
		a.writeHeartbeat("waiting", "priority workload active")
		return poll
	}

	if a.launchedThisCycle {
		// Device may stay idle long after a successful run; one
		// launch per idle window prevents relaunch storms.
		a.writeHeartbeat("waiting", "already launched this idle window")
		return poll
	}

	if !a.device.Idle(ctx) {
		a.writeHeartbeat("waiting", "device not idle")
		return poll
	}

	if !a.breaker.Allow() {
		a.log.Warn("Launch paused by failure breaker",
			logger.F("failures", a.breaker.Failures()))
		a.writeHeartbeat("cooldown", "launch failure breaker open")
		return poll
	}

	return a.launch(ctx, cfg)
}

func (a *Arbiter) launch(ctx context.Context, cfg *config.Config) time.Duration {
	selector := checkpoint.NewSelector(cfg.Arbiter.CheckpointDir, cfg.Arbiter.ResultsDir, a.log)
	ckpt := selector.Best()

	args := []string{"run", "--config", cfg.Arbiter.Launch.Config}
	if ckpt != nil {
		args = append(args, "--resume", ckpt.Path)
		a.log.Info("Resuming from checkpoint",
			logger.F("run_id", ckpt.RunID),
			logger.F("completed", ckpt.CompletedCount))
	}
	if cfg.Arbiter.Launch.ExecutionProfile != "" {
		args = append(args, "--execution-profile", cfg.Arbiter.Launch.ExecutionProfile)
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		a.log.Error("Failed to create log dir", logger.F("error", err))
		return cfg.Arbiter.GetRetryInterval()
	}
	logPath := filepath.Join(cfg.LogDir,
		fmt.Sprintf("eval_run_%s.log", time.Now().Format("20060102_150405")))

	a.log.Info("Launching eval run",
		logger.F("bin", cfg.Arbiter.Launch.Bin),
		logger.F("log", logPath))
	a.writeHeartbeat("launching", logPath)

	err := executeCommand(ctx, logPath, cfg.Arbiter.Launch.Bin, args)
	if err != nil {
		a.breaker.RecordFailure()
		a.notifyLaunchFailure(err, logPath)
		// Shorter backoff: transient failures retry quickly while the
		// gates above still recheck at their own cadence.
		return cfg.Arbiter.GetRetryInterval()
	}

	a.launchedThisCycle = true
	a.breaker.RecordSuccess()
	a.breakerNotified = false
	a.notifySuccess(cfg)
	a.generateReport(ctx, cfg)
	a.writeHeartbeat("waiting", "run complete")
	return cfg.Arbiter.GetPollInterval()
}

func (a *Arbiter) notifySuccess(cfg *config.Config) {
	msg := "eval run finished"
	if newest := results.Newest(cfg.Arbiter.ResultsDir); newest != "" {
		if r, err := results.Load(newest); err != nil {
			a.log.Warn("Could not read newest result file",
				logger.F("path", newest), logger.F("error", err))
		} else {
			msg = "eval run finished: " + r.SummaryLine()
		}
	}
	a.send(notify.SeverityInfo, "run-succeeded", msg)
}

func (a *Arbiter) notifyLaunchFailure(err error, logPath string) {
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	a.send(notify.SeverityCritical, "run-failed",
		fmt.Sprintf("eval run failed with exit code %d, log: %s", exitCode, logPath))

	if !a.breaker.Allow() && !a.breakerNotified {
		a.breakerNotified = true
		a.send(notify.SeverityWarn, "breaker-open",
			fmt.Sprintf("eval launches paused after %d consecutive failures", a.breaker.Failures()))
	}
}

// generateReport renders a report from the newest result file.
// Best-effort: failures degrade to a warning, never fail the run.
func (a *Arbiter) generateReport(ctx context.Context, cfg *config.Config) {
	if !cfg.Arbiter.Report.ReportEnabled() {
		return
	}
	newest := results.Newest(cfg.Arbiter.ResultsDir)
	if newest == "" {
		a.log.Warn("No result file found, skipping report generation")
		return
	}

	format := cfg.Arbiter.Report.Format
	if format == "" {
		format = "html"
	}
	logPath := filepath.Join(cfg.LogDir,
		fmt.Sprintf("report_%s.log", time.Now().Format("20060102_150405")))

	retryCfg := resilience.RetryConfig{
		MaxRetries: 1,
		InitDelay:  2 * time.Second,
		MaxDelay:   2 * time.Second,
		Multiplier: 1.0,
	}
	err := resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
		return executeCommand(ctx, logPath, cfg.Arbiter.Launch.Bin,
			[]string{"report", newest, "--format", format})
	})
	if err != nil {
		a.send(notify.SeverityWarn, "report-failed",
			fmt.Sprintf("report generation failed for %s: %v", newest, err))
	}
}

func (a *Arbiter) send(sev notify.Severity, kind, msg string) {
	a.lastAlert = kind
	a.lastAlertAt = time.Now()
	a.log.Info("Alert", logger.F("kind", kind), logger.F("severity", sev), logger.F("message", msg))
	a.notifier.Send(sev, msg)
}

func (a *Arbiter) writeHeartbeat(status, detail string) {
	if a.heartbeat == nil {
		return
	}
	err := a.heartbeat.Write(tracker.Heartbeat{
		Loop:        "arbiter",
		PID:         os.Getpid(),
		StartedAt:   a.startedAt,
		UpdatedAt:   time.Now(),
		Cycles:      a.cycles,
		Status:      status,
		Detail:      detail,
		LastAlert:   a.lastAlert,
		LastAlertAt: a.lastAlertAt,
	})
	if err != nil {
		a.log.Warn("Failed to write heartbeat", logger.F("error", err))
	}
}
