package arbiter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/notify"
)

type fakeLiveness struct{ active bool }

func (f *fakeLiveness) Active(ctx context.Context) bool { return f.active }

type fakeDevice struct{ idle bool }

func (f *fakeDevice) Idle(ctx context.Context) bool { return f.idle }

type capturedAlert struct {
	sev notify.Severity
	msg string
}

type fakeNotifier struct {
	alerts []capturedAlert
}

func (f *fakeNotifier) Send(sev notify.Severity, msg string) {
	f.alerts = append(f.alerts, capturedAlert{sev: sev, msg: msg})
}

type launchCall struct {
	bin  string
	args []string
}

type fixture struct {
	arbiter  *Arbiter
	liveness *fakeLiveness
	device   *fakeDevice
	notifier *fakeNotifier
	cfg      *config.Config
	calls    *[]launchCall
}

// stubExec replaces the command seam; fail selects which invocations
// (by index) return an exit error.
func stubExec(t *testing.T, calls *[]launchCall, failFirst int) {
	t.Helper()
	orig := executeCommand
	executeCommand = func(ctx context.Context, logPath, bin string, args []string) error {
		idx := len(*calls)
		*calls = append(*calls, launchCall{bin: bin, args: args})
		if idx < failFirst {
			return &exec.ExitError{}
		}
		return nil
	}
	t.Cleanup(func() { executeCommand = orig })
}

func newFixture(t *testing.T, failFirst int) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.StateDir = filepath.Join(dir, ".warden")
	cfg.Arbiter.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.Arbiter.ResultsDir = filepath.Join(dir, "results")
	cfg.Arbiter.Launch.Config = filepath.Join(dir, "eval.yaml")
	disabled := false
	cfg.Arbiter.Report.Enabled = &disabled

	for _, d := range []string{cfg.Arbiter.CheckpointDir, cfg.Arbiter.ResultsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	calls := &[]launchCall{}
	stubExec(t, calls, failFirst)

	liveness := &fakeLiveness{active: false}
	device := &fakeDevice{idle: true}
	notifier := &fakeNotifier{}
	arb := New(func() *config.Config { return cfg }, liveness, device, notifier, nil, logger.NewNoop())

	return &fixture{arbiter: arb, liveness: liveness, device: device, notifier: notifier, cfg: cfg, calls: calls}
}

func (f *fixture) writeCheckpoint(t *testing.T, runID string, count int) {
	t.Helper()
	path := filepath.Join(f.cfg.Arbiter.CheckpointDir, fmt.Sprintf("checkpoint_%s.json", runID))
	content := fmt.Sprintf(`{"run_id":%q,"completed_count":%d}`, runID, count)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
}

func (f *fixture) writeResult(t *testing.T, runID, content string) {
	t.Helper()
	path := filepath.Join(f.cfg.Arbiter.ResultsDir, runID+"_results.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write result: %v", err)
	}
}

func TestLaunchesOncePerIdleWindow(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.arbiter.Tick(ctx)
	if len(*f.calls) != 1 {
		t.Fatalf("expected one launch, got %d", len(*f.calls))
	}
	if !f.arbiter.LaunchedThisCycle() {
		t.Error("expected launchedThisCycle set after success")
	}

	// Device stays idle: no relaunch within the same window.
	f.arbiter.Tick(ctx)
	f.arbiter.Tick(ctx)
	if len(*f.calls) != 1 {
		t.Fatalf("expected no relaunch in the same idle window, got %d launches", len(*f.calls))
	}
}

func TestNewIdleWindowAfterTrainingRun(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.arbiter.Tick(ctx) // first idle window, launches
	f.liveness.active = true
	f.arbiter.Tick(ctx) // trainer takes the device
	f.liveness.active = false
	f.arbiter.Tick(ctx) // next idle window

	if len(*f.calls) != 2 {
		t.Fatalf("expected a fresh launch in the new idle window, got %d", len(*f.calls))
	}
}

func TestNoLaunchWhileTrainingActive(t *testing.T) {
	f := newFixture(t, 0)
	f.liveness.active = true

	f.arbiter.Tick(context.Background())
	if len(*f.calls) != 0 {
		t.Errorf("expected no launch while priority workload active, got %d", len(*f.calls))
	}
}

func TestNoLaunchWhileDeviceBusy(t *testing.T) {
	f := newFixture(t, 0)
	f.device.idle = false

	f.arbiter.Tick(context.Background())
	if len(*f.calls) != 0 {
		t.Errorf("expected no launch while device busy, got %d", len(*f.calls))
	}
}

func TestLaunchPassesResumeAndProfile(t *testing.T) {
	f := newFixture(t, 0)
	f.writeCheckpoint(t, "eval-best", 120)

	f.arbiter.Tick(context.Background())

	if len(*f.calls) != 1 {
		t.Fatalf("expected one launch, got %d", len(*f.calls))
	}
	args := strings.Join((*f.calls)[0].args, " ")
	wantCkpt := filepath.Join(f.cfg.Arbiter.CheckpointDir, "checkpoint_eval-best.json")
	for _, want := range []string{"run", "--config " + f.cfg.Arbiter.Launch.Config, "--resume " + wantCkpt, "--execution-profile a100"} {
		if !strings.Contains(args, want) {
			t.Errorf("launch args %q missing %q", args, want)
		}
	}
}

func TestLaunchWithoutCheckpointOmitsResume(t *testing.T) {
	f := newFixture(t, 0)

	f.arbiter.Tick(context.Background())

	args := strings.Join((*f.calls)[0].args, " ")
	if strings.Contains(args, "--resume") {
		t.Errorf("expected no resume flag without checkpoints, got %q", args)
	}
}

func TestFailureNotifiesAndRetriesSooner(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	wait := f.arbiter.Tick(ctx)

	if wait != f.cfg.Arbiter.GetRetryInterval() {
		t.Errorf("expected retry interval %v after failure, got %v", f.cfg.Arbiter.GetRetryInterval(), wait)
	}
	if f.arbiter.LaunchedThisCycle() {
		t.Error("failed launch must not consume the idle window")
	}
	if len(f.notifier.alerts) != 1 || f.notifier.alerts[0].sev != notify.SeverityCritical {
		t.Fatalf("expected one critical alert, got %v", f.notifier.alerts)
	}
	if !strings.Contains(f.notifier.alerts[0].msg, "log:") {
		t.Errorf("expected log path in failure alert, got %q", f.notifier.alerts[0].msg)
	}

	// Next tick retries and succeeds.
	wait = f.arbiter.Tick(ctx)
	if wait != f.cfg.Arbiter.GetPollInterval() {
		t.Errorf("expected poll interval after success, got %v", wait)
	}
	if len(*f.calls) != 2 {
		t.Errorf("expected retry launch, got %d calls", len(*f.calls))
	}
}

func TestBreakerPausesLaunchesAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, 100)
	f.cfg.Arbiter.Breaker.Threshold = 2
	// Breaker config is read at construction.
	f.arbiter = New(func() *config.Config { return f.cfg }, f.liveness, f.device, f.notifier, nil, logger.NewNoop())
	ctx := context.Background()

	f.arbiter.Tick(ctx)
	f.arbiter.Tick(ctx)
	launchesBefore := len(*f.calls)

	f.arbiter.Tick(ctx)
	if len(*f.calls) != launchesBefore {
		t.Errorf("expected breaker to block further launches, got %d calls", len(*f.calls))
	}

	var breakerWarns int
	for _, a := range f.notifier.alerts {
		if strings.Contains(a.msg, "paused") {
			breakerWarns++
		}
	}
	if breakerWarns != 1 {
		t.Errorf("expected one breaker-open warning, got %d", breakerWarns)
	}
}

func TestSuccessNotificationCarriesSummary(t *testing.T) {
	f := newFixture(t, 0)
	f.writeResult(t, "eval-xyz", `{
		"run_id": "eval-xyz",
		"summary": {"overall": {"total_samples": 80, "attack_success_rate": 0.1, "refusal_rate": 0.5}},
		"metadata": {"unavailable_providers": ["google"]}
	}`)

	f.arbiter.Tick(context.Background())

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected one success notice, got %v", f.notifier.alerts)
	}
	msg := f.notifier.alerts[0].msg
	for _, want := range []string{"eval-xyz", "80 samples", "google"} {
		if !strings.Contains(msg, want) {
			t.Errorf("success notice %q missing %q", msg, want)
		}
	}
}

func TestReportGenerationInvoked(t *testing.T) {
	f := newFixture(t, 0)
	f.cfg.Arbiter.Report.Enabled = nil // default on
	f.writeResult(t, "eval-rep", `{"run_id":"eval-rep"}`)

	f.arbiter.Tick(context.Background())

	if len(*f.calls) != 2 {
		t.Fatalf("expected launch plus report call, got %d", len(*f.calls))
	}
	reportArgs := strings.Join((*f.calls)[1].args, " ")
	if !strings.HasPrefix(reportArgs, "report ") || !strings.Contains(reportArgs, "--format html") {
		t.Errorf("unexpected report invocation %q", reportArgs)
	}
}

func TestReportFailureDegradesToWarning(t *testing.T) {
	f := newFixture(t, 0)
	f.cfg.Arbiter.Report.Enabled = nil
	f.writeResult(t, "eval-rep", `{"run_id":"eval-rep"}`)

	// Launch succeeds; every report attempt fails.
	orig := executeCommand
	executeCommand = func(ctx context.Context, logPath, bin string, args []string) error {
		*f.calls = append(*f.calls, launchCall{bin: bin, args: args})
		if len(args) > 0 && args[0] == "report" {
			return &exec.ExitError{}
		}
		return nil
	}
	t.Cleanup(func() { executeCommand = orig })

	wait := f.arbiter.Tick(context.Background())

	if wait != f.cfg.Arbiter.GetPollInterval() {
		t.Errorf("report failure must not fail the run, got wait %v", wait)
	}
	var warns int
	for _, a := range f.notifier.alerts {
		if a.sev == notify.SeverityWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("expected one report warning, got %v", f.notifier.alerts)
	}
	if !f.arbiter.LaunchedThisCycle() {
		t.Error("run itself succeeded; idle window must be consumed")
	}
}
