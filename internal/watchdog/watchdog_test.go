package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmsafe/warden/internal/config"
	"github.com/mmsafe/warden/internal/logger"
	"github.com/mmsafe/warden/internal/notify"
)

type fakeLiveness struct {
	active bool
}

func (f *fakeLiveness) Active(ctx context.Context) bool { return f.active }

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

type fixture struct {
	monitor  *Monitor
	liveness *fakeLiveness
	notifier *fakeNotifier
	cfg      *config.Config
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Telemetry.StatusFile = filepath.Join(dir, "train_status.txt")
	cfg.Telemetry.StatusGlob = filepath.Join(dir, "train_status*.txt")
	cfg.Training.FinalArtifacts = []string{filepath.Join(dir, "final_model*.bin")}

	liveness := &fakeLiveness{active: true}
	notifier := &fakeNotifier{}
	monitor := NewMonitor(func() *config.Config { return cfg }, liveness, notifier, nil, logger.NewNoop())

	return &fixture{monitor: monitor, liveness: liveness, notifier: notifier, cfg: cfg, dir: dir}
}

func (f *fixture) writeStatus(t *testing.T, step, target int, mtime time.Time) {
	t.Helper()
	content := fmt.Sprintf("step=%d\ntarget_steps=%d\nstate=running\n", step, target)
	if err := os.WriteFile(f.cfg.Telemetry.StatusFile, []byte(content), 0644); err != nil {
		t.Fatalf("write status: %v", err)
	}
	if err := os.Chtimes(f.cfg.Telemetry.StatusFile, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func (f *fixture) writeArtifact(t *testing.T) {
	t.Helper()
	path := filepath.Join(f.dir, "final_model.bin")
	if err := os.WriteFile(path, []byte("weights"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestHealthyProgressNoAlert(t *testing.T) {
	// Scenario: mid-run, fresh telemetry, recent progress.
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 500, 1000, now)

	f.monitor.Tick(context.Background(), now)

	if len(f.notifier.alerts) != 0 {
		t.Errorf("expected no alerts, got %v", f.notifier.alerts)
	}
	if f.monitor.State().LastStep != 500 {
		t.Errorf("expected high-water 500, got %d", f.monitor.State().LastStep)
	}
}

func TestCrashAlertExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.liveness.active = false
	now := time.Now()

	f.monitor.Tick(context.Background(), now)
	f.monitor.Tick(context.Background(), now.Add(time.Minute))

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected exactly one crash alert, got %d", len(f.notifier.alerts))
	}
	if f.notifier.alerts[0].sev != notify.SeverityCritical {
		t.Errorf("expected critical severity, got %v", f.notifier.alerts[0].sev)
	}
}

func TestCrashRearmsAfterRecovery(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 10, 1000, now)

	f.liveness.active = false
	f.monitor.Tick(context.Background(), now)

	// Workload comes back, then dies again: a fresh crash alert fires.
	f.liveness.active = true
	now = now.Add(time.Minute)
	f.writeStatus(t, 20, 1000, now)
	f.monitor.Tick(context.Background(), now)

	f.liveness.active = false
	f.monitor.Tick(context.Background(), now.Add(time.Minute))

	criticals := 0
	for _, a := range f.notifier.alerts {
		if a.sev == notify.SeverityCritical {
			criticals++
		}
	}
	if criticals != 2 {
		t.Errorf("expected crash alert re-armed after recovery, got %d criticals", criticals)
	}
}

func TestStallAlertDeduplicated(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 100, 1000, now)
	f.monitor.Tick(context.Background(), now)

	// No progress past the stall threshold; telemetry stays fresh.
	stalledAt := now.Add(f.cfg.Watchdog.GetStallAfter() + time.Minute)
	f.writeStatus(t, 100, 1000, stalledAt)
	f.monitor.Tick(context.Background(), stalledAt)
	f.writeStatus(t, 100, 1000, stalledAt.Add(time.Minute))
	f.monitor.Tick(context.Background(), stalledAt.Add(time.Minute))

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected exactly one stall alert, got %v", f.notifier.alerts)
	}
	if f.notifier.alerts[0].sev != notify.SeverityWarn {
		t.Errorf("expected warn severity, got %v", f.notifier.alerts[0].sev)
	}
}

func TestProgressClearsStallFlag(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 100, 1000, now)
	f.monitor.Tick(context.Background(), now)

	stalledAt := now.Add(f.cfg.Watchdog.GetStallAfter() + time.Minute)
	f.writeStatus(t, 100, 1000, stalledAt)
	f.monitor.Tick(context.Background(), stalledAt)

	// Progress resumes, then stalls again: second alert fires.
	progressAt := stalledAt.Add(time.Minute)
	f.writeStatus(t, 150, 1000, progressAt)
	f.monitor.Tick(context.Background(), progressAt)

	secondStall := progressAt.Add(f.cfg.Watchdog.GetStallAfter() + time.Minute)
	f.writeStatus(t, 150, 1000, secondStall)
	f.monitor.Tick(context.Background(), secondStall)

	if len(f.notifier.alerts) != 2 {
		t.Errorf("expected two stall alerts across two stall windows, got %v", f.notifier.alerts)
	}
}

func TestStepDropClassifiedAsResume(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 800, 1000, now)
	f.monitor.Tick(context.Background(), now)

	// Restart from an earlier checkpoint: drop of 300 >= threshold 50.
	later := now.Add(time.Minute)
	f.writeStatus(t, 500, 1000, later)
	f.monitor.Tick(context.Background(), later)

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected one resume notice, got %v", f.notifier.alerts)
	}
	if f.notifier.alerts[0].sev != notify.SeverityInfo {
		t.Errorf("expected info severity for resume, got %v", f.notifier.alerts[0].sev)
	}

	st := f.monitor.State()
	if st.LastStep != 500 {
		t.Errorf("expected baseline reset to 500, got %d", st.LastStep)
	}
	if st.StalledSent || st.CrashedSent {
		t.Error("resume must not be classified as stall or crash")
	}
}

func TestSmallStepDropIsNotResume(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 100, 1000, now)
	f.monitor.Tick(context.Background(), now)

	later := now.Add(time.Minute)
	f.writeStatus(t, 90, 1000, later)
	f.monitor.Tick(context.Background(), later)

	if len(f.notifier.alerts) != 0 {
		t.Errorf("expected drop below threshold to pass silently, got %v", f.notifier.alerts)
	}
	if f.monitor.State().LastStep != 100 {
		t.Errorf("expected high-water mark kept at 100, got %d", f.monitor.State().LastStep)
	}
}

func TestStaleTelemetrySuppressesStall(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 100, 1000, now)
	f.monitor.Tick(context.Background(), now)

	// Telemetry frozen long past both thresholds; only the stale
	// warning may fire, and only once.
	frozen := now.Add(f.cfg.Watchdog.GetStallAfter() + f.cfg.Telemetry.GetStaleAfter() + time.Hour)
	f.monitor.Tick(context.Background(), frozen)
	f.monitor.Tick(context.Background(), frozen.Add(time.Minute))

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected exactly one stale warning, got %v", f.notifier.alerts)
	}
}

func TestStaleClearsWhenTelemetryFreshens(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 100, 1000, now)
	f.monitor.Tick(context.Background(), now)

	frozen := now.Add(f.cfg.Telemetry.GetStaleAfter() + time.Hour)
	f.monitor.Tick(context.Background(), frozen)
	if !f.monitor.State().StaleSent {
		t.Fatal("expected stale flag set")
	}

	freshAt := frozen.Add(time.Minute)
	f.writeStatus(t, 120, 1000, freshAt)
	f.monitor.Tick(context.Background(), freshAt)
	if f.monitor.State().StaleSent {
		t.Error("expected stale flag cleared once telemetry freshened")
	}
}

func TestCompletionByTargetSteps(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.writeStatus(t, 1000, 1000, now)

	f.monitor.Tick(context.Background(), now)
	f.writeStatus(t, 1000, 1000, now.Add(time.Minute))
	f.monitor.Tick(context.Background(), now.Add(time.Minute))

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected one completion notice, got %v", f.notifier.alerts)
	}
	if f.notifier.alerts[0].sev != notify.SeverityInfo {
		t.Errorf("expected info severity, got %v", f.notifier.alerts[0].sev)
	}
}

func TestInactiveWithArtifactsIsNotACrash(t *testing.T) {
	f := newFixture(t)
	f.liveness.active = false
	f.writeArtifact(t)

	now := time.Now()
	f.monitor.Tick(context.Background(), now)
	f.monitor.Tick(context.Background(), now.Add(time.Minute))

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected one ended notice, got %v", f.notifier.alerts)
	}
	if f.notifier.alerts[0].sev != notify.SeverityInfo {
		t.Errorf("expected info severity for ended-with-artifacts, got %v", f.notifier.alerts[0].sev)
	}
	if f.monitor.State().CrashedSent {
		t.Error("artifacts present must not set the crash flag")
	}
}

func TestMissingTelemetryWhileActiveWarnsStale(t *testing.T) {
	f := newFixture(t)
	// No status file at all.
	f.monitor.Tick(context.Background(), time.Now())

	if len(f.notifier.alerts) != 1 {
		t.Fatalf("expected one stale warning for missing telemetry, got %v", f.notifier.alerts)
	}
	if f.notifier.alerts[0].sev != notify.SeverityWarn {
		t.Errorf("expected warn severity, got %v", f.notifier.alerts[0].sev)
	}
}
