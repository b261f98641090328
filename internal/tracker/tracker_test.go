package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteHeartbeatWritesValidJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "watchdog")

	hb := Heartbeat{
		Loop:      "watchdog",
		PID:       123,
		StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Cycles:    7,
		Status:    "running",
	}
	if err := w.Write(hb); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "watchdog_state.json"))
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
}

func TestWriteCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".warden")
	w := NewWriter(dir, "arbiter")

	if err := w.Write(Heartbeat{Loop: "arbiter", Status: "running"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if _, err := os.Stat(w.Path); err != nil {
		t.Fatalf("expected heartbeat file created: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir(), "arbiter")

	want := Heartbeat{Loop: "arbiter", Cycles: 3, Status: "launching", LastAlert: "launch-failed"}
	if err := w.Write(want); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := w.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got == nil || got.Cycles != 3 || got.LastAlert != "launch-failed" {
		t.Errorf("unexpected heartbeat %+v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	w := NewWriter(t.TempDir(), "watchdog")
	hb, err := w.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if hb != nil {
		t.Errorf("expected nil for missing heartbeat, got %+v", hb)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	w := NewWriter(t.TempDir(), "watchdog")
	if err := os.WriteFile(w.Path, []byte("{nope"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	hb, err := w.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if hb != nil {
		t.Errorf("expected nil for corrupt heartbeat, got %+v", hb)
	}
}
