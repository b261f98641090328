// Package tracker persists a per-loop heartbeat so operators can
// inspect a running warden without attaching to the process.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Heartbeat is the state one loop writes after every cycle.
type Heartbeat struct {
	Loop        string    `json:"loop"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Cycles      int       `json:"cycles"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	LastAlert   string    `json:"last_alert,omitempty"`
	LastAlertAt time.Time `json:"last_alert_at,omitempty"`
}

// Writer writes heartbeats atomically to <dir>/<loop>_state.json.
type Writer struct {
	Path string
}

// NewWriter creates a heartbeat writer for the named loop.
func NewWriter(dir, loop string) *Writer {
	return &Writer{Path: filepath.Join(dir, loop+"_state.json")}
}

// Write persists the heartbeat. Failures are returned so callers can
// log them, but a heartbeat write never stops a loop.
func (w *Writer) Write(hb Heartbeat) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0755); err != nil {
		return err
	}
	return writeJSONAtomic(w.Path, hb)
}

// Load reads the last heartbeat. Missing or unparseable files return
// nil without an error.
func (w *Writer) Load() (*Heartbeat, error) {
	b, err := os.ReadFile(w.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var hb Heartbeat
	if err := json.Unmarshal(b, &hb); err != nil {
		return nil, nil
	}
	return &hb, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
