package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports a configuration change observed by the watcher.
type Event struct {
	Config *Config
	Error  error
}

// Watcher monitors a single config file and keeps the last good
// config available. An invalid rewrite reports an error event but
// never replaces the current config.
type Watcher struct {
	path       string
	forArbiter bool
	watcher    *fsnotify.Watcher
	events     chan Event
	debounce   time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	current *Config
}

// NewWatcher creates a watcher for the config file at path. The
// initial config must already have been validated by the caller.
func NewWatcher(path string, initial *Config, forArbiter bool) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:       path,
		forArbiter: forArbiter,
		watcher:    fsWatcher,
		events:     make(chan Event, 10),
		debounce:   100 * time.Millisecond,
		current:    initial,
	}, nil
}

// Events returns the channel that receives config change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Current returns the last good config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching. Editors typically replace the file, so the
// parent directory is watched and events are filtered by name.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop stops the run goroutine and cleans up resources. Only run
// closes the events channel, after its last send, so Stop can be
// called at any time relative to context cancellation.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, Event{Error: err})

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadAndValidate(w.path, w.forArbiter)
	if err != nil {
		// Keep the last good config active.
		w.send(ctx, Event{Error: fmt.Errorf("config reload rejected: %w", err)})
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.send(ctx, Event{Config: cfg})
}

// send delivers an event without wedging shutdown when the consumer
// has stopped draining.
func (w *Watcher) send(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
