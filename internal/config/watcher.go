package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one version of the config file on disk.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every new valid version to a
// callback. Edits that fail to parse or validate are logged and ignored; the
// last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil; it is
// called from the polling goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readVersion(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if old, next, ok := w.reload(); ok {
				w.announce(old, next)
			}
		}
	}
}

// reload swaps in the file's current content if it differs from the last
// accepted version and is valid.
func (w *Watcher) reload() (old, next *Config, ok bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	seen := w.state
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) {
		return nil, nil, false
	}

	cfg, st, err := readVersion(w.path)
	if err != nil {
		slog.Warn("config watcher: ignoring invalid config", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if st.sum == w.state.sum {
		// Touched, not edited.
		w.state.mtime = st.mtime
		return nil, nil, false
	}
	old = w.current
	w.current, w.state = cfg, st
	return old, cfg, true
}

// announce logs what the new version changes and runs the callback outside
// the lock, so the callback may call Current.
func (w *Watcher) announce(old, next *Config) {
	d := Diff(old, next)
	slog.Info("config watcher: configuration reloaded", "path", w.path, "hot_reloadable", d.Any())
	if r := RestartRequired(old, next); len(r) > 0 {
		slog.Warn("config watcher: some changes take effect after a restart", "fields", r)
	}
	if w.onChange != nil {
		w.onChange(old, next)
	}
}

// readVersion reads, validates and fingerprints the file at path.
func readVersion(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
