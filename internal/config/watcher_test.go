package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/posecoach/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
voice:
  cooldown: 4s
exercises:
  - id: cat_cow
    rules:
      - {id: tabletop, joint: trunk_angle, target: 100, tolerance: 30, weight: 1, message: Stack your hips}
`
	editedYAML = `
server:
  log_level: debug
  listen_addr: ":9090"
voice:
  cooldown: 2s
exercises:
  - id: cat_cow
    rules:
      - {id: tabletop, joint: trunk_angle, target: 95, tolerance: 30, weight: 1, message: Stack your hips}
`
	brokenYAML = `
server:
  log_level: bananas
`
)

const pollEvery = 20 * time.Millisecond

// reload is one callback invocation.
type reload struct{ old, new *config.Config }

// watch writes body to a fresh file and watches it, recording callbacks.
func watch(t *testing.T, body string) (path string, w *config.Watcher, reloads <-chan reload) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "posecoach.yaml")
	rewrite(t, path, body)

	ch := make(chan reload, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		ch <- reload{old, new}
	}, config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, ch
}

// rewrite replaces the file content and moves its mtime forward, so the
// change is visible even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	bump(t, path)
}

var mtimeClock = time.Now()

func bump(t *testing.T, path string) {
	t.Helper()
	mtimeClock = mtimeClock.Add(time.Second)
	if err := os.Chtimes(path, mtimeClock, mtimeClock); err != nil {
		t.Fatal(err)
	}
}

// quiet asserts that no callback fires for several poll intervals.
func quiet(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to %+v", r.new.Server)
	case <-time.After(10 * pollEvery):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	_, w, _ := watch(t, baseYAML)
	cfg := w.Current()
	if cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v, want the initial config", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "broken.yaml")
	rewrite(t, path, brokenYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected an error for an invalid file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path, w, reloads := watch(t, baseYAML)
	rewrite(t, path, editedYAML)

	var r reload
	select {
	case r = <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked")
	}

	if r.old.Server.LogLevel != config.LogInfo || r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("reload log levels %q -> %q", r.old.Server.LogLevel, r.new.Server.LogLevel)
	}
	if d := config.Diff(r.old, r.new); !d.CooldownChanged || !d.ExercisesChanged {
		t.Errorf("diff of reloaded config: %+v", d)
	}
	if got := config.RestartRequired(r.old, r.new); len(got) != 1 || got[0] != "server.listen_addr" {
		t.Errorf("RestartRequired = %v", got)
	}
	if w.Current() != r.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_InvalidEditKeepsLastGood(t *testing.T) {
	path, w, reloads := watch(t, baseYAML)
	rewrite(t, path, brokenYAML)
	quiet(t, reloads)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log level = %q, want the last valid %q", got, config.LogInfo)
	}

	// A later valid edit is still picked up.
	rewrite(t, path, editedYAML)
	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("valid edit after an invalid one was not picked up")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	path, _, reloads := watch(t, baseYAML)
	bump(t, path)
	quiet(t, reloads)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	_, w, _ := watch(t, baseYAML)
	w.Stop()
	w.Stop()
}
