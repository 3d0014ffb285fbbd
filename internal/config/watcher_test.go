package config_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicegate/internal/config"
)

// watcherYAML is a complete config with the hot-reloadable knobs as
// parameters: log level, cooldown and verify threshold, then the sample rate
// which needs a restart.
const watcherYAML = `
server:
  log_level: %s
audio:
  sample_rate: %d
matcher:
  verify_threshold: %v
gate:
  cooldown: %s
providers:
  vad:
    name: energy
  embedding:
    name: onnx
    model: models/ecapa.onnx
  classifier:
    name: onnx
    model: models/gender.onnx
  actuator:
    name: http
    base_url: http://127.0.0.1:9000
enrollment:
  backend: memory
# %s
`

type watchParams struct {
	level    string
	rate     int
	verify   float64
	cooldown string
	comment  string
}

var baseParams = watchParams{level: "info", rate: 16000, verify: 0.85, cooldown: "5s"}

func writeWatched(t *testing.T, path string, p watchParams) {
	t.Helper()
	data := fmt.Sprintf(watcherYAML, p.level, p.rate, p.verify, p.cooldown, p.comment)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// change records every ChangeFunc call.
type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

type recorder struct {
	mu    sync.Mutex
	calls []change
	ch    chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 8)} }

func (r *recorder) onChange(old, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls = append(r.calls, change{old, new, d})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) wait(t *testing.T) change {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("change callback not invoked within 2s")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newWatched(t *testing.T, p watchParams, interval time.Duration) (string, *config.Watcher, *recorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWatched(t, path, p)
	rec := newRecorder()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, rec
}

// ── Polling ──────────────────────────────────────────────────────────────────

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatched(t, baseParams, time.Hour)

	cfg := w.Current()
	if cfg == nil || cfg.Gate.Cooldown != 5*time.Second {
		t.Fatalf("Current() = %+v, want cooldown 5s", cfg)
	}
	if err := w.LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestWatcher_PollDeliversDiff(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatched(t, baseParams, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	p := baseParams
	p.level, p.cooldown, p.rate = "debug", "2s", 48000
	writeWatched(t, path, p)

	got := rec.wait(t)
	if got.old.Gate.Cooldown != 5*time.Second || got.new.Gate.Cooldown != 2*time.Second {
		t.Errorf("cooldown old/new = %s/%s, want 5s/2s", got.old.Gate.Cooldown, got.new.Gate.Cooldown)
	}
	d := got.diff
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug || !d.PolicyChanged || d.ThresholdsChanged {
		t.Errorf("diff = %+v", d)
	}
	if !slices.Contains(d.RestartRequired, "audio") {
		t.Errorf("RestartRequired = %v, want audio", d.RestartRequired)
	}
	if w.Current() != got.new {
		t.Error("Current() is not the config handed to the callback")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatched(t, baseParams, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	p := baseParams
	p.verify = 1.5
	writeWatched(t, path, p)

	deadline := time.Now().Add(2 * time.Second)
	for w.LastError() == nil {
		if time.Now().After(deadline) {
			t.Fatal("invalid file not detected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 0 {
		t.Errorf("callback called %d times for an invalid file", rec.count())
	}
	if got := w.Current().Matcher.VerifyThreshold; got != 0.85 {
		t.Errorf("verify threshold = %v, want the previous 0.85", got)
	}

	// Fixing the file clears the error and applies the change.
	p.verify = 0.8
	writeWatched(t, path, p)
	got := rec.wait(t)
	if !got.diff.ThresholdsChanged || got.new.Matcher.VerifyThreshold != 0.8 {
		t.Errorf("diff = %+v, verify = %v", got.diff, got.new.Matcher.VerifyThreshold)
	}
	if err := w.LastError(); err != nil {
		t.Errorf("LastError() after fix = %v", err)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, _, rec := newWatched(t, baseParams, 20*time.Millisecond)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("callback fired %d times for a touch", rec.count())
	}
}

// ── Reload ───────────────────────────────────────────────────────────────────

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatched(t, baseParams, time.Hour)

	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload(unchanged) = %v, want ErrUnchanged", err)
	}

	// A comment-only edit changes the hash but nothing effective.
	p := baseParams
	p.comment = "tuned on site"
	writeWatched(t, path, p)
	if err := w.Reload(); err != nil {
		t.Errorf("Reload(comment) = %v, want nil", err)
	}
	if rec.count() != 0 {
		t.Errorf("callback fired for a comment-only edit")
	}

	p.cooldown = "9s"
	writeWatched(t, path, p)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rec.count() != 1 || w.Current().Gate.Cooldown != 9*time.Second {
		t.Errorf("calls = %d, cooldown = %s", rec.count(), w.Current().Gate.Cooldown)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Reload(missing) = %v, want ErrNotExist", err)
	}
	if !errors.Is(w.LastError(), os.ErrNotExist) {
		t.Errorf("LastError() = %v", w.LastError())
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := config.NewWatcher(filepath.Join(dir, "missing.yaml"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server:\n  log_level: bananas\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.NewWatcher(bad, nil); err == nil {
		t.Error("invalid file: expected an error")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatched(t, baseParams, 20*time.Millisecond)
	w.Stop()
	w.Stop()
}
