package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content is
// identical to the active configuration.
var ErrUnchanged = errors.New("config: unchanged")

// ChangeFunc receives the previous and the new configuration together with
// their [Diff]. It is only called for a non-empty diff.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and hands every valid change to a
// [ChangeFunc]. An invalid file is logged and ignored; the last valid
// configuration stays active.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// reloadMu serialises polls with explicit Reload calls.
	reloadMu sync.Mutex

	mu       sync.Mutex
	current  *Config
	state    fileState
	rejected fileState
	lastErr  error

	done     chan struct{}
	stopOnce sync.Once
}

// fileState identifies one version of the config file.
type fileState struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func (s fileState) sameFile(info os.FileInfo) bool {
	return info.ModTime().Equal(s.modTime) && info.Size() == s.size
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload and error messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the file at path and starts polling it. The initial load
// must succeed.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, st

	go w.poll()
	return w, nil
}

// Current returns the active configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// LastError returns the error of the most recent failed load, or nil when
// the latest attempt succeeded.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Reload re-reads the file immediately, regardless of its modification
// time. It returns the load error, or [ErrUnchanged] when the content did
// not change.
func (w *Watcher) Reload() error {
	return w.reload(true)
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.reload(false); err != nil && !errors.Is(err, ErrUnchanged) {
				w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return w.fail(err)
		}
		w.mu.Lock()
		same := w.state.sameFile(info) || w.rejected.sameFile(info)
		w.mu.Unlock()
		if same {
			return ErrUnchanged
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		if info, serr := os.Stat(w.path); serr == nil {
			w.mu.Lock()
			w.rejected = fileState{modTime: info.ModTime(), size: info.Size()}
			w.mu.Unlock()
		}
		return w.fail(err)
	}

	w.mu.Lock()
	w.lastErr = nil
	if st.sum == w.state.sum {
		w.state = st
		w.mu.Unlock()
		return ErrUnchanged
	}
	old := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		w.log.Debug("config watcher: file changed without effective changes", "path", w.path)
		return nil
	}
	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return nil
}

func (w *Watcher) fail(err error) error {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	return err
}

// read loads and validates the file and fingerprints its content.
func (w *Watcher) read() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
		sum:     sha256.Sum256(data),
	}, nil
}
