package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc is called after a modified, valid config file was loaded.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// ErrUnchanged is returned by [Watcher.Reload] when the file content is the
// one already in effect.
var ErrUnchanged = errors.New("config: unchanged")

// snapshot is one successfully parsed version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher keeps the config file and the running process in sync. The file is
// polled by [Watcher.Run] and can be re-read on demand with [Watcher.Reload].
// A file that fails to parse or validate never replaces the current config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// reloadMu serialises reloads so callbacks see diffs in file order.
	reloadMu sync.Mutex
	mu       sync.Mutex
	cur      snapshot
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

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.cur = snap
	return w, nil
}

// Current returns the config currently in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur.cfg
}

// Run polls the file until ctx is done. Polling skips files whose
// modification time has not moved.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.cur.mtime)
		w.mu.Unlock()
		if same {
			continue
		}
		if err := w.Reload(); err != nil && !errors.Is(err, ErrUnchanged) {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
	}
}

// Reload re-reads the file now and applies it when its content changed.
// The change callback runs before Reload returns. A touched file with
// identical content is not a change.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := readSnapshot(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.cur
	if next.sum == prev.sum {
		w.cur.mtime = next.mtime
		w.mu.Unlock()
		return ErrUnchanged
	}
	w.cur = next
	w.mu.Unlock()

	d := Diff(prev.cfg, next.cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"session_changed", d.SessionChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: some changes need a restart", "sections", d.RestartRequired)
	}
	if w.onChange != nil && !d.Empty() {
		w.onChange(prev.cfg, next.cfg, d)
	}
	return nil
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
