package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
remote:
  name: gemini-live
  api_key: test-key
`
	pirateYAML = `
server:
  log_level: debug
remote:
  name: gemini-live
  api_key: test-key
session:
  instructions: "Answer like a pirate."
`
	brokenYAML = `
server:
  log_level: bananas
`
)

type change struct {
	old  *config.Config
	diff config.ConfigDiff
}

// configFile writes content to a fresh parley.yaml and returns its path.
func configFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	rewrite(t, path, content)
	return path
}

// rewrite replaces the file and moves its mtime forward so coarse
// filesystem timestamps still register.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func recordingWatcher(t *testing.T, path string) (*config.Watcher, <-chan change) {
	t.Helper()
	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, _ *config.Config, d config.ConfigDiff) {
		changes <- change{old: old, diff: d}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, changes
}

func TestWatcher_LoadsWithDefaults(t *testing.T) {
	t.Parallel()
	w, _ := recordingWatcher(t, configFile(t, baseYAML))
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Session.PollInterval != time.Second {
		t.Errorf("poll_interval = %v, want the 1s default", cfg.Session.PollInterval)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	t.Run("content change fires callback", func(t *testing.T) {
		t.Parallel()
		path := configFile(t, baseYAML)
		w, changes := recordingWatcher(t, path)

		rewrite(t, path, pirateYAML)
		if err := w.Reload(); err != nil {
			t.Fatalf("Reload: %v", err)
		}
		c := <-changes
		if c.old.Server.LogLevel != config.LogInfo {
			t.Errorf("old log_level = %q", c.old.Server.LogLevel)
		}
		if !c.diff.LogLevelChanged || c.diff.NewLogLevel != config.LogDebug {
			t.Errorf("log level diff = %+v", c.diff)
		}
		if !c.diff.SessionChanged || c.diff.NewSession.Instructions != "Answer like a pirate." {
			t.Errorf("session diff = %+v", c.diff)
		}
		if got := w.Current().Server.LogLevel; got != config.LogDebug {
			t.Errorf("Current log_level = %q, want debug", got)
		}
	})

	t.Run("identical content is unchanged", func(t *testing.T) {
		t.Parallel()
		path := configFile(t, baseYAML)
		w, changes := recordingWatcher(t, path)

		rewrite(t, path, baseYAML)
		if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
			t.Fatalf("Reload = %v, want ErrUnchanged", err)
		}
		if len(changes) != 0 {
			t.Error("callback fired for identical content")
		}
	})

	t.Run("invalid file keeps current config", func(t *testing.T) {
		t.Parallel()
		path := configFile(t, baseYAML)
		w, changes := recordingWatcher(t, path)
		before := w.Current()

		rewrite(t, path, brokenYAML)
		if err := w.Reload(); err == nil || errors.Is(err, config.ErrUnchanged) {
			t.Fatalf("Reload = %v, want a validation error", err)
		}
		if w.Current() != before {
			t.Error("invalid file replaced the current config")
		}
		if len(changes) != 0 {
			t.Error("callback fired for an invalid file")
		}
	})
}

func TestWatcher_RunPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	w, changes := recordingWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// A broken intermediate save is skipped; the next good one applies.
	rewrite(t, path, brokenYAML)
	time.Sleep(60 * time.Millisecond)
	rewrite(t, path, pirateYAML)

	select {
	case c := <-changes:
		if c.old.Server.LogLevel != config.LogInfo {
			t.Errorf("diff based on %q, want the last valid config", c.old.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edit was not picked up")
	}
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	t.Parallel()
	w, _ := recordingWatcher(t, configFile(t, baseYAML))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored a cancelled context")
	}
}
