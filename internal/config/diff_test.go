package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantSession bool
		wantRestart []string
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
		},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:        "instructions",
			mutate:      func(c *config.Config) { c.Session.Instructions = "Be brief." },
			wantSession: true,
		},
		{
			name:        "voice",
			mutate:      func(c *config.Config) { c.Session.Voice = "Kore" },
			wantSession: true,
		},
		{
			name:        "transcription flag",
			mutate:      func(c *config.Config) { c.Session.OutputTranscription = false },
			wantSession: true,
		},
		{
			name:        "poll interval needs restart",
			mutate:      func(c *config.Config) { c.Session.PollInterval = 2 * time.Second },
			wantRestart: []string{"session timing"},
		},
		{
			name: "remote options need restart",
			mutate: func(c *config.Config) {
				c.Remote.Options = map[string]any{"backend": "vertex"}
			},
			wantRestart: []string{"remote"},
		},
		{
			name: "listen addr and audio",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Audio.Output.Backend = "oto"
			},
			wantRestart: []string{"server.listen_addr", "audio"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, next := config.Defaults(), config.Defaults()
			tt.mutate(next)

			d := config.Diff(old, next)
			if d.LogLevelChanged != tt.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLog)
			}
			if d.SessionChanged != tt.wantSession {
				t.Errorf("SessionChanged = %v, want %v", d.SessionChanged, tt.wantSession)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantEmpty := !tt.wantLog && !tt.wantSession && len(tt.wantRestart) == 0
			if d.Empty() != wantEmpty {
				t.Errorf("Empty = %v, want %v", d.Empty(), wantEmpty)
			}
		})
	}
}

func TestDiff_CarriesNewValues(t *testing.T) {
	t.Parallel()
	old, next := config.Defaults(), config.Defaults()
	next.Server.LogLevel = config.LogWarn
	next.Session.Voice = "Puck"

	d := config.Diff(old, next)
	if d.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel = %q", d.NewLogLevel)
	}
	if got := d.NewSession.Live().Voice; got != "Puck" {
		t.Errorf("NewSession voice = %q", got)
	}
}
