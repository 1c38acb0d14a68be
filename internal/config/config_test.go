package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/live"
	livemock "github.com/MrWong99/parley/pkg/live/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q.IsValid() = true", l)
		}
	}
}

func TestSessionConfig_Live(t *testing.T) {
	t.Parallel()
	s := config.Defaults().Session
	s.Voice = "Aoede"
	got := s.Live()
	want := live.SessionConfig{
		Instructions:        live.DefaultInstructions,
		Voice:               "Aoede",
		InputTranscription:  true,
		OutputTranscription: true,
	}
	if got != want {
		t.Errorf("Live() = %+v, want %+v", got, want)
	}
}

func TestProviderEntry_OptionString(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"project": "p", "port": 443}}
	if e.OptionString("project") != "p" {
		t.Error("string option not returned")
	}
	if e.OptionString("port") != "" || e.OptionString("missing") != "" {
		t.Error("non-string or missing option should be empty")
	}
}

func TestRegistry_Remote(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	p := &livemock.Provider{}
	var got config.ProviderEntry
	r.RegisterRemote("gemini-live", func(_ context.Context, e config.ProviderEntry) (live.Provider, error) {
		got = e
		return p, nil
	})

	prov, err := r.CreateRemote(context.Background(), config.ProviderEntry{Name: "gemini-live", Model: "m"})
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	if prov != p || got.Model != "m" {
		t.Errorf("factory not used: %v %+v", prov, got)
	}

	_, err = r.CreateRemote(context.Background(), config.ProviderEntry{Name: "openai-realtime"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "gemini-live") {
		t.Errorf("error %q does not list registered names", err)
	}
}

func TestRegistry_Devices(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	in := &audiomock.Input{}
	r.RegisterInput("portaudio", func(config.DeviceEntry) (audio.Input, error) { return in, nil })
	boom := errors.New("no host api")
	r.RegisterOutput("oto", func(config.DeviceEntry) (audio.Output, error) { return nil, boom })

	got, err := r.CreateInput(config.DeviceEntry{Backend: "portaudio"})
	if err != nil || got != in {
		t.Errorf("CreateInput = %v, %v", got, err)
	}
	if _, err := r.CreateOutput(config.DeviceEntry{Backend: "oto"}); !errors.Is(err, boom) {
		t.Errorf("CreateOutput = %v, want wrapped factory error", err)
	}
	if _, err := r.CreateOutput(config.DeviceEntry{Backend: "portaudio"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateOutput unregistered = %v", err)
	}
}
