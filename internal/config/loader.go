package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in implementation names per kind.
// [Validate] warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"remote": {"gemini-live", "genai-live"},
	"input":  {"portaudio"},
	"output": {"portaudio", "oto"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns a joined error listing
// every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.MDNS.Enabled {
		name := cfg.Server.MDNS.ServiceName
		if name == "" {
			errs = append(errs, errors.New("server.mdns.service_name is required when mdns is enabled"))
		} else if strings.ContainsAny(name, ". ") {
			errs = append(errs, fmt.Errorf("server.mdns.service_name %q must not contain dots or spaces", name))
		}
	}

	if cfg.Remote.Name == "" {
		errs = append(errs, errors.New("remote.name is required"))
	}
	validateProviderName("remote", cfg.Remote.Name)
	if cfg.Remote.Name == "genai-live" && cfg.Remote.OptionString("backend") == "vertex" {
		if cfg.Remote.OptionString("project") == "" {
			errs = append(errs, errors.New("remote.options.project is required for the vertex backend"))
		}
		if cfg.Remote.OptionString("location") == "" {
			errs = append(errs, errors.New("remote.options.location is required for the vertex backend"))
		}
	} else if cfg.Remote.APIKey == "" {
		slog.Warn("remote.api_key is empty; connects will likely be rejected", "remote", cfg.Remote.Name)
	}

	s := cfg.Session
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.poll_interval %s must be positive", s.PollInterval))
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must be positive", s.ConnectTimeout))
	}
	if s.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.stop_timeout %s must be positive", s.StopTimeout))
	} else if s.StopTimeout < 2*s.PollInterval {
		slog.Warn("session.stop_timeout is shorter than two poll intervals; stops may report as pending",
			"stop_timeout", s.StopTimeout, "poll_interval", s.PollInterval)
	}
	if s.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("session.breaker.max_failures %d must not be negative", s.Breaker.MaxFailures))
	}
	if s.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.breaker.reset_timeout %s must not be negative", s.Breaker.ResetTimeout))
	}
	if !s.InputTranscription && !s.OutputTranscription {
		slog.Info("both transcriptions are disabled; transcript panes will stay empty")
	}

	if cfg.Audio.Input.Backend == "" {
		errs = append(errs, errors.New("audio.input.backend is required"))
	}
	if cfg.Audio.Output.Backend == "" {
		errs = append(errs, errors.New("audio.output.backend is required"))
	}
	validateProviderName("input", cfg.Audio.Input.Backend)
	validateProviderName("output", cfg.Audio.Output.Backend)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is set and not a built-in
// implementation of kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
