// Package config provides the configuration schema, loader, registry and
// file watcher of the parley daemon.
package config

import (
	"time"

	"github.com/MrWong99/parley/pkg/live"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  ProviderEntry `yaml:"remote"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// MDNS advertises the control API on the local network.
	MDNS MDNSConfig `yaml:"mdns"`
}

// MDNSConfig configures the mDNS advertisement.
type MDNSConfig struct {
	Enabled bool `yaml:"enabled"`

	// ServiceName is the instance name advertised under _parley._tcp.
	// Defaults to "parley".
	ServiceName string `yaml:"service_name"`
}

// ProviderEntry selects and configures the remote speech service. Name is
// looked up in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation ("gemini-live", "genai-live").
	Name string `yaml:"name"`

	// APIKey authenticates against the service if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the service endpoint. Leave empty for the default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model.
	Model string `yaml:"model"`

	// Options holds implementation-specific values, e.g. backend, project
	// and location for genai-live.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "" when absent or not a
// string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// SessionConfig holds per-session settings. Instructions, voice and the
// transcription flags are hot-reloadable and apply to the next session.
type SessionConfig struct {
	Instructions        string `yaml:"instructions"`
	Voice               string `yaml:"voice"`
	InputTranscription  bool   `yaml:"input_transcription"`
	OutputTranscription bool   `yaml:"output_transcription"`

	// PollInterval bounds how long a stage waits before re-checking for
	// shutdown.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ConnectTimeout bounds a single remote connect.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// StopTimeout bounds how long a stop request waits for teardown.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// Live converts the hot-reloadable part of s to the remote session config.
func (s SessionConfig) Live() live.SessionConfig {
	return live.SessionConfig{
		Instructions:        s.Instructions,
		Voice:               s.Voice,
		InputTranscription:  s.InputTranscription,
		OutputTranscription: s.OutputTranscription,
	}
}

// BreakerConfig tunes the connect circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects the microphone and speaker backends.
type AudioConfig struct {
	Input  DeviceEntry `yaml:"input"`
	Output DeviceEntry `yaml:"output"`
}

// DeviceEntry selects an audio backend registered in the [Registry].
type DeviceEntry struct {
	// Backend is "portaudio" for input, "portaudio" or "oto" for output.
	Backend string `yaml:"backend"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`
}

// Defaults returns a Config with every optional field set. [LoadFromReader]
// decodes on top of it, so a file only needs to name what it changes.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			MDNS:       MDNSConfig{ServiceName: "parley"},
		},
		Remote: ProviderEntry{Name: "gemini-live"},
		Session: SessionConfig{
			Instructions:        live.DefaultInstructions,
			InputTranscription:  true,
			OutputTranscription: true,
			PollInterval:        time.Second,
			ConnectTimeout:      15 * time.Second,
			StopTimeout:         10 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
			},
		},
		Audio: AudioConfig{
			Input:  DeviceEntry{Backend: "portaudio"},
			Output: DeviceEntry{Backend: "portaudio"},
		},
	}
}
