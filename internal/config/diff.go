package config

import "reflect"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes carry their new value; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when instructions, voice or a transcription flag
	// changed. The new values apply to the next session.
	SessionChanged bool
	NewSession     SessionConfig

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Live() != new.Session.Live() {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MDNS != new.Server.MDNS {
		d.RestartRequired = append(d.RestartRequired, "server.mdns")
	}
	if !sameEntry(old.Remote, new.Remote) {
		d.RestartRequired = append(d.RestartRequired, "remote")
	}
	if old.Session.PollInterval != new.Session.PollInterval ||
		old.Session.ConnectTimeout != new.Session.ConnectTimeout ||
		old.Session.StopTimeout != new.Session.StopTimeout ||
		old.Session.Breaker != new.Session.Breaker {
		d.RestartRequired = append(d.RestartRequired, "session timing")
	}
	if old.Audio.Input.Backend != new.Audio.Input.Backend || old.Audio.Output.Backend != new.Audio.Output.Backend {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}

// sameEntry compares two provider entries including their options.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
