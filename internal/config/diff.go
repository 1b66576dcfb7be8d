package config

// ConfigDiff describes what changed between two configs, grouped by how the
// change can be applied.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StatusIntervalChanged is true when server.status_interval changed. The
	// status loop picks it up on its next tick.
	StatusIntervalChanged bool

	// DetectionChanged is true when any detection threshold changed. These
	// apply on the next processed block.
	DetectionChanged bool

	// DevicesChanged is true when the input or output device changed. The
	// pipeline has to be reconfigured.
	DevicesChanged bool

	// MonitorChanged is true when audio.monitor flipped.
	MonitorChanged bool

	// RestartRequired lists changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.StatusIntervalChanged && !d.DetectionChanged &&
		!d.DevicesChanged && !d.MonitorChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.StatusIntervalChanged = old.Server.StatusInterval != new.Server.StatusInterval

	d.DetectionChanged = old.Detection != new.Detection

	d.DevicesChanged = old.Audio.InputDevice != new.Audio.InputDevice ||
		old.Audio.OutputDevice != new.Audio.OutputDevice

	d.MonitorChanged = old.Audio.MonitorEnabled() != new.Audio.MonitorEnabled()

	restart := []struct {
		key     string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"audio.backend", old.Audio.Backend != new.Audio.Backend},
		{"audio.sample_rate", old.Audio.SampleRate != new.Audio.SampleRate},
		{"storage", old.Storage != new.Storage},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.key)
		}
	}
	return d
}
