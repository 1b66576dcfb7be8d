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

// ValidBackends lists the audio backend names shipped with racecomm.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackends = []string{"malgo"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("server.status_interval %v must not be negative", cfg.Server.StatusInterval))
	}

	// Audio
	if cfg.Audio.Backend != "" && !slices.Contains(ValidBackends, cfg.Audio.Backend) {
		slog.Warn("unknown audio backend; it must be registered before start",
			"name", cfg.Audio.Backend,
			"known", ValidBackends,
		)
	}
	if cfg.Audio.SampleRate != 0 && (cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", cfg.Audio.SampleRate))
	}

	// Detection
	if cfg.Detection.Threshold < 0 || cfg.Detection.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detection.threshold %.4f is out of range [0, 1]", cfg.Detection.Threshold))
	}
	if cfg.Detection.StartDebounce < 0 {
		errs = append(errs, fmt.Errorf("detection.start_debounce %v must not be negative", cfg.Detection.StartDebounce))
	}
	if cfg.Detection.StopDebounce < 0 {
		errs = append(errs, fmt.Errorf("detection.stop_debounce %v must not be negative", cfg.Detection.StopDebounce))
	}

	// Storage
	if strings.ContainsAny(cfg.Storage.Folder, `/\`) || cfg.Storage.Folder == "." || cfg.Storage.Folder == ".." {
		errs = append(errs, fmt.Errorf("storage.folder %q must be a plain directory name", cfg.Storage.Folder))
	}
	if cfg.Storage.Extension != "" && cfg.Storage.Extension != DefaultExtension {
		errs = append(errs, fmt.Errorf("storage.extension %q is invalid; valid values: wav", cfg.Storage.Extension))
	}

	return errors.Join(errs...)
}
