// Package config provides the configuration schema, loader, hot-reload
// watcher, and audio backend registry for racecomm.
package config

import (
	"log/slog"
	"time"
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

// SlogLevel maps l to the [slog.Level] it names. Unknown levels map to
// [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default values applied by [ApplyDefaults] to fields left empty.
const (
	DefaultListenAddr     = ":9464"
	DefaultBackend        = "malgo"
	DefaultSampleRate     = 44100
	DefaultThreshold      = 0.02
	DefaultStartDebounce  = 15 * time.Millisecond
	DefaultStopDebounce   = 1500 * time.Millisecond
	DefaultFolder         = "RaceCommunicator"
	DefaultExtension      = "wav"
	DefaultStatusInterval = time.Second
)

// Config is the root configuration structure for racecomm.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9464"). Set to "off" to disable the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StatusInterval is how often the status line is logged.
	StatusInterval time.Duration `yaml:"status_interval"`
}

// AudioConfig selects the audio backend and devices.
type AudioConfig struct {
	// Backend names the registered audio backend (see [Registry]).
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice select devices by ID or case-insensitive
	// name. Empty selects the system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// SampleRate is the render sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Monitor starts block delivery as soon as the pipeline is configured.
	// Defaults to true.
	Monitor *bool `yaml:"monitor"`
}

// MonitorEnabled reports the effective Monitor setting.
func (a AudioConfig) MonitorEnabled() bool {
	return a.Monitor == nil || *a.Monitor
}

// DetectionConfig tunes voice activity detection. Changes are applied
// without rebuilding the pipeline.
type DetectionConfig struct {
	// Threshold is the mean absolute sample level in [0, 1] that counts as
	// speech.
	Threshold float64 `yaml:"threshold"`

	// StartDebounce is how much loud audio must accumulate before a
	// recording starts.
	StartDebounce time.Duration `yaml:"start_debounce"`

	// StopDebounce is how much quiet audio must accumulate before a
	// recording stops.
	StopDebounce time.Duration `yaml:"stop_debounce"`
}

// StorageConfig locates the recordings folder.
type StorageConfig struct {
	// Dir is the parent directory. Empty means the user's music directory.
	Dir string `yaml:"dir"`

	// Folder is the name of the recordings folder inside Dir.
	Folder string `yaml:"folder"`

	// Extension is the container of saved recordings. Only "wav" is
	// supported.
	Extension string `yaml:"extension"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StatusInterval == 0 {
		cfg.Server.StatusInterval = DefaultStatusInterval
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultBackend
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = DefaultThreshold
	}
	if cfg.Detection.StartDebounce == 0 {
		cfg.Detection.StartDebounce = DefaultStartDebounce
	}
	if cfg.Detection.StopDebounce == 0 {
		cfg.Detection.StopDebounce = DefaultStopDebounce
	}
	if cfg.Storage.Folder == "" {
		cfg.Storage.Folder = DefaultFolder
	}
	if cfg.Storage.Extension == "" {
		cfg.Storage.Extension = DefaultExtension
	}
}
