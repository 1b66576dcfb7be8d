package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/racecomm/internal/config"
)

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"negative status interval", "server:\n  status_interval: -1s\n", "server.status_interval"},
		{"threshold above one", "detection:\n  threshold: 1.5\n", "detection.threshold"},
		{"negative threshold", "detection:\n  threshold: -0.1\n", "detection.threshold"},
		{"negative start debounce", "detection:\n  start_debounce: -5ms\n", "detection.start_debounce"},
		{"negative stop debounce", "detection:\n  stop_debounce: -1s\n", "detection.stop_debounce"},
		{"sample rate", "audio:\n  sample_rate: 1000\n", "audio.sample_rate"},
		{"folder with separator", "storage:\n  folder: a/b\n", "storage.folder"},
		{"folder dot-dot", "storage:\n  folder: ..\n", "storage.folder"},
		{"extension", "storage:\n  extension: mp3\n", "storage.extension"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error should mention %s, got: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
detection:
  threshold: 2
storage:
  extension: flac
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"server.log_level", "detection.threshold", "storage.extension"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("joined error misses %s: %v", key, err)
		}
	}
}

func TestValidate_UnknownBackendOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  backend: pulse\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Backend != "pulse" {
		t.Errorf("backend = %q", cfg.Audio.Backend)
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}
