package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/racecomm/internal/config"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, watch, err := loadConfig(filepath.Join(t.TempDir(), "racecomm.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if watch {
		t.Error("a missing file must not be watched")
	}
	if *cfg != *config.Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfig_ExistingFileIsWatched(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "racecomm.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  threshold: 0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, watch, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !watch {
		t.Error("an existing file should be watched")
	}
	if cfg.Detection.Threshold != 0.1 {
		t.Errorf("threshold = %v, want 0.1", cfg.Detection.Threshold)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "racecomm.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  threshold: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(path); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestRegisterBuiltinBackends(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !slices.Contains(reg.AudioBackends(), "malgo") {
		t.Errorf("backends = %v, want malgo", reg.AudioBackends())
	}
}

func TestOrDefault(t *testing.T) {
	t.Parallel()
	if got := orDefault(""); got != "(system default)" {
		t.Errorf("orDefault(\"\") = %q", got)
	}
	if got := orDefault("mic"); got != "mic" {
		t.Errorf("orDefault(mic) = %q", got)
	}
}
