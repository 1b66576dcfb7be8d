// Command racecomm is a voice-activated recorder for team radio. It listens
// on a capture device, saves every utterance as a timestamped WAV file,
// relays the live signal to an output device and plays saved utterances
// back on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/racecomm/internal/app"
	"github.com/MrWong99/racecomm/internal/config"
	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/pkg/audio"
	"github.com/MrWong99/racecomm/pkg/audio/malgo"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "racecomm.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print capture and render devices and exit")
	listRecordings := flag.Bool("list", false, "print saved recordings and exit")
	play := flag.String("play", "", "play the recording `yyyyMMdd_HH_mm_ss` and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watch, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "racecomm: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	oneShot := *listDevices || *listRecordings || *play != ""
	if !oneShot {
		slog.Info("racecomm starting",
			"version", version,
			"config", *configPath,
			"listen_addr", cfg.Server.ListenAddr,
			"log_level", cfg.Server.LogLevel,
		)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "racecomm",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithLevelVar(level),
		app.WithLogger(logger),
		app.WithMetricsHandler(telemetry.Handler()),
	}
	if watch && !oneShot {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	switch {
	case *listDevices:
		return printDevices(ctx, application)
	case *listRecordings:
		return printRecordings(ctx, application)
	case *play != "":
		if err := application.Play(ctx, *play); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("playback failed", "file", *play, "err", err)
			return 1
		}
		return 0
	}

	printStartupSummary(cfg, application)
	slog.Info("recorder ready, press Ctrl+C to stop")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("shutdown signal received, stopping")
	return 0
}

// loadConfig reads path. A missing file yields the defaults; hot reload is
// only enabled for an existing file.
func loadConfig(path string) (cfg *config.Config, watch bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "racecomm: config file %q not found, using defaults\n", path)
		return config.Default(), false, nil
	default:
		return nil, false, err
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the audio backends that ship with racecomm
// into reg.
func registerBuiltinBackends(reg *config.Registry, logger *slog.Logger) {
	reg.RegisterAudio("malgo", func(ac config.AudioConfig) (config.AudioBackend, error) {
		b, err := malgo.New(
			malgo.WithLogger(logger.With("backend", "malgo")),
			malgo.WithRenderFormat(audio.Format{SampleRate: ac.SampleRate, Channels: 1, BitDepth: 16}),
		)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	for _, name := range reg.AudioBackends() {
		slog.Debug("registered audio backend", "name", name)
	}
}

// ── One-shot commands ─────────────────────────────────────────────────────────

func printDevices(ctx context.Context, a *app.App) int {
	in, out, err := a.Devices(ctx)
	if err != nil {
		slog.Error("failed to list devices", "err", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIRECTION\tDEFAULT\tNAME\tID")
	for _, devs := range [][]*audio.Device{in, out} {
		for _, d := range devs {
			def := ""
			if d.IsDefault {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Direction, def, d.Name, d.ID)
		}
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func printRecordings(ctx context.Context, a *app.App) int {
	recs, err := a.Engine().Recordings(ctx)
	if err != nil {
		slog.Error("failed to list recordings", "err", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRECORDED\tSIZE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Name, r.Time.Format(time.DateTime), r.Size)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, a *app.App) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║         racecomm startup summary          ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Backend", cfg.Audio.Backend)
	printRow("Input", orDefault(cfg.Audio.InputDevice))
	printRow("Output", orDefault(cfg.Audio.OutputDevice))
	printRow("Threshold", fmt.Sprintf("%.3f", cfg.Detection.Threshold))
	printRow("Debounce", fmt.Sprintf("%s / %s", cfg.Detection.StartDebounce, cfg.Detection.StopDebounce))
	printRow("Recordings", fmt.Sprintf("%d saved", a.Recordings()))
	printRow("Folder", a.Folder().Dir())
	if cfg.Server.ListenAddr != "off" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 25 {
		value = "…" + string(r[len(r)-24:])
	}
	fmt.Printf("║  %-12s : %-25s ║\n", label, value)
}

func orDefault(s string) string {
	if s == "" {
		return "(system default)"
	}
	return s
}
