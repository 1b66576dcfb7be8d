// Package app wires the racecomm subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the audio
// backend, the recordings folder and the recorder engine; Run configures the
// pipeline and supervises the HTTP endpoints, the config watcher, the status
// loop and the folder watcher; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithFolder, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/racecomm/internal/config"
	"github.com/MrWong99/racecomm/internal/health"
	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/internal/recorder"
	"github.com/MrWong99/racecomm/internal/storage"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	backend  config.AudioBackend
	folder   *storage.Folder
	engine   *recorder.Engine
	metrics  *observe.Metrics
	level    *slog.LevelVar
	log      *slog.Logger
	now      func() time.Time

	configPath     string
	reloadInterval time.Duration
	watcher        *config.Watcher
	reloads        chan *config.Config
	handler        http.Handler
	metricsHandler http.Handler

	// applied is the configuration the running subsystems reflect. Only the
	// reload loop and Start touch it after New returns.
	applied *config.Config

	index *recordingIndex

	// statusInterval is the info-level status period in nanoseconds. It
	// follows config reloads.
	statusInterval atomic.Int64

	// closers are called in reverse order during Shutdown.
	closers []func() error

	unsubscribe func()
	stopOnce    sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry the audio backend is created from.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithBackend injects an audio backend instead of creating one from the
// registry. The App does not close an injected backend.
func WithBackend(b config.AudioBackend) Option {
	return func(a *App) { a.backend = b }
}

// WithFolder injects the recordings folder instead of opening the one named
// by the storage section.
func WithFolder(f *storage.Folder) Option {
	return func(a *App) { a.folder = f }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted at /metrics, normally
// [observe.Provider.Handler]. Defaults to [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets hot reload change the level of the handler behind the
// default logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithReloadInterval sets how often the config file is polled.
func WithReloadInterval(d time.Duration) Option {
	return func(a *App) { a.reloadInterval = d }
}

// WithClock sets the wall clock used to name recordings.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It opens the audio backend and the recordings
// folder, builds the recorder engine and saves recordings a previous run
// left under a provisional name. Devices are not opened until [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		applied: cfg,
		reloads: make(chan *config.Config, 1),
		index:   newRecordingIndex(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}
	a.statusInterval.Store(int64(cfg.Server.StatusInterval))

	// ── 1. Audio backend ────────────────────────────────────────────────
	if err := a.initBackend(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init audio backend: %w", err)
	}

	// ── 2. Recordings folder ────────────────────────────────────────────
	if err := a.initFolder(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init recordings folder: %w", err)
	}

	// ── 3. Recorder engine ──────────────────────────────────────────────
	a.initEngine()

	// ── 4. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		wopts := []config.WatcherOption{config.WithWatcherLogger(a.log)}
		if a.reloadInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.reloadInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.enqueueReload, wopts...)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 5. Leftovers and index ──────────────────────────────────────────
	recovered, err := a.engine.RecoverProvisional(ctx)
	if err != nil {
		a.log.Warn("could not recover every provisional recording", "err", err)
	}
	for _, name := range recovered {
		a.log.Info("recovered recording", "file", name)
	}
	if recs, err := a.engine.Recordings(ctx); err != nil {
		a.log.Warn("could not list recordings", "err", err)
	} else {
		a.index.reset(recs)
	}

	a.handler = a.buildHandler()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("no audio backend injected and no registry set")
	}
	b, err := a.registry.CreateAudio(a.cfg.Audio)
	if err != nil {
		return err
	}
	a.backend = b
	a.closers = append(a.closers, b.Close)
	a.log.Info("audio backend ready", "backend", a.cfg.Audio.Backend)
	return nil
}

func (a *App) initFolder() error {
	if a.folder != nil {
		return nil
	}
	dir := a.cfg.Storage.Dir
	if dir == "" {
		music, err := storage.MusicDir()
		if err != nil {
			return err
		}
		dir = music
	}
	f, err := storage.Open(filepath.Join(dir, a.cfg.Storage.Folder), storage.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.folder = f
	a.log.Info("recordings folder", "dir", f.Dir())
	return nil
}

func (a *App) initEngine() {
	opts := []recorder.Option{
		recorder.WithLogger(a.log),
		recorder.WithMetrics(a.metrics),
		recorder.WithThresholds(thresholds(a.cfg.Detection)),
		recorder.WithEncodingProfile(profile(a.cfg)),
		recorder.WithMonitoring(a.cfg.Audio.MonitorEnabled()),
	}
	if a.now != nil {
		opts = append(opts, recorder.WithClock(a.now))
	}
	a.engine = recorder.New(a.backend, a.backend, a.folder, opts...)
	a.closers = append(a.closers, a.engine.Close)
	a.unsubscribe = a.engine.Subscribe(a.logEvent)
}

func (a *App) buildHandler() http.Handler {
	checks := health.New(
		health.PipelineChecker(health.PipelineFunc(func() (bool, fmt.Stringer) {
			s := a.engine.PipelineState()
			return s == recorder.Live, s
		})),
		health.StorageChecker(a.folder.Dir()),
	)
	mux := http.NewServeMux()
	checks.Register(mux)
	metricsHandler := a.metricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)
	return observe.Middleware(a.metrics, a.log)(mux)
}

// thresholds converts the detection section to detector settings.
func thresholds(d config.DetectionConfig) recorder.Thresholds {
	return recorder.Thresholds{
		Threshold:     d.Threshold,
		StartDebounce: d.StartDebounce,
		StopDebounce:  d.StopDebounce,
	}
}

// profile is mono 16-bit at the configured rate in the configured container.
func profile(cfg *config.Config) audio.EncodingProfile {
	return audio.EncodingProfile{
		Container: audio.Container(cfg.Storage.Extension),
		Format:    audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1, BitDepth: 16},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the recorder engine.
func (a *App) Engine() *recorder.Engine { return a.engine }

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Folder returns the recordings folder.
func (a *App) Folder() *storage.Folder { return a.folder }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Start enumerates devices, selects the configured ones and builds the
// recording pipeline. A failure is logged and leaves the pipeline
// unconfigured; a later config change can fix the device selection.
func (a *App) Start(ctx context.Context) {
	if err := a.configureDevices(ctx, a.applied.Audio, true); err != nil {
		a.log.Error("recording pipeline not started", "err", err)
	}
}

// Run starts the pipeline and blocks until ctx is cancelled or a supervised
// task fails. It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" && addr != "off" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("http endpoints listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
		g.Go(func() error { return a.reloadLoop(gctx) })
	}

	g.Go(func() error { return a.statusLoop(gctx) })
	g.Go(func() error { return a.watchFolder(gctx) })

	a.log.Info("racecomm running", "state", a.engine.PipelineState())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown saves a recording in progress and releases every subsystem in
// reverse-init order. If ctx expires first, the remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		if a.unsubscribe != nil {
			defer a.unsubscribe()
		}
		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases whatever New managed to create before failing.
func (a *App) close() {
	for _, closer := range slices.Backward(a.closers) {
		_ = closer()
	}
	a.closers = nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

func (a *App) logEvent(ev recorder.Event) {
	switch ev.Kind {
	case recorder.EventRecordingStarted:
		a.log.Info("recording started")
	case recorder.EventRecordingStopped:
		a.log.Info("recording stopped", "file", ev.FileName)
	case recorder.EventNewRecordingSaved:
		a.index.add(ev.FileName)
		a.log.Info("recording saved", "file", ev.FileName)
	case recorder.EventRecordingSealFailed:
		a.log.Warn("recording kept under provisional name", "file", ev.FileName, "err", ev.Err)
	case recorder.EventRecordingEnabledChanged:
		a.log.Debug("recording enabled changed", "enabled", ev.Enabled)
	case recorder.EventInputDevicesEnumerated, recorder.EventOutputDevicesEnumerated:
		a.log.Debug("devices enumerated", "kind", ev.Kind, "count", ev.Count)
	}
}
