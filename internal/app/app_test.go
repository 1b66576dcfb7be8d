package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/racecomm/internal/app"
	"github.com/MrWong99/racecomm/internal/config"
	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/internal/recorder"
	"github.com/MrWong99/racecomm/internal/storage"
	"github.com/MrWong99/racecomm/pkg/audio"
	"github.com/MrWong99/racecomm/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// backend joins the audio mocks into a config.AudioBackend.
type backend struct {
	*mock.Enumerator
	*mock.GraphFactory
	closed atomic.Int32
}

func (b *backend) Close() error {
	b.closed.Add(1)
	return nil
}

func newBackend() *backend {
	return &backend{
		Enumerator: &mock.Enumerator{
			Capture: []audio.Device{
				{ID: "mic", Name: "Headset Microphone", IsDefault: true},
				{ID: "line", Name: "Line In"},
			},
			Render: []audio.Device{
				{ID: "spk", Name: "Speakers", IsDefault: true},
				{ID: "radio", Name: "Radio Out"},
			},
		},
		GraphFactory: &mock.GraphFactory{},
	}
}

// testConfig returns defaults with the HTTP server disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "off"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	app     *app.App
	backend *backend
	folder  *storage.Folder
	level   *slog.LevelVar
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	folder, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return newFixtureIn(t, cfg, folder, opts...)
}

func newFixtureIn(t *testing.T, cfg *config.Config, folder *storage.Folder, opts ...app.Option) *fixture {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{backend: newBackend(), folder: folder, level: new(slog.LevelVar)}
	base := []app.Option{
		app.WithBackend(f.backend),
		app.WithFolder(folder),
		app.WithMetrics(metrics),
		app.WithLogger(quietLogger()),
		app.WithLevelVar(f.level),
	}
	f.app, err = app.New(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.app.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return f
}

// captureDevice returns the device bound to the capture node of the newest
// graph.
func (f *fixture) captureDevice(t *testing.T) *audio.Device {
	t.Helper()
	g := f.backend.LastGraph()
	if g == nil {
		t.Fatal("no graph created")
	}
	nodes := g.NodesOf(mock.KindCapture)
	if len(nodes) != 1 {
		t.Fatalf("capture nodes = %d, want 1", len(nodes))
	}
	return nodes[0].Device
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeFile(t *testing.T, path string, size int, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_NeedsBackendOrRegistry(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(), app.WithLogger(quietLogger()))
	if err == nil {
		t.Fatal("expected error without backend and registry")
	}
}

func TestNew_CreatesBackendFromRegistry(t *testing.T) {
	t.Parallel()
	b := newBackend()
	reg := config.NewRegistry()
	reg.RegisterAudio("mock", func(config.AudioConfig) (config.AudioBackend, error) { return b, nil })

	cfg := testConfig()
	cfg.Audio.Backend = "mock"
	cfg.Storage.Dir = t.TempDir()

	a, err := app.New(context.Background(), cfg, app.WithRegistry(reg), app.WithLogger(quietLogger()),
		app.WithMetrics(mustMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := filepath.Join(cfg.Storage.Dir, config.DefaultFolder); a.Folder().Dir() != want {
		t.Errorf("folder = %q, want %q", a.Folder().Dir(), want)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := b.closed.Load(); got != 1 {
		t.Errorf("backend closed %d times, want 1", got)
	}
	// Shutdown is idempotent.
	_ = a.Shutdown(context.Background())
	if got := b.closed.Load(); got != 1 {
		t.Errorf("backend closed %d times after second Shutdown", got)
	}
}

func TestNew_UnregisteredBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Audio.Backend = "pulse"
	_, err := app.New(context.Background(), cfg, app.WithRegistry(config.NewRegistry()), app.WithLogger(quietLogger()))
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestNew_RecoversProvisionalRecordings(t *testing.T) {
	t.Parallel()
	folder, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mod := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	writeFile(t, filepath.Join(folder.Dir(), "Recording7.wav"), 4096, mod)
	writeFile(t, filepath.Join(folder.Dir(), "Recording8.wav"), 44, time.Time{})
	writeFile(t, filepath.Join(folder.Dir(), "20240301_10_15_30.wav"), 4096, time.Time{})

	f := newFixtureIn(t, testConfig(), folder)

	if _, err := folder.Stat("20240506_07_08_09.wav"); err != nil {
		t.Errorf("recovered recording missing: %v", err)
	}
	for _, gone := range []string{"Recording7.wav", "Recording8.wav"} {
		if _, err := folder.Stat(gone); err == nil {
			t.Errorf("%s still present", gone)
		}
	}
	if got := f.app.Recordings(); got != 2 {
		t.Errorf("Recordings() = %d, want 2", got)
	}
}

func mustMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// ── Start ────────────────────────────────────────────────────────────────────

func TestStart_DefaultDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.app.Start(context.Background())

	if got := f.app.Engine().PipelineState(); got != recorder.Live {
		t.Fatalf("pipeline = %v, want live", got)
	}
	if dev := f.captureDevice(t); dev.ID != "mic" {
		t.Errorf("capture device = %q, want mic", dev.ID)
	}
	if out := f.backend.LastGraph().Output; out.ID != "spk" {
		t.Errorf("output device = %q, want spk", out.ID)
	}
	if !f.app.Engine().IsMonitoring() {
		t.Error("monitoring should be on by default")
	}
}

func TestStart_ResolvesByNameAndID(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Audio.InputDevice = "line in"
	cfg.Audio.OutputDevice = "radio"
	f := newFixture(t, cfg)
	f.app.Start(context.Background())

	if dev := f.captureDevice(t); dev.ID != "line" {
		t.Errorf("capture device = %q, want line", dev.ID)
	}
	if out := f.backend.LastGraph().Output; out.ID != "radio" {
		t.Errorf("output device = %q, want radio", out.ID)
	}
}

func TestStart_UnknownDeviceLeavesPipelineDown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Audio.InputDevice = "Webcam"
	f := newFixture(t, cfg)
	f.app.Start(context.Background())

	if got := f.app.Engine().PipelineState(); got != recorder.Unconfigured {
		t.Errorf("pipeline = %v, want unconfigured", got)
	}
	if n := len(f.backend.AllGraphs()); n != 0 {
		t.Errorf("graphs created = %d, want 0", n)
	}
}

func TestStart_MonitoringOff(t *testing.T) {
	t.Parallel()
	off := false
	cfg := testConfig()
	cfg.Audio.Monitor = &off
	f := newFixture(t, cfg)
	f.app.Start(context.Background())

	if f.app.Engine().IsMonitoring() {
		t.Error("monitoring should be off")
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := f.app.Handler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		return rec.Code
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before Start = %d, want 503", code)
	}
	f.app.Start(context.Background())
	if code := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after Start = %d, want 200", code)
	}
	if code := get("/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d", code)
	}
}

// ── Run ──────────────────────────────────────────────────────────────────────

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	eventually(t, "pipeline live", func() bool { return f.app.Engine().PipelineState() == recorder.Live })
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after cancellation")
	}
}

func TestRun_TracksFolderChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.app.Run(ctx)
	}()
	defer func() { cancel(); <-done }()

	// The watcher may start after the first write. Each attempt adds a new
	// file so no event is lost to a remove racing the watch.
	var paths []string
	eventually(t, "recording indexed", func() bool {
		n := len(paths)
		path := filepath.Join(f.folder.Dir(), fmt.Sprintf("20240101_12_%02d_%02d.wav", n/60, n%60))
		writeFile(t, path, 100, time.Time{})
		paths = append(paths, path)
		return f.app.Recordings() > 0
	})

	writeFile(t, filepath.Join(f.folder.Dir(), "notes.txt"), 10, time.Time{})
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
	}
	eventually(t, "recording dropped", func() bool { return f.app.Recordings() == 0 })
}

func TestRun_HotReloadFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "racecomm.yaml")
	initial := "server:\n  listen_addr: \"off\"\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, cfg, app.WithConfigPath(path), app.WithReloadInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.app.Run(ctx)
	}()
	defer func() { cancel(); <-done }()

	eventually(t, "pipeline live", func() bool { return f.app.Engine().PipelineState() == recorder.Live })

	updated := initial + "detection:\n  threshold: 0.3\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	eventually(t, "threshold reload", func() bool { return f.app.Engine().Thresholds().Threshold == 0.3 })
}
