package recorder_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/internal/recorder"
	"github.com/MrWong99/racecomm/internal/storage"
	"github.com/MrWong99/racecomm/pkg/audio"
	"github.com/MrWong99/racecomm/pkg/audio/mock"
)

// eventLog records every event published on a bus.
type eventLog struct {
	mu     sync.Mutex
	events []recorder.Event
}

func (l *eventLog) record(ev recorder.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofKind(kind recorder.EventKind) []recorder.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []recorder.Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(kind recorder.EventKind) int {
	return len(l.ofKind(kind))
}

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// block returns a 10ms block whose samples all have magnitude level.
func block(level float32) audio.Block {
	buf := make([]byte, 441*4)
	for i := 0; i < len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(level))
	}
	return audio.Block{Data: buf, Duration: 10 * time.Millisecond}
}

// harness is an engine wired to mock audio and a real folder in a temp dir.
type harness struct {
	enum   *mock.Enumerator
	graphs *mock.GraphFactory
	folder *storage.Folder
	clock  *fakeClock
	events *eventLog
	reader *sdkmetric.ManualReader
	engine *recorder.Engine
}

func newHarness(t *testing.T, opts ...recorder.Option) *harness {
	t.Helper()
	folder, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		enum: &mock.Enumerator{
			Capture: []audio.Device{{ID: "mic", Name: "Headset Microphone", IsDefault: true}},
			Render:  []audio.Device{{ID: "spk", Name: "Speakers", IsDefault: true}, {ID: "radio", Name: "Radio Out"}},
		},
		graphs: &mock.GraphFactory{},
		folder: folder,
		clock:  &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)},
		events: &eventLog{},
		reader: reader,
	}
	base := []recorder.Option{
		recorder.WithClock(h.clock.Now),
		recorder.WithMetrics(metrics),
		recorder.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.engine = recorder.New(h.enum, h.graphs, folder, append(base, opts...)...)
	h.engine.Subscribe(h.events.record)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// selectDefaults enumerates both directions and selects the first devices.
func (h *harness) selectDefaults(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, dir := range []audio.Direction{audio.Capture, audio.Render} {
		if err := h.engine.Enumerate(ctx, dir, false); err != nil {
			t.Fatalf("Enumerate(%v): %v", dir, err)
		}
	}
	if err := h.engine.SelectInput(h.engine.Catalog().Devices(audio.Capture)[0]); err != nil {
		t.Fatalf("SelectInput: %v", err)
	}
	if err := h.engine.SelectOutput(h.engine.Catalog().Devices(audio.Render)[0]); err != nil {
		t.Fatalf("SelectOutput: %v", err)
	}
}

// configure selects the default devices, builds the pipeline and returns its
// graph.
func (h *harness) configure(t *testing.T) *mock.Graph {
	t.Helper()
	h.selectDefaults(t)
	if err := h.engine.Configure(context.Background()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return h.graphs.LastGraph()
}

// feed delivers n blocks at level to g.
func feed(t *testing.T, g *mock.Graph, level float32, n int) {
	t.Helper()
	for range n {
		if !g.Deliver(block(level)) {
			t.Fatal("no block observer registered")
		}
	}
}

// files returns the names in the folder.
func (h *harness) files(t *testing.T) []string {
	t.Helper()
	infos, err := h.folder.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names
}
