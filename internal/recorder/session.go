package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// Store is the recordings folder. Names are base names inside the folder.
type Store interface {
	// CreateFile creates name, replacing an existing file.
	CreateFile(name string) (audio.File, error)

	// OpenFile opens name for reading. A missing file yields an error
	// matching [fs.ErrNotExist].
	OpenFile(name string) (audio.File, error)

	Stat(name string) (fs.FileInfo, error)

	// Rename moves oldName to newName and fails if newName exists.
	Rename(oldName, newName string) error

	Remove(name string) error

	ListFiles() ([]fs.FileInfo, error)
}

// sealJob is a stopped recording waiting to be finalised and renamed.
type sealJob struct {
	node    audio.Node
	from    string
	to      string
	started time.Time
	stopped time.Time
}

// Sessions keeps a paused file sink attached to the capture node while the
// pipeline is live, un-pauses it when speech starts, and rotates it when
// speech stops. Stopped recordings are finalised and renamed on a background
// sealer goroutine so the audio callback never waits for the file system.
type Sessions struct {
	store   Store
	profile audio.EncodingProfile
	now     func() time.Time
	bus     *Bus
	metrics *observe.Metrics
	log     *slog.Logger

	mu        sync.Mutex
	graph     audio.Graph
	capture   audio.Node
	sink      audio.Node
	sinkName  string
	seq       uint64
	recording bool
	started   time.Time
	busy      map[string]struct{}

	qmu     sync.Mutex
	queue   []sealJob
	closing bool
	wake    chan struct{}
	done    chan struct{}
	pending sync.WaitGroup
}

func newSessions(store Store, profile audio.EncodingProfile, now func() time.Time, bus *Bus, m *observe.Metrics, log *slog.Logger) *Sessions {
	s := &Sessions{
		store:   store,
		profile: profile,
		now:     now,
		bus:     bus,
		metrics: m,
		log:     log,
		busy:    make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.runSealer()
	return s
}

// ─── Sink lifecycle ───────────────────────────────────────────────────────────

// newSink creates a paused file writer on g under the next free provisional
// name. Names left behind by an earlier run are skipped, never replaced.
// Callers hold s.mu or own s exclusively.
func (s *Sessions) newSink(ctx context.Context, g audio.Graph) (audio.Node, string, error) {
	ext := s.profile.Extension()
	var name string
	for {
		s.seq++
		name = provisionalName(s.seq, ext)
		if _, busy := s.busy[name]; busy {
			continue
		}
		if _, err := s.store.Stat(name); err != nil {
			break
		}
	}

	f, err := s.store.CreateFile(name)
	if err != nil {
		return nil, "", &NodeError{Kind: NodeFileWriter, Err: err}
	}
	node, err := g.CreateFileWriterNode(ctx, f, s.profile)
	if err != nil {
		_ = f.Close()
		_ = s.store.Remove(name)
		return nil, "", &NodeError{Kind: NodeFileWriter, Err: err}
	}
	s.busy[name] = struct{}{}
	if err := node.Stop(); err != nil {
		s.discardLocked(node, name)
		return nil, "", &NodeError{Kind: NodeFileWriter, Err: fmt.Errorf("pause: %w", err)}
	}
	return node, name, nil
}

// prepare creates the first sink of a pipeline under construction.
func (s *Sessions) prepare(ctx context.Context, g audio.Graph) (audio.Node, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newSink(ctx, g)
}

// discard closes a sink that never recorded and removes its file.
func (s *Sessions) discard(node audio.Node, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked(node, name)
}

func (s *Sessions) discardLocked(node audio.Node, name string) {
	if err := node.Close(); err != nil {
		s.log.Warn("recorder: close unused file sink", "file", name, "err", err)
	}
	if err := s.store.Remove(name); err != nil {
		s.log.Warn("recorder: remove unused recording", "file", name, "err", err)
	}
	delete(s.busy, name)
}

// bind hands a wired sink to the session manager. sink must already be
// attached to capture.
func (s *Sessions) bind(g audio.Graph, capture, sink audio.Node, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph, s.capture, s.sink, s.sinkName = g, capture, sink, name
	s.recording = false
}

// unbind releases the sink before the pipeline is torn down. A recording in
// progress is sealed; an unused sink is discarded.
func (s *Sessions) unbind() {
	s.mu.Lock()
	sink, name, recording, started := s.sink, s.sinkName, s.recording, s.started
	capture := s.capture
	s.graph, s.capture, s.sink, s.sinkName = nil, nil, nil, ""
	s.recording = false
	s.mu.Unlock()

	if sink == nil {
		return
	}
	_ = capture.Detach(sink)
	if !recording {
		s.discard(sink, name)
		return
	}
	_ = sink.Stop()
	stopped := s.now()
	s.enqueue(sealJob{node: sink, from: name, to: RecordingName(stopped, s.profile.Extension()), started: started, stopped: stopped})
}

// ─── Transitions ──────────────────────────────────────────────────────────────

// start un-pauses the current sink. It is a no-op returning false when a
// recording is already running or no sink is bound.
func (s *Sessions) start() bool {
	s.mu.Lock()
	if s.recording || s.sink == nil {
		s.mu.Unlock()
		return false
	}
	name := s.sinkName
	if err := s.sink.Start(); err != nil {
		s.mu.Unlock()
		s.log.Error("recorder: start file sink", "file", name, "err", err)
		return false
	}
	s.recording = true
	s.started = s.now()
	s.mu.Unlock()

	s.metrics.RecordingsStarted.Add(context.Background(), 1)
	s.log.Info("recording started", "file", name)
	s.bus.Publish(Event{Kind: EventRecordingStarted, FileName: name})
	return true
}

// stop pauses the current sink, wires a fresh paused sink in its place, and
// queues the old one for sealing under the name derived from the stop time.
// It is a no-op returning false when no recording is running.
func (s *Sessions) stop() bool {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return false
	}
	stopped := s.now()
	old, oldName, started := s.sink, s.sinkName, s.started
	s.recording = false
	if err := old.Stop(); err != nil {
		s.log.Warn("recorder: pause file sink", "file", oldName, "err", err)
	}
	_ = s.capture.Detach(old)

	next, nextName, err := s.newSink(context.Background(), s.graph)
	if err == nil {
		if err = s.capture.Attach(next); err != nil {
			s.discardLocked(next, nextName)
			next, nextName = nil, ""
		}
	}
	if err != nil {
		// Without a sink further speech is not recorded until the pipeline is
		// configured again.
		s.log.Error("recorder: replace file sink", "err", err)
	}
	s.sink, s.sinkName = next, nextName
	s.mu.Unlock()

	to := RecordingName(stopped, s.profile.Extension())
	s.enqueue(sealJob{node: old, from: oldName, to: to, started: started, stopped: stopped})
	s.log.Info("recording stopped", "file", oldName, "target", to, "length", stopped.Sub(started))
	s.bus.Publish(Event{Kind: EventRecordingStopped, FileName: to})
	return true
}

// IsRecording reports whether the file sink is currently writing.
func (s *Sessions) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// ─── Sealer ───────────────────────────────────────────────────────────────────

func (s *Sessions) enqueue(j sealJob) {
	s.pending.Add(1)
	s.qmu.Lock()
	if s.closing {
		s.qmu.Unlock()
		s.seal(j)
		return
	}
	s.queue = append(s.queue, j)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sessions) runSealer() {
	defer close(s.done)
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.qmu.Unlock()
			if closing {
				return
			}
			<-s.wake
			continue
		}
		j := s.queue[0]
		s.queue = slices.Delete(s.queue, 0, 1)
		s.qmu.Unlock()
		s.seal(j)
	}
}

// seal finalises the container and moves the file to its canonical name. On
// rename failure the audio stays under its provisional name.
func (s *Sessions) seal(j sealJob) {
	defer s.pending.Done()
	ctx, span := observe.StartSpan(context.Background(), "recorder.seal",
		trace.WithAttributes(attribute.String("from", j.from), attribute.String("to", j.to)))
	log := observe.Logger(ctx, s.log)

	if err := j.node.Close(); err != nil {
		log.Warn("recorder: finalise recording", "file", j.from, "err", err)
	}
	err := s.store.Rename(j.from, j.to)

	s.mu.Lock()
	delete(s.busy, j.from)
	s.mu.Unlock()

	if err != nil {
		rerr := &RenameError{From: j.from, To: j.to, Err: err}
		observe.EndSpan(span, rerr)
		log.Error("recorder: recording kept under provisional name", "file", j.from, "target", j.to, "err", err)
		s.metrics.SealFailures.Add(ctx, 1)
		s.bus.Publish(Event{Kind: EventRecordingSealFailed, FileName: j.from, Err: rerr})
		return
	}
	observe.EndSpan(span, nil)
	s.metrics.RecordingsSaved.Add(ctx, 1)
	s.metrics.RecordingDuration.Record(ctx, j.stopped.Sub(j.started).Seconds())
	log.Info("recording saved", "file", j.to)
	s.bus.Publish(Event{Kind: EventNewRecordingSaved, FileName: j.to})
}

// Flush blocks until every queued recording has been sealed.
func (s *Sessions) Flush() {
	s.pending.Wait()
}

// close seals the remaining queue and stops the sealer goroutine.
func (s *Sessions) close() {
	s.qmu.Lock()
	if s.closing {
		s.qmu.Unlock()
		<-s.done
		return
	}
	s.closing = true
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

// ─── Folder queries ───────────────────────────────────────────────────────────

// SavedRecording is a sealed recording in the store.
type SavedRecording struct {
	Name string
	Time time.Time
	Size int64
}

// Recordings lists the sealed recordings with the profile's extension,
// oldest first. Provisional files are not listed.
func (s *Sessions) Recordings(ctx context.Context) ([]SavedRecording, error) {
	files, err := s.store.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("recorder: list recordings: %w", err)
	}
	suffix := "." + s.profile.Extension()
	var out []SavedRecording
	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fi.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		t, err := ParseRecordingName(name)
		if err != nil {
			continue
		}
		out = append(out, SavedRecording{Name: name, Time: t, Size: fi.Size()})
	}
	slices.SortFunc(out, func(a, b SavedRecording) int { return a.Time.Compare(b.Time) })
	return out, nil
}

// emptyContainerSize is the largest provisional file that holds no audio
// (a bare WAV header).
const emptyContainerSize = 44

// RecoverProvisional seals provisional files that are not in use, such as
// leftovers of a crash or a failed rename. Each is named after its
// modification time; files holding no audio are removed instead. It returns
// the canonical names of the recovered recordings.
func (s *Sessions) RecoverProvisional(ctx context.Context) ([]string, error) {
	files, err := s.store.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("recorder: list recordings: %w", err)
	}
	ext := s.profile.Extension()
	var (
		recovered []string
		errs      []error
	)
	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		name := fi.Name()
		if !isProvisional(name, ext) {
			continue
		}
		s.mu.Lock()
		_, busy := s.busy[name]
		s.mu.Unlock()
		if busy {
			continue
		}
		if fi.Size() <= emptyContainerSize {
			if err := s.store.Remove(name); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		to := RecordingName(fi.ModTime(), ext)
		if err := s.store.Rename(name, to); err != nil {
			errs = append(errs, &RenameError{From: name, To: to, Err: err})
			continue
		}
		s.log.Info("recovered recording", "file", name, "target", to)
		s.bus.Publish(Event{Kind: EventNewRecordingSaved, FileName: to})
		recovered = append(recovered, to)
	}
	return recovered, errors.Join(errs...)
}
