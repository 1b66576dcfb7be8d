package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/racecomm/internal/recorder"
	"github.com/MrWong99/racecomm/internal/storage"
)

// debugStatusInterval is how often the status line is logged at debug
// level. At info level it is logged every server.status_interval.
const debugStatusInterval = 50 * time.Millisecond

// Status is a snapshot of the recorder for the status line.
type Status struct {
	Pipeline   recorder.PipelineState
	Monitoring bool
	Recording  bool
	Playing    bool
	Loudness   float64
	Threshold  float64
	Recordings int
}

func (s Status) attrs() []any {
	return []any{
		slog.String("pipeline", s.Pipeline.String()),
		slog.Bool("monitoring", s.Monitoring),
		slog.Bool("recording", s.Recording),
		slog.Bool("playing", s.Playing),
		slog.Float64("loudness", s.Loudness),
		slog.Float64("threshold", s.Threshold),
		slog.Int("recordings", s.Recordings),
	}
}

// Status returns the current recorder state.
func (a *App) Status() Status {
	return Status{
		Pipeline:   a.engine.PipelineState(),
		Monitoring: a.engine.IsMonitoring(),
		Recording:  a.engine.IsRecording(),
		Playing:    a.engine.IsPlaying(),
		Loudness:   a.engine.Loudness(),
		Threshold:  a.engine.Thresholds().Threshold,
		Recordings: a.index.len(),
	}
}

func (a *App) statusLoop(ctx context.Context) error {
	t := time.NewTicker(debugStatusInterval)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if now.Sub(last) >= time.Duration(a.statusInterval.Load()) {
				last = now
				a.log.Info("status", a.Status().attrs()...)
				continue
			}
			if a.log.Enabled(ctx, slog.LevelDebug) {
				a.log.Debug("status", a.Status().attrs()...)
			}
		}
	}
}

// ─── Folder index ────────────────────────────────────────────────────────────

// recordingIndex tracks the names of saved recordings, including ones
// copied into or deleted from the folder by hand.
type recordingIndex struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{names: make(map[string]struct{})}
}

func (x *recordingIndex) reset(recs []recorder.SavedRecording) {
	x.mu.Lock()
	defer x.mu.Unlock()
	clear(x.names)
	for _, r := range recs {
		x.names[r.Name] = struct{}{}
	}
}

// add reports whether name was new.
func (x *recordingIndex) add(name string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.names[name]; ok {
		return false
	}
	x.names[name] = struct{}{}
	return true
}

// remove reports whether name was known.
func (x *recordingIndex) remove(name string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.names[name]; !ok {
		return false
	}
	delete(x.names, name)
	return true
}

func (x *recordingIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.names)
}

// Recordings returns the number of saved recordings in the folder.
func (a *App) Recordings() int { return a.index.len() }

// watchFolder keeps the index in line with the folder. Provisional files,
// dot files and other names that are not recordings are ignored.
func (a *App) watchFolder(ctx context.Context) error {
	err := a.folder.Watch(ctx, a.onFolderChange)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		// The recorder works without the index; do not take it down.
		a.log.Warn("folder watcher stopped", "dir", a.folder.Dir(), "err", err)
	}
	return nil
}

func (a *App) onFolderChange(ch storage.Change) {
	if strings.HasPrefix(ch.Name, ".") || !strings.HasSuffix(ch.Name, "."+a.cfg.Storage.Extension) {
		return
	}
	if _, err := recorder.ParseRecordingName(ch.Name); err != nil {
		return
	}
	switch ch.Op {
	case storage.ChangeAdded:
		if a.index.add(ch.Name) {
			a.log.Debug("recording appeared in folder", "file", ch.Name)
		}
	case storage.ChangeRemoved:
		if a.index.remove(ch.Name) {
			a.log.Info("recording removed from folder", "file", ch.Name)
		}
	}
}
