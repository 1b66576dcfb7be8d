// Package storage implements the recordings folder on the local file system.
//
// A [Folder] is a flat directory; every operation takes a base file name and
// rejects anything that would escape the folder.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// DefaultFolderName is the folder created under the user's music directory.
const DefaultFolderName = "RaceCommunicator"

// ErrInvalidName is returned for names that are empty or contain a path
// separator.
var ErrInvalidName = errors.New("storage: invalid file name")

// Folder is a scoped directory holding recordings. It is safe for concurrent
// use; the file system provides the synchronisation.
type Folder struct {
	dir string
	log *slog.Logger
}

// Option configures a [Folder].
type Option func(*Folder)

// WithLogger sets the logger used for watcher errors. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(f *Folder) { f.log = l }
}

// MusicDir returns the user's music directory: $XDG_MUSIC_DIR when set,
// otherwise ~/Music.
func MusicDir() (string, error) {
	if dir := os.Getenv("XDG_MUSIC_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("storage: resolve home directory: %w", err)
	}
	return filepath.Join(home, "Music"), nil
}

// Open opens (creating it if needed) the folder at dir.
func Open(dir string, opts ...Option) (*Folder, error) {
	if dir == "" {
		return nil, errors.New("storage: empty folder path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create folder %q: %w", dir, err)
	}
	f := &Folder{dir: dir}
	for _, o := range opts {
		o(f)
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f, nil
}

// Dir returns the absolute or relative path the folder was opened with.
func (f *Folder) Dir() string {
	return f.dir
}

// Path returns the full path of name inside the folder.
func (f *Folder) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(f.dir, name), nil
}

// file adapts *os.File to [audio.File], reporting the base name.
type file struct {
	*os.File
	name string
}

func (f *file) Name() string { return f.name }

// CreateFile creates name for writing, replacing any existing file.
func (f *Folder) CreateFile(name string) (audio.File, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %q: %w", name, err)
	}
	return &file{File: fh, name: name}, nil
}

// OpenFile opens an existing file for reading. A missing file yields an
// error matching [fs.ErrNotExist].
func (f *Folder) OpenFile(name string) (audio.File, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", name, err)
	}
	return &file{File: fh, name: name}, nil
}

// Stat returns file information for name.
func (f *Folder) Stat(name string) (fs.FileInfo, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// Rename moves oldName to newName. It refuses to overwrite an existing file
// and returns an error matching [fs.ErrExist] instead.
func (f *Folder) Rename(oldName, newName string) error {
	from, err := f.Path(oldName)
	if err != nil {
		return err
	}
	to, err := f.Path(newName)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("storage: rename %q to %q: %w", oldName, newName, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: rename %q to %q: %w", oldName, newName, err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("storage: rename %q to %q: %w", oldName, newName, err)
	}
	return nil
}

// Remove deletes name. Removing a missing file is not an error.
func (f *Folder) Remove(name string) error {
	p, err := f.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %q: %w", name, err)
	}
	return nil
}

// ListFiles returns the regular files in the folder sorted by name.
func (f *Folder) ListFiles() ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", f.dir, err)
	}
	out := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b fs.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// ChangeOp classifies a [Change].
type ChangeOp int

const (
	// ChangeAdded is reported when a file appears in the folder, including the
	// target of a rename.
	ChangeAdded ChangeOp = iota

	// ChangeRemoved is reported when a file disappears, including the source
	// of a rename.
	ChangeRemoved
)

// String returns the human-readable name of the operation.
func (op ChangeOp) String() string {
	switch op {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes a file appearing in or disappearing from the folder.
type Change struct {
	Op   ChangeOp
	Name string
}

// Watch reports changes to the folder's entries until ctx is cancelled.
// fn is called sequentially on the watching goroutine and must not block.
// Writes and permission changes are not reported.
func (f *Folder) Watch(ctx context.Context, fn func(Change)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(f.dir); err != nil {
		return fmt.Errorf("storage: watch %q: %w", f.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			switch {
			case ev.Has(fsnotify.Create):
				fn(Change{Op: ChangeAdded, Name: name})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				fn(Change{Op: ChangeRemoved, Name: name})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("storage: watcher error", "dir", f.dir, "err", err)
		}
	}
}
