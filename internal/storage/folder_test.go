package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFolder(t *testing.T) *Folder {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), DefaultFolderName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

func writeString(t *testing.T, f *Folder, name, content string) {
	t.Helper()
	fh, err := f.CreateFile(name)
	if err != nil {
		t.Fatalf("CreateFile(%q): %v", name, err)
	}
	if _, err := io.WriteString(fh, content); err != nil {
		t.Fatalf("write %q: %v", name, err)
	}
	if err := fh.Close(); err != nil {
		t.Fatalf("close %q: %v", name, err)
	}
}

func TestOpen_Logger(t *testing.T) {
	t.Parallel()
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := Open(t.TempDir(), WithLogger(l))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.log != l {
		t.Error("watcher logger not the injected one")
	}
	if newFolder(t).log != slog.Default() {
		t.Error("default logger not slog.Default")
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("folder not created: %v", err)
	}
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") succeeded")
	}
}

func TestMusicDir_HonoursXDG(t *testing.T) {
	t.Setenv("XDG_MUSIC_DIR", "/srv/music")
	got, err := MusicDir()
	if err != nil || got != "/srv/music" {
		t.Errorf("MusicDir = %q, %v", got, err)
	}
}

func TestCreateFile_ReplacesAndReportsBaseName(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	writeString(t, f, "take.wav", "long content")
	writeString(t, f, "take.wav", "short")

	fh, err := f.OpenFile("take.wav")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer fh.Close()
	if fh.Name() != "take.wav" {
		t.Errorf("Name = %q, want base name", fh.Name())
	}
	data, err := io.ReadAll(fh)
	if err != nil || string(data) != "short" {
		t.Errorf("content = %q, %v", data, err)
	}
}

func TestPath_RejectsEscapes(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	for _, name := range []string{"", ".", "..", "../x.wav", "sub/x.wav", `sub\x.wav`} {
		if _, err := f.CreateFile(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateFile(%q): err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestOpenFile_Missing(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	if _, err := f.OpenFile("nope.wav"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestRename_RefusesToOverwrite(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	writeString(t, f, "Recording1.wav", "new")
	writeString(t, f, "20240301_10_15_30.wav", "old")

	err := f.Rename("Recording1.wav", "20240301_10_15_30.wav")
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want fs.ErrExist", err)
	}
	data, _ := os.ReadFile(filepath.Join(f.Dir(), "20240301_10_15_30.wav"))
	if string(data) != "old" {
		t.Error("existing file overwritten")
	}

	if err := f.Rename("Recording1.wav", "20240301_10_15_31.wav"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := f.Stat("Recording1.wav"); !errors.Is(err, fs.ErrNotExist) {
		t.Error("source still present after rename")
	}
}

func TestRemove_MissingIsNotAnError(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	writeString(t, f, "a.wav", "x")
	if err := f.Remove("a.wav"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove("a.wav"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestListFiles_SortedRegularFilesOnly(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	for _, name := range []string{"c.wav", "a.wav", "b.txt"} {
		writeString(t, f, name, name)
	}
	if err := os.Mkdir(filepath.Join(f.Dir(), "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	infos, err := f.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	if fmt.Sprint(names) != "[a.wav b.txt c.wav]" {
		t.Errorf("names = %v", names)
	}
}

func TestWatch_ReportsAddAndRemove(t *testing.T) {
	t.Parallel()
	f := newFolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Change, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- f.Watch(ctx, func(c Change) { changes <- c })
	}()

	// The watcher is registered asynchronously; keep creating files until
	// one of them is reported.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var seen string
	for i := 0; seen == ""; i++ {
		select {
		case c := <-changes:
			if c.Op == ChangeAdded {
				seen = c.Name
			}
		case <-tick.C:
			writeString(t, f, fmt.Sprintf("scratch%d.wav", i), "")
		case <-deadline:
			t.Fatal("no add reported")
		}
	}

	if err := f.Remove(seen); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for {
		select {
		case c := <-changes:
			if c.Op == ChangeRemoved && c.Name == seen {
				cancel()
				if err := <-errc; !errors.Is(err, context.Canceled) {
					t.Errorf("Watch returned %v, want context.Canceled", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no remove reported")
		}
	}
}

func TestChangeOp_String(t *testing.T) {
	t.Parallel()
	if ChangeAdded.String() != "added" || ChangeRemoved.String() != "removed" || ChangeOp(7).String() != "unknown" {
		t.Error("unexpected ChangeOp names")
	}
}
