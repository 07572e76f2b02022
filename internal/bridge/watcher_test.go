package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestNewWatcher_Dirs(t *testing.T) {
	w := NewWatcher([]string{"/a/Items.data", "/a/Devices.data", "/b/x.data"}, func(string) {})
	if len(w.dirs) != 2 || w.dirs[0] != "/a" || w.dirs[1] != "/b" {
		t.Errorf("dirs = %v, want [/a /b]", w.dirs)
	}
}

func TestWatcher_Handle(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write to watched file", fsnotify.Event{Name: "/a/Items.data", Op: fsnotify.Write}, true},
		{"create of watched file", fsnotify.Event{Name: "/a/Items.data", Op: fsnotify.Create}, true},
		{"unclean path", fsnotify.Event{Name: "/a/./Items.data", Op: fsnotify.Write}, true},
		{"chmod ignored", fsnotify.Event{Name: "/a/Items.data", Op: fsnotify.Chmod}, false},
		{"remove ignored", fsnotify.Event{Name: "/a/Items.data", Op: fsnotify.Remove}, false},
		{"other file ignored", fsnotify.Event{Name: "/a/Items.data.tmp", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			w := NewWatcher([]string{"/a/Items.data"}, func(p string) { got = p })
			w.handle(tt.ev)
			if (got != "") != tt.want {
				t.Errorf("triggered = %v, want %v", got != "", tt.want)
			}
			if tt.want && got != "/a/Items.data" {
				t.Errorf("path = %q", got)
			}
		})
	}
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Items.data")

	changed := make(chan string, 10)
	w := NewWatcher([]string{path}, func(p string) { changed <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Give fsnotify time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[]"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got != path {
			t.Errorf("changed path = %q, want %q", got, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing", "Items.data")}, func(string) {})
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() on missing directory expected error")
	}
}
