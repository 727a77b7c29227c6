package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 50 * time.Millisecond

func TestWatch_ReportsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("port: 1\n"), 0644)

	w := New(testDebounce)
	defer w.Shutdown()

	changed := make(chan string, 4)
	if err := w.Watch(path, func(p string) { changed <- p }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	os.WriteFile(path, []byte("port: 2\n"), 0644)

	select {
	case got := <-changed:
		if filepath.Base(got) != "config.yaml" {
			t.Errorf("unexpected path %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatch_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, nil, 0644)

	w := New(200 * time.Millisecond)
	defer w.Shutdown()

	var calls atomic.Int32
	if err := w.Watch(path, func(string) { calls.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		os.WriteFile(path, []byte{byte('a' + i)}, 0644)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(time.Second)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected one debounced change, got %d", got)
	}
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, nil, 0644)

	w := New(testDebounce)
	defer w.Shutdown()

	var calls atomic.Int32
	if err := w.Watch(path, func(string) { calls.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644)
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no change for a sibling file, got %d", got)
	}
}

func TestWatch_CreatedAfterWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.yaml")

	w := New(testDebounce)
	defer w.Shutdown()

	changed := make(chan string, 4)
	if err := w.Watch(path, func(p string) { changed <- p }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	os.WriteFile(path, []byte("x"), 0644)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("creation not reported")
	}
}

func TestUnwatch_StopsReporting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, nil, 0644)

	w := New(testDebounce)
	defer w.Shutdown()

	var calls atomic.Int32
	if err := w.Watch(path, func(string) { calls.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w.Unwatch(path)
	w.Unwatch(path)

	os.WriteFile(path, []byte("x"), 0644)
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no changes after Unwatch, got %d", got)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	w := New(0)
	defer w.Shutdown()
	if err := w.Watch(filepath.Join(t.TempDir(), "no", "such", "file.yaml"), func(string) {}); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
