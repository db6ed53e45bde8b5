// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type fakeNotifier struct {
	mu    sync.Mutex
	files []string
}

func (n *fakeNotifier) notify(fname string, size int64, idle time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files = append(n.files, fname)
	return nil
}

func (n *fakeNotifier) get() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.files...)
}

func TestCheck(t *testing.T) {
	var (
		alrt = new(fakeNotifier)
		w    = newWatcher("/data", "run-*.dat", time.Minute, alrt)
		now  = time.Date(2023, 6, 15, 14, 0, 0, 0, time.UTC)
	)
	w.now = func() time.Time { return now }

	w.event(fsnotify.Event{Name: "/data/run-1.dat", Op: fsnotify.Create})
	w.event(fsnotify.Event{Name: "/data/run-2.dat", Op: fsnotify.Create})
	w.event(fsnotify.Event{Name: "/data/notes.txt", Op: fsnotify.Create})

	if got, want := len(w.files), 2; got != want {
		t.Fatalf("invalid number of monitored files: got=%d, want=%d", got, want)
	}

	now = now.Add(30 * time.Second)
	w.check()
	if got := alrt.get(); len(got) != 0 {
		t.Fatalf("unexpected alerts: %v", got)
	}

	w.event(fsnotify.Event{Name: "/data/run-2.dat", Op: fsnotify.Write})
	now = now.Add(45 * time.Second)
	w.check()
	if got, want := alrt.get(), []string{"/data/run-1.dat"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid alerts: got=%v, want=%v", got, want)
	}

	for i := 0; i < 10; i++ {
		w.event(fsnotify.Event{Name: "/data/run-2.dat", Op: fsnotify.Write})
		w.check()
	}
	if got, want := len(alrt.get()), 5; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}

	w.event(fsnotify.Event{Name: "/data/run-1.dat", Op: fsnotify.Remove})
	w.check()
	if got, want := len(alrt.get()), 5; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	alrt := new(fakeNotifier)
	w := newWatcher(dir, "*.dat", 50*time.Millisecond, alrt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("could not run watcher: %+v", err)
		}
	}()

	fname := filepath.Join(dir, "run-42.dat")
	deadline := time.Now().Add(10 * time.Second)
	for len(alrt.get()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no alert for %q", fname)
		}
		// the watcher may not be ready for the first writes.
		_ = os.WriteFile(fname, []byte("DAQ"), 0644)
		time.Sleep(200 * time.Millisecond)
	}
	if got, want := alrt.get()[0], fname; got != want {
		t.Fatalf("invalid alert: got=%q, want=%q", got, want)
	}
}

func TestRunFail(t *testing.T) {
	w := newWatcher(filepath.Join(t.TempDir(), "missing"), "*.dat", time.Second, new(fakeNotifier))
	err := w.run(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestTargets(t *testing.T) {
	got := targets(" a@example.com, ,b@example.com")
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid targets: got=%v, want=%v", got, want)
	}
	if got := targets(""); len(got) != 0 {
		t.Fatalf("invalid targets: %v", got)
	}
}
