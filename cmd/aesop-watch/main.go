// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-watch monitors the output directory of the acquisition
// and sends a mail alert when a data file stops growing.
//
// Mail credentials are read from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
//
// Usage:
//
//	$> aesop-watch -dir /data/aesop -glob 'run-*.dat' -freq 30s
package main // import "github.com/go-lpc/aesop/cmd/aesop-watch"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		dir  = flag.String("dir", ".", "directory to monitor")
		glob = flag.String("glob", "*.dat", "pattern of the data files")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
	)

	flag.Parse()

	log.SetPrefix("aesop-watch: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := newWatcher(*dir, *glob, *freq, mailer{})
	err := w.run(ctx)
	if err != nil {
		log.Fatalf("could not monitor %q: %+v", *dir, err)
	}
}

type notifier interface {
	notify(fname string, size int64, idle time.Duration) error
}

type watcher struct {
	dir  string
	glob string
	freq time.Duration
	now  func() time.Time
	alrt notifier

	files  map[string]time.Time // last write of each data file
	alerts map[string]int       // number of alerts per file
}

func newWatcher(dir, glob string, freq time.Duration, alrt notifier) *watcher {
	return &watcher{
		dir:    dir,
		glob:   glob,
		freq:   freq,
		now:    time.Now,
		alrt:   alrt,
		files:  make(map[string]time.Time),
		alerts: make(map[string]int),
	}
}

func (w *watcher) run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create file watcher: %w", err)
	}
	defer fsw.Close()

	err = fsw.Add(w.dir)
	if err != nil {
		return fmt.Errorf("could not watch %q: %w", w.dir, err)
	}

	tick := time.NewTicker(w.freq)
	defer tick.Stop()

	log.Printf("monitoring %q...", filepath.Join(w.dir, w.glob))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.event(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watcher error: %+v", err)
		case <-tick.C:
			w.check()
		}
	}
}

func (w *watcher) match(fname string) bool {
	ok, err := filepath.Match(w.glob, filepath.Base(fname))
	return err == nil && ok
}

func (w *watcher) event(ev fsnotify.Event) {
	if !w.match(ev.Name) {
		return
	}
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.files, ev.Name)
		delete(w.alerts, ev.Name)
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.files[ev.Name] = w.now()
		delete(w.alerts, ev.Name)
	}
}

// check raises an alert for each data file not written to during the
// last probing interval.
func (w *watcher) check() {
	now := w.now()
	for fname, last := range w.files {
		idle := now.Sub(last)
		if idle < w.freq {
			continue
		}
		var size int64
		if fi, err := os.Stat(fname); err == nil {
			size = fi.Size()
		}
		w.alert(fname, size, idle)
	}
}

func (w *watcher) alert(fname string, size int64, idle time.Duration) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, idle, size,
	)
	w.alerts[fname]++

	const maxAlerts = 5
	if w.alerts[fname] > maxAlerts {
		return
	}
	err := w.alrt.notify(fname, size, idle)
	if err != nil {
		log.Printf("could not send alert: %+v", err)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = targets(os.Getenv("MAIL_TGTS"))
)

type mailer struct{}

func (mailer) notify(fname string, size int64, idle time.Duration) error {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		return fmt.Errorf("missing mail credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[aesop-watch] file alert: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf("file: %q\nsize: %d bytes\nidle: %v",
		fname, size, idle,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}

func targets(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
