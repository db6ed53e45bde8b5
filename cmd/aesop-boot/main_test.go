// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseBoot(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		want [][]string
		err  string
	}{
		{
			name: "simple",
			raw: `# boot file
aesop-daq -cfg /etc/aesop/daq.toml

   aesop-watch  -dir /data
`,
			want: [][]string{
				{"aesop-daq", "-cfg", "/etc/aesop/daq.toml"},
				{"aesop-watch", "-dir", "/data"},
			},
		},
		{
			name: "empty",
			raw:  "# nothing\n\n",
			err:  "empty boot file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBoot(strings.NewReader(tc.raw))
			switch {
			case err != nil && tc.err != "":
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
				}
				return
			case err != nil:
				t.Fatalf("could not parse boot file: %+v", err)
			case tc.err != "":
				t.Fatalf("expected an error")
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid commands:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}
}

func TestRun(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("could not find sleep: %+v", err)
	}

	for _, tc := range []struct {
		name string
		cmds [][]string
		mon  bool
		stop bool
		err  error
	}{
		{
			name: "exit",
			cmds: [][]string{
				{sleep, "1"},
				{sleep, "10"},
			},
			err: errStopped,
		},
		{
			name: "exit-pmon",
			cmds: [][]string{
				{sleep, "2"},
				{sleep, "10"},
			},
			mon: true,
			err: errStopped,
		},
		{
			name: "stop",
			cmds: [][]string{
				{sleep, "10"},
				{sleep, "10"},
			},
			stop: true,
		},
		{
			name: "stop-pmon",
			cmds: [][]string{
				{sleep, "10"},
				{sleep, "10"},
			},
			stop: true,
			mon:  true,
		},
		{
			name: "missing",
			cmds: [][]string{
				{filepath.Join(t.TempDir(), "no-such-cmd")},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.stop {
				go func() {
					time.Sleep(1 * time.Second)
					cancel()
				}()
			}

			start := time.Now()
			err := run(ctx, tc.mon, 100*time.Millisecond, tc.cmds, dir)
			if time.Since(start) > 8*time.Second {
				t.Fatalf("processes were not killed")
			}
			switch {
			case tc.name == "missing":
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
				}
			case err != nil:
				t.Fatalf("could not run processes: %+v", err)
			}

			if _, err := os.Stat(filepath.Join(dir, "sleep.log")); err != nil {
				t.Fatalf("missing log file: %+v", err)
			}
			if tc.mon {
				if _, err := os.Stat(filepath.Join(dir, "sleep-pmon.log")); err != nil {
					t.Fatalf("missing pmon log file: %+v", err)
				}
			}
		})
	}
}
