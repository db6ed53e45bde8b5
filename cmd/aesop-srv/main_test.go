// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/sim"
)

func TestBench(t *testing.T) {
	tmp := t.TempDir()

	want := nominal()
	want.Chips[2][3].Threshold = 42
	raw, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("could not encode configuration: %+v", err)
	}
	image := filepath.Join(tmp, "eeprom.bin")
	err = os.WriteFile(image, raw, 0644)
	if err != nil {
		t.Fatalf("could not write configuration image: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		image string
		want  conddb.Config
		fail  bool
	}{
		{name: "nominal", want: nominal()},
		{name: "image", image: image, want: want},
		{name: "missing", image: filepath.Join(tmp, "missing.bin"), fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := &bench{
				boards: 2,
				seed:   1234,
				rate:   time.Millisecond,
				image:  tc.image,
				msg:    log.New(io.Discard, "", 0),
			}
			defer b.stop()

			cfg, err := b.config()
			switch {
			case err != nil && tc.fail:
				return
			case err != nil:
				t.Fatalf("could not load configuration: %+v", err)
			case tc.fail:
				t.Fatalf("expected an error")
			}
			if cfg != tc.want {
				t.Fatalf("invalid configuration")
			}

			for i := 0; i < 2; i++ {
				dev, err := b.mk(sim.NewOutput(nil))
				if err != nil {
					t.Fatalf("could not create device: %+v", err)
				}
				if dev == nil {
					t.Fatalf("nil device")
				}
			}
		})
	}
}
