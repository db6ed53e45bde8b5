// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/aesop/conddb"
)

func TestWriteImage(t *testing.T) {
	var cfg conddb.Config
	cfg.Reg = [3]uint8{0x12, 0x34, 0xE0}
	cfg.Chips[3][11] = conddb.Chip{DataMask: 0xF0, TrgMask: 0x0F, Threshold: 42}

	fname := filepath.Join(t.TempDir(), "eeprom.bin")
	err := writeImage(fname, cfg)
	if err != nil {
		t.Fatalf("could not write image: %+v", err)
	}

	f, err := os.Open(fname)
	if err != nil {
		t.Fatalf("could not open image: %+v", err)
	}
	defer f.Close()

	got, err := conddb.ReadConfig(f)
	if err != nil {
		t.Fatalf("could not read image: %+v", err)
	}
	if got != cfg {
		t.Fatalf("invalid configuration round trip")
	}
}

func TestDisplay(t *testing.T) {
	var cfg conddb.Config
	cfg.Reg = [3]uint8{1, 2, 3}
	cfg.Chips[0][0].Threshold = 7

	out := new(strings.Builder)
	err := display(out, cfg)
	if err != nil {
		t.Fatalf("could not display configuration: %+v", err)
	}

	var got conddb.Config
	err = json.Unmarshal([]byte(out.String()), &got)
	if err != nil {
		t.Fatalf("could not decode output: %+v", err)
	}
	if got != cfg {
		t.Fatalf("invalid JSON configuration")
	}
}
