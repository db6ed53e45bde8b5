// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"path/filepath"
	"testing"
)

func TestEEPROM(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "eeprom.img")

	mem, err := OpenEEPROM(fname)
	if err != nil {
		t.Fatalf("could not open EEPROM: %+v", err)
	}

	_, err = mem.WriteAt([]byte{1, 2, 3}, EEPROMSize-3)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	_, err = mem.WriteAt([]byte{1, 2}, EEPROMSize-1)
	if err == nil {
		t.Fatalf("expected a short write error")
	}

	err = mem.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	mem, err = OpenEEPROM(fname)
	if err != nil {
		t.Fatalf("could not re-open EEPROM: %+v", err)
	}
	defer mem.Close()

	p := make([]byte, 3)
	_, err = mem.ReadAt(p, EEPROMSize-3)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := p, []byte{1, 2, 3}; string(got) != string(want) {
		t.Fatalf("invalid content: got=%v, want=%v", got, want)
	}
}

func TestClock(t *testing.T) {
	clk := NewSysClock()
	if got := Elapsed(clk, clk.Ticks()); got > 1 {
		t.Fatalf("invalid elapsed ticks: %d", got)
	}

	var rtc SysRTC
	want := rtc.Now().AddDate(-3, 0, 0)
	err := rtc.Set(want)
	if err != nil {
		t.Fatalf("could not set RTC: %+v", err)
	}
	if got := rtc.Now(); got.Sub(want) > TickPeriod*20 || got.Sub(want) < 0 {
		t.Fatalf("invalid RTC time: got=%v, want=%v", got, want)
	}
}
