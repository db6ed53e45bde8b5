// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/hw"
)

func newTestInstrument(t *testing.T, nboards int) *Instrument {
	t.Helper()
	var cfg conddb.Config
	cfg.Reg = [3]uint8{1, 2, 3}
	cfg.Chips[2][4].Threshold = 42
	ins, err := NewInstrument(nboards, cfg)
	if err != nil {
		t.Fatalf("could not create instrument: %+v", err)
	}
	return ins
}

func TestGenerator(t *testing.T) {
	ins := newTestInstrument(t, 2)
	gen := NewGenerator(ins, 1234)

	ins.Clock.(*Clock).Advance(1234)
	if !gen.Event() {
		t.Fatalf("trigger signal was not delivered")
	}
	sig := <-ins.Trigger.Signals()
	if got, want := sig.Time, uint32(1234); got != want {
		t.Fatalf("invalid trigger time: got=%d, want=%d", got, want)
	}
	if got, want := sig.Tick, uint8(1234%200); got != want {
		t.Fatalf("invalid trigger tick: got=%d, want=%d", got, want)
	}
	if sig.Status&StatusPMT == 0 {
		t.Fatalf("missing PMT trigger bit: 0x%02x", sig.Status)
	}
	if got, want := ins.Tracker.Pending(), 0; got != want {
		t.Fatalf("disabled trigger reached the tracker: pending=%d", got)
	}

	for i := 0; i < 2; i++ {
		hit := <-ins.TOF.Hits()
		if got, want := hit.Channel, uint8(i); got != want {
			t.Fatalf("invalid TOF channel: got=%d, want=%d", got, want)
		}
		if got, want := hit.Clock, sig.Tick; got != want {
			t.Fatalf("invalid TOF clock: got=%d, want=%d", got, want)
		}
	}
	for ch := 0; ch < hw.NumPMT; ch++ {
		if got, want := ins.Counters.Count(ch), uint32(1); got != want {
			t.Fatalf("invalid singles count on channel %d: got=%d, want=%d", ch, got, want)
		}
		v, err := ins.ADC.Read(ch)
		if err != nil {
			t.Fatalf("could not read ADC %d: %+v", ch, err)
		}
		if v < 200 {
			t.Fatalf("invalid ADC value on channel %d: %d", ch, v)
		}
	}

	ins.Trigger.Enable(true)
	ins.Tracker.Enable(true)
	gen.Event()
	if got, want := ins.Tracker.Pending(), 1; got != want {
		t.Fatalf("invalid pending events: got=%d, want=%d", got, want)
	}
}

func TestPeripherals(t *testing.T) {
	ins := newTestInstrument(t, 1)

	cfg, err := conddb.ReadConfig(ins.EEPROM)
	if err != nil {
		t.Fatalf("could not read configuration: %+v", err)
	}
	if got, want := cfg.Chips[2][4].Threshold, uint8(42); got != want {
		t.Fatalf("invalid threshold: got=%d, want=%d", got, want)
	}

	if err := ins.DAC.Load(hw.DACTOF1, 0x1234); err != nil {
		t.Fatalf("could not load DAC: %+v", err)
	}
	v, err := ins.DAC.Read(hw.DACTOF1)
	if err != nil {
		t.Fatalf("could not read DAC: %+v", err)
	}
	if got, want := v, uint16(0x234); got != want {
		t.Fatalf("invalid DAC value: got=0x%x, want=0x%x", got, want)
	}
	if err := ins.DAC.Load(0x0D, 1); !errors.Is(err, hw.ErrNoSuchDAC) {
		t.Fatalf("expected an invalid DAC error, got: %+v", err)
	}

	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := ins.RTC.Set(want); err != nil {
		t.Fatalf("could not set RTC: %+v", err)
	}
	if got := ins.RTC.Now(); !got.Equal(want) {
		t.Fatalf("invalid RTC: got=%v, want=%v", got, want)
	}

	ins.Output.SetBusy(true)
	if !ins.Output.Busy() {
		t.Fatalf("output should be busy")
	}
	_, _ = ins.Output.Write([]byte("abc"))
	if got, want := string(ins.Output.Bytes()), "abc"; got != want {
		t.Fatalf("invalid output: got=%q, want=%q", got, want)
	}

	errADC := errors.New("adc failure")
	ins.ADC.Fail(3, errADC)
	if _, err := ins.ADC.Read(3); !errors.Is(err, errADC) {
		t.Fatalf("expected an ADC failure, got: %+v", err)
	}
}
