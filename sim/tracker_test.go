// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/internal/ring"
	"github.com/go-lpc/aesop/tracker"
)

func newTestLink(t *testing.T, nboards int) (*tracker.Link, *Tracker, *errlog.Log) {
	t.Helper()
	elog := errlog.New(log.New(io.Discard, "", 0))
	rx := ring.New(2048, elog, errlog.TkrBufferOverflow)
	tkr := NewTracker(nboards, WithReadWait(time.Millisecond))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(rx, tkr)
	}()
	t.Cleanup(func() {
		_ = tkr.Close()
		<-done
	})
	lnk := tracker.NewLink(rx, tkr, elog,
		tracker.WithReadTimeout(50*time.Millisecond),
		tracker.WithRetries(1),
		tracker.WithLogger(log.New(io.Discard, "", 0)),
	)
	lnk.SetBoards(nboards)
	return lnk, tkr, elog
}

func TestTrackerHousekeeping(t *testing.T) {
	lnk, _, elog := newTestLink(t, 2)

	resp, err := lnk.Send(0, tracker.CmdVersion)
	if err != nil {
		t.Fatalf("could not read version: %+v", err)
	}
	if got, want := resp.Kind, tracker.HousekeepingData; got != want {
		t.Fatalf("invalid kind: got=%v, want=%v", got, want)
	}
	if got, want := resp.Data, []byte{FirmwareVersion, 0x0F}; string(got) != string(want) {
		t.Fatalf("invalid data: got=%x, want=%x", got, want)
	}

	resp, err = lnk.Send(0, tracker.CmdEventStatus)
	if err != nil {
		t.Fatalf("could not read event status: %+v", err)
	}
	if got, want := resp.Data[0], byte(tracker.DataNotReady); got != want {
		t.Fatalf("invalid status: got=0x%02x, want=0x%02x", got, want)
	}

	if n := elog.Len(); n != 0 {
		t.Fatalf("unexpected errors: %d", n)
	}
}

func TestTrackerEvent(t *testing.T) {
	lnk, tkr, elog := newTestLink(t, 3)

	// disabled trigger.
	tkr.Trigger()
	if got, want := tkr.Pending(), 0; got != want {
		t.Fatalf("invalid pending events: got=%d, want=%d", got, want)
	}

	_, err := lnk.Send(0, tracker.CmdTrgEnable)
	if err != nil {
		t.Fatalf("could not enable trigger: %+v", err)
	}
	if !tkr.Enabled() {
		t.Fatalf("trigger should be enabled")
	}
	tkr.Trigger()
	tkr.Trigger()

	resp, err := lnk.Send(0, tracker.CmdEventStatus)
	if err != nil {
		t.Fatalf("could not read event status: %+v", err)
	}
	if got, want := resp.Data[0], byte(tracker.DataReady); got != want {
		t.Fatalf("invalid status: got=0x%02x, want=0x%02x", got, want)
	}

	for i := 1; i <= 2; i++ {
		resp, err = lnk.Send(0, tracker.CmdReadEvent)
		if err != nil {
			t.Fatalf("could not read event %d: %+v", i, err)
		}
		if resp.Status != 0 {
			t.Fatalf("invalid status for event %d: %d", i, resp.Status)
		}
		evt := resp.Event
		if got, want := evt.TrgCount, uint16(i); got != want {
			t.Fatalf("invalid trigger count: got=%d, want=%d", got, want)
		}
		if got, want := len(evt.Boards), 3; got != want {
			t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
		}
		for brd, h := range evt.Boards {
			if !h.CheckCRC() {
				t.Fatalf("event %d: invalid CRC for board %d", i, brd)
			}
			if got, want := h.Tag(), uint8(i); got != want {
				t.Fatalf("event %d: invalid tag for board %d: got=%d, want=%d", i, brd, got, want)
			}
		}
	}
	if got, want := tkr.Pending(), 0; got != want {
		t.Fatalf("invalid pending events: got=%d, want=%d", got, want)
	}
	if n := elog.Len(); n != 0 {
		t.Fatalf("unexpected errors: %d", n)
	}
}

func TestTrackerASIC(t *testing.T) {
	lnk, tkr, _ := newTestLink(t, 1)

	_, err := lnk.Send(0, tracker.CmdASICThresh, 0x1F, 0x2A)
	if err != nil {
		t.Fatalf("could not load thresholds: %+v", err)
	}
	if got, want := tkr.Threshold(0, 11), uint8(0x2A); got != want {
		t.Fatalf("invalid threshold: got=0x%02x, want=0x%02x", got, want)
	}
	resp, err := lnk.Send(0, tracker.CmdASICReadThresh, 3)
	if err != nil {
		t.Fatalf("could not read threshold: %+v", err)
	}
	typ, thr, err := tracker.DecodeASICThreshold(resp.Data)
	if err != nil {
		t.Fatalf("could not decode threshold: %+v", err)
	}
	if typ != tracker.RegThreshold || thr != 0x2A {
		t.Fatalf("invalid threshold: typ=%d, thr=0x%02x", typ, thr)
	}

	reg := [3]uint8{0x12, 0x34, 0xE0}
	_, err = lnk.Send(0, tracker.CmdASICConfig, 0x1F, reg[0], reg[1], reg[2])
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	tkr.SetASICErrors(0, 5, 1)
	for _, tc := range []struct {
		chip byte
		bad  bool
	}{
		{chip: 4, bad: false},
		{chip: 5, bad: true},
	} {
		resp, err := lnk.Send(0, tracker.CmdASICReadConfig, tc.chip)
		if err != nil {
			t.Fatalf("could not read config: %+v", err)
		}
		cfg, err := tracker.DecodeASICConfig(resp.Data)
		if err != nil {
			t.Fatalf("could not decode config: %+v", err)
		}
		if !cfg.Match(reg) {
			t.Fatalf("chip %d: register mismatch: got=%x, want=%x", tc.chip, cfg.Reg, reg)
		}
		if got, want := cfg.Bad(), tc.bad; got != want {
			t.Fatalf("chip %d: invalid status: got=%v, want=%v", tc.chip, got, want)
		}
	}

	mask := []byte{0xF0, 0, 0, 0, 0, 0, 0, 0x01}
	_, err = lnk.Send(0, tracker.CmdDataMask, append([]byte{2}, mask...)...)
	if err != nil {
		t.Fatalf("could not load data mask: %+v", err)
	}
	resp, err = lnk.Send(0, tracker.CmdASICReadData, 2)
	if err != nil {
		t.Fatalf("could not read data mask: %+v", err)
	}
	_, got, err := tracker.DecodeASICMask(resp.Data)
	if err != nil {
		t.Fatalf("could not decode mask: %+v", err)
	}
	if want := uint64(0xF000000000000001); got != want {
		t.Fatalf("invalid mask: got=0x%016x, want=0x%016x", got, want)
	}
}

func TestTrackerMute(t *testing.T) {
	lnk, tkr, elog := newTestLink(t, 1)
	tkr.Mute(tracker.CmdVersion, 1)

	_, err := lnk.Send(0, tracker.CmdVersion)
	if !errors.Is(err, tracker.ErrTimeout) {
		t.Fatalf("expected a timeout, got: %+v", err)
	}
	if !elog.Has(errlog.TkrReadTimeout) {
		t.Fatalf("missing read timeout error")
	}

	_, err = lnk.Send(0, tracker.CmdVersion)
	if err != nil {
		t.Fatalf("could not read version: %+v", err)
	}
}

func TestTrackerI2C(t *testing.T) {
	lnk, _, _ := newTestLink(t, 1)
	resp, err := lnk.Send(0, tracker.CmdReadI2C, I2CTemp)
	if err != nil {
		t.Fatalf("could not read temperature: %+v", err)
	}
	if got, want := uint16(resp.Data[1])<<8|uint16(resp.Data[2]), uint16(0x1900); got != want {
		t.Fatalf("invalid temperature: got=0x%04x, want=0x%04x", got, want)
	}
}
