// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/internal/crc6"
	"github.com/go-lpc/aesop/internal/ring"
)

type fakeTx struct {
	rx    *ring.Channel
	sent  [][]byte
	reply func(cmd []byte) []byte
}

func (tx *fakeTx) Write(p []byte) (int, error) {
	cmd := make([]byte, len(p))
	copy(cmd, p)
	tx.sent = append(tx.sent, cmd)
	if tx.reply != nil {
		tx.rx.Write(tx.reply(cmd))
	}
	return len(p), nil
}

func (tx *fakeTx) TxEmpty() bool { return true }

func newTestLink(reply func(cmd []byte) []byte, opts ...Option) (*Link, *fakeTx, *errlog.Log) {
	elog := errlog.New(log.New(io.Discard, "", 0))
	rx := ring.New(2048, elog, errlog.TkrBufferOverflow)
	tx := &fakeTx{rx: rx, reply: reply}
	opts = append([]Option{
		WithReadTimeout(5 * time.Millisecond),
		WithLogger(log.New(io.Discard, "", 0)),
	}, opts...)
	return NewLink(rx, tx, elog, opts...), tx, elog
}

func count(ents []errlog.Entry, code errlog.Code) int {
	n := 0
	for _, e := range ents {
		if e.Code == code {
			n++
		}
	}
	return n
}

func hitList(brd uint8) []byte {
	return crc6.Append(nil, 32, []byte{HitListID, brd, 0x0A, 0x10})
}

func eventReply(trg uint16, nboards int, lists ...[]byte) []byte {
	out := []byte{5, TypeEvent, byte(trg >> 8), byte(trg), 0x03, 0x40 | byte(nboards)}
	for _, h := range lists {
		out = append(out, byte(len(h)))
		out = append(out, h...)
	}
	return out
}

func TestEcho(t *testing.T) {
	for _, tc := range []struct {
		name   string
		echo   byte
		status int
		errs   int
	}{
		{name: "ok", echo: CmdTrgEnable, status: 0},
		{name: "bad-echo", echo: CmdTrgDisable, status: 1, errs: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lnk, tx, elog := newTestLink(func(cmd []byte) []byte {
				return []byte{4, TypeEcho, 0x01, 0x02, tc.echo}
			})
			resp, err := lnk.Send(0, CmdTrgEnable)
			if err != nil {
				t.Fatalf("could not send command: %+v", err)
			}
			if got, want := tx.sent[0], []byte{0, CmdTrgEnable, 0}; !bytes.Equal(got, want) {
				t.Fatalf("invalid command bytes: got=%x, want=%x", got, want)
			}
			if got, want := resp.Kind, EchoData; got != want {
				t.Fatalf("invalid response kind: got=%v, want=%v", got, want)
			}
			if got, want := resp.Status, tc.status; got != want {
				t.Fatalf("invalid status: got=%d, want=%d", got, want)
			}
			if got, want := resp.CmdCount, uint16(0x0102); got != want {
				t.Fatalf("invalid command count: got=%d, want=%d", got, want)
			}
			ents := elog.Drain()
			if got, want := len(ents), tc.errs; got != want {
				t.Fatalf("invalid number of errors: got=%d, want=%d (%+v)", got, want, ents)
			}
			if tc.errs > 0 && count(ents, errlog.TkrBadEcho) != 1 {
				t.Fatalf("missing bad echo error: %+v", ents)
			}
		})
	}
}

func TestEvent(t *testing.T) {
	lists := [][]byte{hitList(0), hitList(1), hitList(2)}
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		return eventReply(0x1234, len(lists), lists...)
	})
	lnk.SetBoards(3)

	resp, err := lnk.Send(0, CmdReadEvent, 0)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	if resp.Status != 0 {
		t.Fatalf("invalid status: %d (errors: %+v)", resp.Status, elog.Drain())
	}
	evt := resp.Event
	if got, want := evt.TrgCount, uint16(0x1234); got != want {
		t.Fatalf("invalid trigger count: got=0x%x, want=0x%x", got, want)
	}
	if got, want := evt.CmdCount, uint8(3); got != want {
		t.Fatalf("invalid command count: got=%d, want=%d", got, want)
	}
	if got, want := evt.Pattern, uint8(0x40); got != want {
		t.Fatalf("invalid trigger pattern: got=0x%x, want=0x%x", got, want)
	}
	if got, want := len(evt.Boards), len(lists); got != want {
		t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
	}
	for i, brd := range evt.Boards {
		if !bytes.Equal(brd.Hits, lists[i]) {
			t.Fatalf("invalid hit list %d: got=%x, want=%x", i, brd.Hits, lists[i])
		}
		if !brd.CheckCRC() {
			t.Fatalf("invalid CRC for board %d", i)
		}
		if got, want := brd.Tag(), uint8(5); got != want {
			t.Fatalf("invalid tag: got=%d, want=%d", got, want)
		}
		if got, want := brd.Chips(), uint8(1); got != want {
			t.Fatalf("invalid number of chips: got=%d, want=%d", got, want)
		}
	}
	if got, want := elog.Len(), 0; got != want {
		t.Fatalf("unexpected errors: %+v", elog.Drain())
	}
}

func TestEventNumBoards(t *testing.T) {
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		return eventReply(7, 2, hitList(0), hitList(1))
	})
	lnk.SetBoards(4)

	for i := 0; i < 2; i++ {
		resp, err := lnk.Send(0, CmdReadEvent, 0)
		if err != nil {
			t.Fatalf("could not read event: %+v", err)
		}
		if got, want := resp.Status, 56; got != want {
			t.Fatalf("invalid status: got=%d, want=%d", got, want)
		}
		if got, want := len(resp.Event.Boards), 4; got != want {
			t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
		}
		for j, brd := range resp.Event.Boards {
			want := []byte{HitListID, byte(j), 0, DummyNumBoards, 0x30}
			if !bytes.Equal(brd.Hits, want) {
				t.Fatalf("invalid dummy hit list %d: got=%x, want=%x", j, brd.Hits, want)
			}
		}
		if got, want := resp.Event.TrgCount, uint16(7); got != want {
			t.Fatalf("invalid trigger count: got=%d, want=%d", got, want)
		}
	}

	if got, want := count(elog.Drain(), errlog.TkrNumBoards), 1; got != want {
		t.Fatalf("invalid number of board count errors: got=%d, want=%d", got, want)
	}
}

func TestEventBadBoards(t *testing.T) {
	bad := []byte{0xAA, 1, 2, 3, 4}
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		out := eventReply(1, 3, hitList(0))
		out = append(out, 2)              // too short
		out = append(out, byte(len(bad))) // bad identifier
		return append(out, bad...)
	})
	lnk.SetBoards(3)

	resp, err := lnk.Send(0, CmdReadEvent, 0)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	ents := elog.Drain()
	for _, code := range []errlog.Code{errlog.TkrBoardShort, errlog.TkrBadBoardID, errlog.GetTkrData} {
		if count(ents, code) != 1 {
			t.Fatalf("missing %v error: %+v", code, ents)
		}
	}
	if got, want := resp.Event.Boards[1].Hits, DummyHitList(1, DummyBoardShort).Hits; !bytes.Equal(got, want) {
		t.Fatalf("invalid hit list: got=%x, want=%x", got, want)
	}
	if got, want := resp.Event.Boards[2].Hits, DummyHitList(2, DummyBadBoardID).Hits; !bytes.Equal(got, want) {
		t.Fatalf("invalid hit list: got=%x, want=%x", got, want)
	}
}

func TestEventLayerOrder(t *testing.T) {
	swapped := [][]byte{hitList(1), hitList(0)}
	for _, tc := range []struct {
		name   string
		strict bool
	}{
		{"compat", false},
		{"strict", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lnk, _, elog := newTestLink(func(cmd []byte) []byte {
				return eventReply(1, 2, swapped...)
			}, WithStrictLayers(tc.strict))
			lnk.SetBoards(2)

			resp, err := lnk.Send(0, CmdReadEvent, 0)
			if err != nil {
				t.Fatalf("could not read event: %+v", err)
			}
			ents := elog.Drain()
			if got, want := count(ents, errlog.TkrLyrOrder), 2; got != want {
				t.Fatalf("invalid number of layer order errors: got=%d, want=%d", got, want)
			}
			for i, brd := range resp.Event.Boards {
				want := swapped[i]
				if tc.strict {
					want = DummyHitList(uint8(i), DummyLayerOrder).Hits
				}
				if !bytes.Equal(brd.Hits, want) {
					t.Fatalf("invalid hit list %d: got=%x, want=%x", i, brd.Hits, want)
				}
			}
			if got, want := count(ents, errlog.TkrBadConfig) == 1, tc.strict; got != want {
				t.Fatalf("invalid bad config report: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestWrongType(t *testing.T) {
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		return []byte{4, TypeEcho, 0, 0, 1}
	})
	lnk.SetBoards(2)

	resp, err := lnk.Send(0, CmdReadEvent, 0)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	if got, want := resp.Status, 54; got != want {
		t.Fatalf("invalid status: got=%d, want=%d", got, want)
	}
	if got, want := len(resp.Event.Boards), 2; got != want {
		t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
	}
	if count(elog.Drain(), errlog.TkrWrongDataType) != 1 {
		t.Fatalf("missing wrong data type error")
	}
}

func TestResync(t *testing.T) {
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		// leading garbage before the echo.
		return []byte{0x12, TypeHousekeeping, 0x99, 4, TypeEcho, 0, 9, CmdTrgDisable}
	})
	resp, err := lnk.Send(0, CmdTrgDisable)
	if err != nil {
		t.Fatalf("could not send command: %+v", err)
	}
	if got, want := resp.Status, 0; got != want {
		t.Fatalf("invalid status: got=%d, want=%d", got, want)
	}
	if got, want := resp.CmdCount, uint16(9); got != want {
		t.Fatalf("invalid command count: got=%d, want=%d", got, want)
	}
	if count(elog.Drain(), errlog.TkrWrongDataType) != 1 {
		t.Fatalf("missing wrong data type error")
	}
}

func TestHousekeeping(t *testing.T) {
	for _, tc := range []struct {
		name    string
		trailer byte
		want    []byte
		errs    []errlog.Code
	}{
		{name: "ok", trailer: 0x0F, want: []byte{DataReady, 0x0F}},
		{
			name:    "bad-trailer",
			trailer: 0x0E,
			want:    []byte{DataReady, 0x0F},
			errs:    []errlog.Code{errlog.TkrBadTrailer},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lnk, _, elog := newTestLink(func(cmd []byte) []byte {
				return []byte{8, TypeHousekeeping, 2, 0x00, 0x2A, 0x00, CmdEventStatus, DataReady, tc.trailer}
			})
			resp, err := lnk.Send(0, CmdEventStatus)
			if err != nil {
				t.Fatalf("could not send command: %+v", err)
			}
			if got, want := resp.Kind, HousekeepingData; got != want {
				t.Fatalf("invalid kind: got=%v, want=%v", got, want)
			}
			if !bytes.Equal(resp.Data, tc.want) {
				t.Fatalf("invalid data: got=%x, want=%x", resp.Data, tc.want)
			}
			if got, want := resp.CmdCount, uint16(42); got != want {
				t.Fatalf("invalid command count: got=%d, want=%d", got, want)
			}
			ents := elog.Drain()
			if got, want := len(ents), len(tc.errs); got != want {
				t.Fatalf("invalid number of errors: got=%d, want=%d (%+v)", got, want, ents)
			}
			for _, code := range tc.errs {
				if count(ents, code) != 1 {
					t.Fatalf("missing %v error: %+v", code, ents)
				}
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	lnk, tx, elog := newTestLink(nil)
	resp, err := lnk.Send(0, CmdTrgEnable)
	switch {
	case err == nil:
		t.Fatalf("expected an error")
	case !errors.Is(err, ErrTimeout):
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := resp.Status, -1; got != want {
		t.Fatalf("invalid status: got=%d, want=%d", got, want)
	}
	if got, want := len(tx.sent), 1; got != want {
		t.Fatalf("command sent %d times", got)
	}
	ents := elog.Drain()
	if got, want := count(ents, errlog.TkrReadTimeout), 3; got != want {
		t.Fatalf("invalid number of timeouts: got=%d, want=%d", got, want)
	}
	if got, want := count(ents, errlog.GetTkrData), 1; got != want {
		t.Fatalf("invalid number of read errors: got=%d, want=%d", got, want)
	}
	if got, want := lnk.Stats().Timeouts, uint32(3); got != want {
		t.Fatalf("invalid timeout counter: got=%d, want=%d", got, want)
	}
}

func TestUnrecognized(t *testing.T) {
	lnk, _, elog := newTestLink(func(cmd []byte) []byte {
		return []byte{3, 0x99, 1, 2, 3}
	})
	resp, err := lnk.Send(0, CmdTrgEnable)
	if err != nil {
		t.Fatalf("could not send command: %+v", err)
	}
	if got, want := resp.Status, 5; got != want {
		t.Fatalf("invalid status: got=%d, want=%d", got, want)
	}
	if got, want := resp.Data, []byte{1, 2, 3}; !bytes.Equal(got, want) {
		t.Fatalf("invalid data: got=%x, want=%x", got, want)
	}
	if count(elog.Drain(), errlog.TkrBadID) != 1 {
		t.Fatalf("missing bad id error")
	}
}

func TestInvalidCommands(t *testing.T) {
	lnk, tx, elog := newTestLink(nil)

	if _, err := lnk.Send(MaxBoards, CmdTrgEnable); err == nil {
		t.Fatalf("expected an error for an invalid board")
	}
	if _, err := lnk.Send(0, 0xEE); err == nil {
		t.Fatalf("expected an error for an invalid command")
	}
	if got, want := len(tx.sent), 0; got != want {
		t.Fatalf("invalid commands were sent: %x", tx.sent)
	}
	ents := elog.Drain()
	if count(ents, errlog.BadFPGA) != 1 || count(ents, errlog.BadTkrCmd) != 1 {
		t.Fatalf("invalid errors: %+v", ents)
	}

	lnk.SetEnabled(false)
	if _, err := lnk.Send(0, CmdTrgEnable); err != nil {
		t.Fatalf("disabled tracker returned an error: %+v", err)
	}
	if got, want := len(tx.sent), 0; got != want {
		t.Fatalf("command sent to a disabled tracker")
	}
}

func TestNoResponse(t *testing.T) {
	lnk, tx, elog := newTestLink(nil)
	resp, err := lnk.Send(0, CmdLatchRates)
	if err != nil {
		t.Fatalf("could not send command: %+v", err)
	}
	if got, want := resp.Kind, NoResponse; got != want {
		t.Fatalf("invalid kind: got=%v, want=%v", got, want)
	}
	if got, want := len(tx.sent), 1; got != want {
		t.Fatalf("invalid number of commands: got=%d, want=%d", got, want)
	}
	if got, want := elog.Len(), 0; got != want {
		t.Fatalf("unexpected errors: %+v", elog.Drain())
	}
}

func TestSetBoards(t *testing.T) {
	lnk, _, _ := newTestLink(func(cmd []byte) []byte {
		return []byte{4, TypeEcho, 0, 1, CmdSetBoards}
	})
	_, err := lnk.Send(0, CmdSetBoards, 5)
	if err != nil {
		t.Fatalf("could not send command: %+v", err)
	}
	if got, want := lnk.Boards(), 5; got != want {
		t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
	}
}

func TestASICRead(t *testing.T) {
	lnk, _, _ := newTestLink(func(cmd []byte) []byte {
		return []byte{3, 0xA, 0xB, 0xC}
	})
	resp, err := lnk.Send(2, 0x22, 0x03)
	if err != nil {
		t.Fatalf("could not send command: %+v", err)
	}
	if got, want := resp.Data, []byte{3, 0xA, 0xB, 0xC}; !bytes.Equal(got, want) {
		t.Fatalf("invalid data: got=%x, want=%x", got, want)
	}
}
