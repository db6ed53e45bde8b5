// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errlog

import (
	"bytes"
	"io"
	"log"
	"testing"
)

func newTestLog() *Log {
	return New(log.New(io.Discard, "errlog: ", 0))
}

func TestAdd(t *testing.T) {
	el := newTestLog()
	el.Add(BadCmd, 1, 2)
	el.Add(BadCmd, 1, 2)

	if got, want := el.Len(), 2; got != want {
		t.Fatalf("invalid number of entries: got=%d, want=%d", got, want)
	}
}

func TestAddOnce(t *testing.T) {
	el := newTestLog()
	el.AddOnce(TkrNumBoards, 3, 0)
	el.AddOnce(TkrNumBoards, 4, 0)

	if got, want := el.Len(), 1; got != want {
		t.Fatalf("invalid number of entries: got=%d, want=%d", got, want)
	}

	ents := el.Drain()
	if got, want := ents[0], (Entry{TkrNumBoards, 3, 0}); got != want {
		t.Fatalf("invalid entry: got=%+v, want=%+v", got, want)
	}
}

func TestCapacity(t *testing.T) {
	el := newTestLog()
	for i := 0; i < Capacity+10; i++ {
		el.Add(TkrBadEcho, uint8(i), 0)
	}
	if got, want := el.Len(), Capacity; got != want {
		t.Fatalf("invalid number of entries: got=%d, want=%d", got, want)
	}

	el.AddOnce(CmdTimeout, 0, 0)
	if el.Has(CmdTimeout) {
		t.Fatalf("full log accepted a new entry")
	}
}

func TestDrain(t *testing.T) {
	el := newTestLog()

	if got, want := Bytes(el.Drain()), []byte{0x00, 0xEE, 0xFF}; !bytes.Equal(got, want) {
		t.Fatalf("invalid empty encoding: got=%x, want=%x", got, want)
	}

	el.Add(BadCmdFormat, 0x53, 0x57)
	el.Add(CmdTimeout, 0x07, 0x00)

	got := Bytes(el.Drain())
	want := []byte{37, 0x53, 0x57, 30, 0x07, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("invalid encoding: got=%x, want=%x", got, want)
	}

	if got, want := el.Len(), 0; got != want {
		t.Fatalf("log not cleared: got=%d, want=%d", got, want)
	}
}

func TestCodeString(t *testing.T) {
	for _, tc := range []struct {
		code Code
		want string
	}{
		{DACLoad, "DAC_LOAD"},
		{TkrWrongDataType, "TRK_WRONG_DATA_TYPE"},
		{BadFPGA, "BAD_FPGA"},
		{Code(0), "Code(0)"},
		{Code(200), "Code(200)"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got, want := tc.code.String(), tc.want; got != want {
				t.Fatalf("invalid name: got=%q, want=%q", got, want)
			}
		})
	}
}
