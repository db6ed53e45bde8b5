// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/aesop/tracker"
)

// Unmarshal decodes an event record. debug tells whether the record
// carries the TOF debug block.
func Unmarshal(p []byte, debug bool, rec *Record) error {
	r := reader{p: p}
	var hdr [4]byte
	r.read(hdr[:])
	if r.err != nil {
		return fmt.Errorf("event: could not read event header: %w", r.err)
	}
	if hdr != evtHeader {
		return fmt.Errorf("event: invalid event header (got=%q)", hdr[:])
	}

	rec.Run = r.u16()
	rec.Trigger = r.u32()
	rec.Time = r.u32()
	rec.Dead = r.u32()
	rec.Wall = r.u32()
	rec.Status = r.u8()
	for i := range rec.ADC {
		rec.ADC[i] = r.u16()
	}
	rec.TOF = int16(r.u16())
	rec.TkrTrg = r.u16()
	rec.TkrCmd = r.u8()
	rec.Pattern = r.u8()
	rec.Debug = nil
	if debug {
		rec.Debug = &Debug{
			NA:   r.u8(),
			NB:   r.u8(),
			RefA: r.u16(),
			RefB: r.u16(),
			ClkA: r.u16(),
			ClkB: r.u16(),
		}
	}
	n := int(r.u8())
	if r.err != nil {
		return fmt.Errorf("event: could not read event: %w", r.err)
	}

	rec.Boards = make([]tracker.HitList, n)
	for i := range rec.Boards {
		nb := int(r.u8())
		hits := make([]byte, nb)
		r.read(hits)
		if r.err != nil {
			return fmt.Errorf("event: could not read hit list of board %d: %w", i, r.err)
		}
		rec.Boards[i] = tracker.HitList{Board: uint8(i), Hits: hits}
		if nb > 1 {
			rec.Boards[i].Board = hits[1]
		}
	}

	var tlr [4]byte
	r.read(tlr[:])
	if r.err != nil {
		return fmt.Errorf("event: could not read event trailer: %w", r.err)
	}
	if tlr != evtTrailer {
		return fmt.Errorf("event: invalid event trailer (got=%q)", tlr[:])
	}
	return nil
}

// reader is a sticky-error big-endian reader over a byte slice.
type reader struct {
	p   []byte
	c   int
	err error
}

func (r *reader) read(p []byte) {
	if r.err != nil {
		return
	}
	if r.c+len(p) > len(r.p) {
		r.err = io.ErrUnexpectedEOF
		return
	}
	copy(p, r.p[r.c:])
	r.c += len(p)
}

func (r *reader) u8() uint8 {
	var b [1]byte
	r.read(b[:])
	return b[0]
}

func (r *reader) u16() uint16 {
	var b [2]byte
	r.read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (r *reader) u32() uint32 {
	var b [4]byte
	r.read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (r *reader) tag(want []byte) {
	if r.err != nil {
		return
	}
	got := make([]byte, len(want))
	r.read(got)
	if r.err == nil && !bytes.Equal(got, want) {
		r.err = fmt.Errorf("invalid record tag (got=%q, want=%q)", got, want)
	}
}
