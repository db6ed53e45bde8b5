// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event serializes event records and the other records sent
// out by the acquisition core, and frames them into output packets.
package event // import "github.com/go-lpc/aesop/event"

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/tracker"
)

// MaxLen is the size of the event output buffer.
const MaxLen = 255

var (
	evtHeader  = [4]byte{'Z', 'E', 'R', 'O'}
	evtTrailer = [4]byte{'F', 'I', 'N', 'I'}
)

// Debug holds the TOF correlation details appended to debug events.
type Debug struct {
	NA, NB     uint8  // candidate hits of channels A and B
	RefA, RefB uint16 // reference clocks of the best pair
	ClkA, ClkB uint16 // local clocks of the best pair
}

// Record is an event record.
type Record struct {
	Run     uint16
	Trigger uint32 // accepted trigger count
	Time    uint32 // trigger time stamp, in clock ticks
	Dead    uint32 // triggers seen while the trigger was disabled
	Wall    uint32 // packed wall-clock time, see PackTime
	Status  uint8  // trigger status
	ADC     [5]uint16
	TOF     int16 // TOF time difference, in 10 ps units
	TkrTrg  uint16
	TkrCmd  uint8
	Pattern uint8  // tracker trigger pattern and event status
	Debug   *Debug // optional TOF debug block
	Boards  []tracker.HitList
}

// ADC channel order in the record.
const (
	T1 = iota
	T2
	T3
	T4
	G
)

// Encoder serializes event records into the fixed-size output buffer,
// truncating the tracker data when it does not fit.
type Encoder struct {
	w    wbuf
	buf  []byte
	err  error
	elog *errlog.Log

	nboards int // boards actually emitted by the last Encode
	toobig  uint8
}

// NewEncoder returns an event encoder logging truncations to elog.
func NewEncoder(elog *errlog.Log) *Encoder {
	return &Encoder{
		w:    wbuf{p: make([]byte, MaxLen)},
		buf:  make([]byte, 4),
		elog: elog,
	}
}

// Boards returns the number of board hit lists emitted by the last
// call to Encode.
func (enc *Encoder) Boards() int { return enc.nboards }

// TooBig returns the number of truncated events, saturating at 255.
func (enc *Encoder) TooBig() uint8 { return enc.toobig }

// ResetStats clears the truncation counter.
func (enc *Encoder) ResetStats() { enc.toobig = 0 }

// Encode serializes rec. The returned slice is only valid until the next
// call to Encode.
//
// A board whose hit list does not fit is replaced by an empty placeholder
// while there is room for one. Otherwise the record is cut after the
// boards emitted so far and the board count is patched accordingly.
func (enc *Encoder) Encode(rec *Record) ([]byte, error) {
	enc.w.reset()
	enc.err = nil
	enc.nboards = 0

	enc.write(evtHeader[:])
	enc.writeU16(rec.Run)
	enc.writeU32(rec.Trigger)
	enc.writeU32(rec.Time)
	enc.writeU32(rec.Dead)
	enc.writeU32(rec.Wall)
	enc.writeU8(rec.Status)
	for _, v := range rec.ADC {
		enc.writeU16(v)
	}
	enc.writeU16(uint16(rec.TOF))
	enc.writeU16(rec.TkrTrg)
	enc.writeU8(rec.TkrCmd)
	enc.writeU8(rec.Pattern)
	if dbg := rec.Debug; dbg != nil {
		enc.writeU8(dbg.NA)
		enc.writeU8(dbg.NB)
		enc.writeU16(dbg.RefA)
		enc.writeU16(dbg.RefB)
		enc.writeU16(dbg.ClkA)
		enc.writeU16(dbg.ClkB)
	}
	pos := enc.w.c
	enc.writeU8(uint8(len(rec.Boards)))
	if enc.err != nil {
		return nil, fmt.Errorf("event: could not encode event header: %w", enc.err)
	}

	for i, brd := range rec.Boards {
		var (
			n  = enc.w.c
			nb = len(brd.Hits)
		)
		if n >= MaxLen-(5+nb) {
			if n < MaxLen-10 {
				enc.writeU8(5)
				enc.write([]byte{tracker.HitListID, uint8(i), 0, tracker.DummyPlaceholder, 0x30})
				enc.nboards++
				continue
			}
			enc.w.p[pos] = uint8(i)
			enc.elog.AddOnce(errlog.EvtTooBig, uint8(rec.Trigger>>24), uint8(i))
			if enc.toobig < 0xFF {
				enc.toobig++
			}
			break
		}
		enc.writeU8(uint8(nb))
		enc.write(brd.Hits)
		enc.nboards++
	}
	enc.write(evtTrailer[:])
	if enc.err != nil {
		return nil, fmt.Errorf("event: could not encode event: %w", enc.err)
	}

	return enc.w.bytes(), nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeU16(v uint16) {
	binary.BigEndian.PutUint16(enc.buf[:2], v)
	enc.write(enc.buf[:2])
}

func (enc *Encoder) writeU32(v uint32) {
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	enc.write(enc.buf[:4])
}
