// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-lpc/aesop/tracker"
)

// Record lengths, tags included.
const (
	HousekeepingLen = 81
	BORLen          = 85
	EORLen          = 3 + 146
	ErrRecordLen    = 3 + 56
	CountersLen     = 47
	TkrHousekeepLen = 4 + 6 + tracker.MaxBoards*TkrMonitors*2
)

// TkrMonitors is the number of monitoring values per tracker board.
const TkrMonitors = 12

// PackTime packs a wall-clock time into a 32-bit word:
//
//	(year-2000)<<26 | month<<22 | day<<17 | hour<<12 | minute<<6 | second
func PackTime(t time.Time) uint32 {
	return uint32(t.Year()-2000)<<26 |
		uint32(t.Month())<<22 |
		uint32(t.Day())<<17 |
		uint32(t.Hour())<<12 |
		uint32(t.Minute())<<6 |
		uint32(t.Second())
}

// UnpackTime decodes a time word packed with PackTime.
func UnpackTime(w uint32) time.Time {
	return time.Date(
		2000+int(w>>26),
		time.Month((w>>22)&0x0F),
		int((w>>17)&0x1F),
		int((w>>12)&0x1F),
		int((w>>6)&0x3F),
		int(w&0x3F),
		0, time.UTC,
	)
}

type appender []byte

func (a *appender) u8(v uint8) { *a = append(*a, v) }
func (a *appender) u16(v uint16) { *a = binary.BigEndian.AppendUint16(*a, v) }
func (a *appender) u32(v uint32) { *a = binary.BigEndian.AppendUint32(*a, v) }
func (a *appender) raw(p []byte) { *a = append(*a, p...) }
func (a *appender) str(s string) { *a = append(*a, s...) }

// Counters are the run counters reported by the counters command and
// at the end of a run.
type Counters struct {
	GlobalCmds  uint16 // frames received while awaiting a command
	Cmds        uint16 // commands started
	CmdTimeouts uint8
	TkrResets   uint8
	ASICErrEvts uint8
	ASICParity  uint8
	BadASICHead uint8
	BadClust    uint8
	BadCmds     uint8
	BigClust    uint8
	TkrOverflow uint8
	TagMismatch uint8
	EvtTooBig   uint8
	TkrDataErrs uint8
	TkrBadNData uint8
	TkrTimeouts uint16
	TkrTrg1     uint32
	TkrTrg2     uint32
	PMTOnly     uint32
	TkrOnly     uint32
	AllTrg      uint32
	NoCK        uint32
	LiveTime    uint16
	NOOPs       uint16
}

func (c *Counters) append(a *appender) {
	a.u16(c.GlobalCmds)
	a.u16(c.Cmds)
	for _, v := range []uint8{
		c.CmdTimeouts, c.TkrResets, c.ASICErrEvts, c.ASICParity,
		c.BadASICHead, c.BadClust, c.BadCmds, c.BigClust,
		c.TkrOverflow, c.TagMismatch, c.EvtTooBig, c.TkrDataErrs,
		c.TkrBadNData,
	} {
		a.u8(v)
	}
	a.u16(c.TkrTimeouts)
	for _, v := range []uint32{
		c.TkrTrg1, c.TkrTrg2, c.PMTOnly, c.TkrOnly, c.AllTrg, c.NoCK,
	} {
		a.u32(v)
	}
	a.u16(c.LiveTime)
	a.u16(c.NOOPs)
}

func (c *Counters) read(r *reader) {
	c.GlobalCmds = r.u16()
	c.Cmds = r.u16()
	for _, v := range []*uint8{
		&c.CmdTimeouts, &c.TkrResets, &c.ASICErrEvts, &c.ASICParity,
		&c.BadASICHead, &c.BadClust, &c.BadCmds, &c.BigClust,
		&c.TkrOverflow, &c.TagMismatch, &c.EvtTooBig, &c.TkrDataErrs,
		&c.TkrBadNData,
	} {
		*v = r.u8()
	}
	c.TkrTimeouts = r.u16()
	for _, v := range []*uint32{
		&c.TkrTrg1, &c.TkrTrg2, &c.PMTOnly, &c.TkrOnly, &c.AllTrg, &c.NoCK,
	} {
		*v = r.u32()
	}
	c.LiveTime = r.u16()
	c.NOOPs = r.u16()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c Counters) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, CountersLen)
	c.append(&a)
	return a, nil
}

// Housekeeping is the periodic housekeeping record.
type Housekeeping struct {
	Run         uint16
	Wall        uint32
	LastCmd     uint16 // data and address bytes of the last command frame
	CmdCount    uint16
	BadCmds     uint8
	Errors      uint8
	Triggers    uint32
	Dead        uint32
	ReadoutTime uint16    // average event readout time, in microseconds
	Rates       [5]uint16 // PMT singles rates, in Hz: T1, T2, T3, T4, G
	TkrCmdCount uint16
	TkrTrg1     uint8 // fraction of events with tracker trigger 1, in percent
	TkrTrg2     uint8
	TkrDataErrs uint8
	TkrTimeouts uint8
	ChipsHit    [tracker.MaxBoards]uint8 // average chips hit per event, times 10
	TkrRates    [tracker.MaxBoards]uint16
	DieTemp     int16
	TkrTemp     [2]uint16 // temperatures of the first and last boards
	TOFAvgA     uint8
	TOFAvgB     uint8
	TOFMaxA     uint8
	TOFMaxB     uint8
	Busy        uint8 // busy fraction, in percent
	Live        uint8 // live fraction, in percent
	Trials      uint16
	LiveTrials  uint8 // sampled live fraction, in percent
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (hk Housekeeping) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, HousekeepingLen)
	a.str("HAUS")
	a.u16(hk.Run)
	a.u32(hk.Wall)
	a.u16(hk.LastCmd)
	a.u16(hk.CmdCount)
	a.u8(hk.BadCmds)
	a.u8(hk.Errors)
	a.u32(hk.Triggers)
	a.u32(hk.Dead)
	a.u16(hk.ReadoutTime)
	for _, v := range hk.Rates {
		a.u16(v)
	}
	a.u16(hk.TkrCmdCount)
	a.u8(hk.TkrTrg1)
	a.u8(hk.TkrTrg2)
	a.u8(hk.TkrDataErrs)
	a.u8(hk.TkrTimeouts)
	a.raw(hk.ChipsHit[:])
	for _, v := range hk.TkrRates {
		a.u16(v)
	}
	a.u16(uint16(hk.DieTemp))
	a.u16(hk.TkrTemp[0])
	a.u16(hk.TkrTemp[1])
	a.u8(hk.TOFAvgA)
	a.u8(hk.TOFAvgB)
	a.u8(hk.TOFMaxA)
	a.u8(hk.TOFMaxB)
	a.u8(hk.Busy)
	a.u8(hk.Live)
	a.u16(hk.Trials)
	a.u8(hk.LiveTrials)
	return a, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (hk *Housekeeping) UnmarshalBinary(p []byte) error {
	r := reader{p: p}
	r.tag([]byte("HAUS"))
	hk.Run = r.u16()
	hk.Wall = r.u32()
	hk.LastCmd = r.u16()
	hk.CmdCount = r.u16()
	hk.BadCmds = r.u8()
	hk.Errors = r.u8()
	hk.Triggers = r.u32()
	hk.Dead = r.u32()
	hk.ReadoutTime = r.u16()
	for i := range hk.Rates {
		hk.Rates[i] = r.u16()
	}
	hk.TkrCmdCount = r.u16()
	hk.TkrTrg1 = r.u8()
	hk.TkrTrg2 = r.u8()
	hk.TkrDataErrs = r.u8()
	hk.TkrTimeouts = r.u8()
	r.read(hk.ChipsHit[:])
	for i := range hk.TkrRates {
		hk.TkrRates[i] = r.u16()
	}
	hk.DieTemp = int16(r.u16())
	hk.TkrTemp[0] = r.u16()
	hk.TkrTemp[1] = r.u16()
	hk.TOFAvgA = r.u8()
	hk.TOFAvgB = r.u8()
	hk.TOFMaxA = r.u8()
	hk.TOFMaxB = r.u8()
	hk.Busy = r.u8()
	hk.Live = r.u8()
	hk.Trials = r.u16()
	hk.LiveTrials = r.u8()
	if r.err != nil {
		return fmt.Errorf("event: could not decode housekeeping record: %w", r.err)
	}
	return nil
}

// BOR is the begin-of-run record.
type BOR struct {
	Run      uint16
	Wall     uint32
	Major    uint8
	Minor    uint8
	ThrDAC   [4]uint8  // PMT threshold DAC settings
	PMTDAC   uint16    // fifth PMT threshold DAC
	TOFDAC   [2]uint16 // TOF threshold DACs
	Windows  [10]uint8 // trigger, coincidence and prescale settings
	TrgMask  [2]uint8  // event and PMT trigger masks
	ThrBump  [tracker.MaxBoards]uint8
	TkrInfo  [2]uint8 // tracker firmware and configuration bytes
	TkrLogic uint8
	Layers   [tracker.MaxBoards][5]uint8 // per-layer tracker settings
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (bor BOR) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, BORLen)
	a.str("BOFR")
	a.u16(bor.Run)
	a.u32(bor.Wall)
	a.u8(bor.Major)
	a.u8(bor.Minor)
	a.raw(bor.ThrDAC[:])
	a.u16(bor.PMTDAC)
	a.u16(bor.TOFDAC[0])
	a.u16(bor.TOFDAC[1])
	a.raw(bor.Windows[:])
	a.raw(bor.TrgMask[:])
	a.raw(bor.ThrBump[:])
	a.raw(bor.TkrInfo[:])
	a.u8(bor.TkrLogic)
	for _, lyr := range bor.Layers {
		a.raw(lyr[:])
	}
	return a, nil
}

// BoardSummary holds the end-of-run counters of a tracker board.
type BoardSummary struct {
	Triggers uint16
	Reads    uint16
	Diag     [5]uint8 // error and status bytes
}

// EOR is the end-of-run record.
type EOR struct {
	Run         uint16
	Dead        uint32
	Triggers    uint32
	BadCRC      uint8
	TkrReady    uint32
	TkrNotReady uint16
	TOFAvgA     uint8
	TOFAvgB     uint8
	TOFMaxA     uint8
	TOFMaxB     uint8
	Busy        uint32
	TkrTrg      uint16
	Boards      [tracker.MaxBoards]BoardSummary
	Counters    Counters
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (eor EOR) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, EORLen)
	a.str("EOR")
	a.u16(eor.Run)
	a.u32(eor.Dead)
	a.u32(eor.Triggers)
	a.u8(eor.BadCRC)
	a.u32(eor.TkrReady)
	a.u16(eor.TkrNotReady)
	a.u8(eor.TOFAvgA)
	a.u8(eor.TOFAvgB)
	a.u8(eor.TOFMaxA)
	a.u8(eor.TOFMaxB)
	a.u32(eor.Busy)
	a.u16(eor.TkrTrg)
	for _, brd := range eor.Boards {
		a.u16(brd.Triggers)
		a.u16(brd.Reads)
		a.raw(brd.Diag[:])
	}
	eor.Counters.append(&a)
	return a, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (eor *EOR) UnmarshalBinary(p []byte) error {
	r := reader{p: p}
	r.tag([]byte("EOR"))
	eor.Run = r.u16()
	eor.Dead = r.u32()
	eor.Triggers = r.u32()
	eor.BadCRC = r.u8()
	eor.TkrReady = r.u32()
	eor.TkrNotReady = r.u16()
	eor.TOFAvgA = r.u8()
	eor.TOFAvgB = r.u8()
	eor.TOFMaxA = r.u8()
	eor.TOFMaxB = r.u8()
	eor.Busy = r.u32()
	eor.TkrTrg = r.u16()
	for i := range eor.Boards {
		brd := &eor.Boards[i]
		brd.Triggers = r.u16()
		brd.Reads = r.u16()
		r.read(brd.Diag[:])
	}
	eor.Counters.read(&r)
	if r.err != nil {
		return fmt.Errorf("event: could not decode end-of-run record: %w", r.err)
	}
	return nil
}

// ErrRecord records the state of the tracker boards after a failed
// event read.
type ErrRecord struct {
	Trigger uint32
	Wall    uint32
	State   [tracker.MaxBoards]uint8
	ErrBits [tracker.MaxBoards]uint16
	Codes   [tracker.MaxBoards][3]uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (rec ErrRecord) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, ErrRecordLen)
	a.str("ERR")
	a.u32(rec.Trigger)
	a.u32(rec.Wall)
	a.raw(rec.State[:])
	for _, v := range rec.ErrBits {
		a.u16(v)
	}
	for _, v := range rec.Codes {
		a.raw(v[:])
	}
	return a, nil
}

// TkrHousekeeping holds the temperatures, currents and voltages of the
// tracker boards.
//
// The values of each board are, in order: the temperature, the bias
// shunt voltage, then the bus and shunt voltages of the digital 1.2 V,
// 2.5 V and 3.3 V and of the analog 2.1 V and 3.3 V supplies.
type TkrHousekeeping struct {
	Run    uint16
	Wall   uint32
	Boards [tracker.MaxBoards][TkrMonitors]uint16
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (hk TkrHousekeeping) MarshalBinary() ([]byte, error) {
	a := make(appender, 0, TkrHousekeepLen)
	a.str("TRAK")
	a.u16(hk.Run)
	a.u32(hk.Wall)
	for _, brd := range hk.Boards {
		for _, v := range brd {
			a.u16(v)
		}
	}
	return a, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (hk *TkrHousekeeping) UnmarshalBinary(p []byte) error {
	r := reader{p: p}
	r.tag(tagTRAK)
	hk.Run = r.u16()
	hk.Wall = r.u32()
	for i := range hk.Boards {
		for j := range hk.Boards[i] {
			hk.Boards[i][j] = r.u16()
		}
	}
	if r.err != nil {
		return fmt.Errorf("event: could not decode tracker housekeeping record: %w", r.err)
	}
	return nil
}
