// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides simulated peripherals for the acquisition core:
// tracker boards answering on a byte link, trigger logic, TOF chip,
// digitizers and the other collaborators described in package hw.
package sim // import "github.com/go-lpc/aesop/sim"

import (
	"io"
	"sync"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tracker"
)

// FirmwareVersion is the code version reported by the simulated boards.
const FirmwareVersion = 0x0B

// maxPending is the depth of the event buffer of the tracker.
const maxPending = 4

// I2C addresses of the sensors of a tracker board.
const (
	I2CTemp = 0x48 // temperature sensor
	I2CBus  = 0x40 // first power monitor
)

// HitsFunc returns the clusters reported by a board for a trigger.
type HitsFunc func(trg uint16, brd int) []tracker.ChipHits

type asic struct {
	thr  uint8
	data uint64
	trg  uint64
	errs uint8
}

type board struct {
	asics    [conddb.NumASIC]asic
	triggers uint16
	reads    uint16
	count    uint16 // triggers since the last rate latch
	rate     uint16
}

// Tracker simulates the tracker boards behind their serial link.
// Commands written to the tracker are answered on its read side.
type Tracker struct {
	mu     sync.Mutex
	rx     []byte // bytes to be read by the acquisition core
	req    []byte // partial command
	ready  chan struct{}
	closed bool
	wait   time.Duration

	nboards  int
	cmdCount uint16
	trgCount uint16
	enabled  bool
	reg      [3]uint8
	pending  []uint16
	boards   [tracker.MaxBoards]board
	temp     uint16
	hits     HitsFunc
	mute     map[byte]int
	stuck    bool
}

// TrackerOption configures a simulated tracker.
type TrackerOption func(*Tracker)

// WithHits sets the function generating the hit lists.
func WithHits(f HitsFunc) TrackerOption {
	return func(tkr *Tracker) {
		tkr.hits = f
	}
}

// WithReadWait sets how long Read waits for data before returning
// with nothing read.
func WithReadWait(d time.Duration) TrackerOption {
	return func(tkr *Tracker) {
		tkr.wait = d
	}
}

// NewTracker returns a tracker with nboards boards in the readout.
func NewTracker(nboards int, opts ...TrackerOption) *Tracker {
	tkr := &Tracker{
		ready:   make(chan struct{}, 1),
		wait:    10 * time.Millisecond,
		nboards: nboards,
		temp:    0x1900,
		hits:    DefaultHits,
		mute:    make(map[byte]int),
	}
	for _, opt := range opts {
		opt(tkr)
	}
	return tkr
}

// DefaultHits reports a single cluster per board, drifting with the
// trigger count.
func DefaultHits(trg uint16, brd int) []tracker.ChipHits {
	return []tracker.ChipHits{{
		Chip: uint8((int(trg) + brd) % conddb.NumASIC),
		Clusters: []tracker.Cluster{{
			Width: uint8(trg % 3),
			First: uint8((int(trg)*7 + brd) % 60),
		}},
	}}
}

// Read reads the responses of the tracker.
// Read returns with nothing read when no data arrived for a while.
func (tkr *Tracker) Read(p []byte) (int, error) {
	if n, err := tkr.read(p); n > 0 || err != nil {
		return n, err
	}
	tmr := time.NewTimer(tkr.wait)
	defer tmr.Stop()
	select {
	case <-tkr.ready:
	case <-tmr.C:
	}
	return tkr.read(p)
}

func (tkr *Tracker) read(p []byte) (int, error) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	if len(tkr.rx) == 0 && tkr.closed {
		return 0, io.EOF
	}
	n := copy(p, tkr.rx)
	tkr.rx = tkr.rx[n:]
	return n, nil
}

// Write sends commands to the tracker.
func (tkr *Tracker) Write(p []byte) (int, error) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	if tkr.closed {
		return 0, io.ErrClosedPipe
	}
	tkr.req = append(tkr.req, p...)
	for len(tkr.req) >= 3 {
		n := 3 + int(tkr.req[2])
		if len(tkr.req) < n {
			break
		}
		brd, code := tkr.req[0], tkr.req[1]
		payload := append([]byte(nil), tkr.req[3:n]...)
		tkr.req = tkr.req[n:]
		tkr.handle(brd, code, payload)
	}
	return len(p), nil
}

// TxEmpty implements hw.Serial.
func (tkr *Tracker) TxEmpty() bool { return true }

// Close closes the link. Pending responses can still be read.
func (tkr *Tracker) Close() error {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	tkr.closed = true
	tkr.notify()
	return nil
}

func (tkr *Tracker) notify() {
	select {
	case tkr.ready <- struct{}{}:
	default:
	}
}

// Trigger delivers a trigger to the boards. It is ignored when the
// tracker trigger is disabled or the event buffer is full.
func (tkr *Tracker) Trigger() {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	if !tkr.enabled || tkr.stuck {
		return
	}
	tkr.trgCount++
	for i := 0; i < tkr.nboards; i++ {
		tkr.boards[i].triggers++
		tkr.boards[i].count++
	}
	if len(tkr.pending) < maxPending {
		tkr.pending = append(tkr.pending, tkr.trgCount)
	}
}

// Enabled reports whether the tracker trigger is enabled.
func (tkr *Tracker) Enabled() bool {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	return tkr.enabled
}

// Enable enables or disables the tracker trigger, as commands
// CmdTrgEnable and CmdTrgDisable do.
func (tkr *Tracker) Enable(v bool) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	tkr.enabled = v
}

// Boards returns the number of boards in the readout.
func (tkr *Tracker) Boards() int {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	return tkr.nboards
}

// Pending returns the number of events waiting for readout.
func (tkr *Tracker) Pending() int {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	return len(tkr.pending)
}

// Mute drops the responses to the next n commands with the given code.
func (tkr *Tracker) Mute(code byte, n int) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	tkr.mute[code] = n
}

// SetStuck makes the boards ignore triggers, as after a lost trigger.
func (tkr *Tracker) SetStuck(v bool) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	tkr.stuck = v
}

// SetASICErrors sets the error code flagged by the configuration
// register of a chip.
func (tkr *Tracker) SetASICErrors(brd, chip int, errs uint8) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	tkr.boards[brd].asics[chip].errs = errs & 0x03
}

// Threshold returns the threshold DAC setting of a chip.
func (tkr *Tracker) Threshold(brd, chip int) uint8 {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	return tkr.boards[brd].asics[chip].thr
}

// Masks returns the data and trigger masks of a chip.
func (tkr *Tracker) Masks(brd, chip int) (data, trg uint64) {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	a := tkr.boards[brd].asics[chip]
	return a.data, a.trg
}

// Register returns the shared configuration register of the ASICs.
func (tkr *Tracker) Register() [3]uint8 {
	tkr.mu.Lock()
	defer tkr.mu.Unlock()
	return tkr.reg
}

func (tkr *Tracker) handle(brd, code byte, payload []byte) {
	tkr.cmdCount++
	if n := tkr.mute[code]; n > 0 {
		tkr.mute[code] = n - 1
		return
	}
	if int(brd) >= tracker.MaxBoards {
		return
	}

	switch tracker.KindOf(code) {
	case tracker.NoResponse:
		tkr.apply(brd, code, payload)
	case tracker.EchoData:
		tkr.apply(brd, code, payload)
		tkr.echo(code)
	case tracker.HousekeepingData:
		tkr.housekeeping(brd, code, payload)
	case tracker.ASICData:
		tkr.asic(brd, code, payload)
	case tracker.I2CData:
		tkr.i2c(payload)
	case tracker.EventData:
		tkr.event()
	default:
		return
	}
	tkr.notify()
}

func chips(payload []byte) []int {
	if len(payload) == 0 {
		return nil
	}
	if chip := int(payload[0] & 0x1F); chip < conddb.NumASIC {
		return []int{chip}
	}
	all := make([]int, conddb.NumASIC)
	for i := range all {
		all[i] = i
	}
	return all
}

func mask(p []byte) uint64 {
	var v uint64
	for _, b := range p {
		v = v<<8 | uint64(b)
	}
	return v
}

func (tkr *Tracker) apply(brd, code byte, payload []byte) {
	b := &tkr.boards[brd]
	switch code {
	case tracker.CmdResetSM:
		tkr.pending = tkr.pending[:0]
		b.count = 0
	case tracker.CmdSetBoards:
		if len(payload) > 0 {
			tkr.nboards = int(payload[0])
		}
	case tracker.CmdASICThresh:
		if len(payload) < 2 {
			return
		}
		for _, chip := range chips(payload) {
			b.asics[chip].thr = payload[1]
		}
	case tracker.CmdASICConfig:
		if len(payload) < 4 {
			return
		}
		copy(tkr.reg[:], payload[1:4])
	case tracker.CmdDataMask, tracker.CmdTriggerMask:
		if len(payload) < 9 {
			return
		}
		v := mask(payload[1:9])
		for _, chip := range chips(payload) {
			if code == tracker.CmdDataMask {
				b.asics[chip].data = v
			} else {
				b.asics[chip].trg = v
			}
		}
	case 0x05, 0x0C: // ASIC hard and soft resets
		for i := range tkr.boards {
			for j := range tkr.boards[i].asics {
				tkr.boards[i].asics[j] = asic{}
			}
		}
		tkr.reg = [3]uint8{}
	case tracker.CmdTrgEnable:
		tkr.enabled = true
	case tracker.CmdTrgDisable:
		tkr.enabled = false
	case tracker.CmdLatchRates:
		for i := range tkr.boards {
			tkr.boards[i].rate = tkr.boards[i].count
			tkr.boards[i].count = 0
		}
	}
}

func (tkr *Tracker) echo(code byte) {
	tkr.rx = append(tkr.rx,
		4, tracker.TypeEcho, uint8(tkr.cmdCount>>8), uint8(tkr.cmdCount), code,
	)
}

func u16(v uint16) []byte { return []byte{uint8(v >> 8), uint8(v)} }

func (tkr *Tracker) housekeeping(brd, code byte, payload []byte) {
	b := &tkr.boards[brd]
	data := make([]byte, tracker.NumData(code))
	switch code {
	case tracker.CmdEventStatus:
		data[0] = tracker.DataNotReady
		if len(tkr.pending) > 0 {
			data[0] = tracker.DataReady
		}
	case 0x07:
		data[0] = FirmwareVersion
	case tracker.CmdVersion:
		data[0] = FirmwareVersion
	case 0x0B:
		data[0] = brd
	case 0x68:
		copy(data, u16(b.triggers))
	case tracker.CmdEndOfRun:
		copy(data, u16(tkr.trgCount))
	case 0x6B:
		copy(data, u16(b.reads))
	case tracker.CmdReadRate:
		copy(data, u16(b.rate))
	case 0x71:
		copy(data, u16(tkr.cmdCount))
	case 0x74:
		data[0] = uint8(tkr.nboards)
	}
	nd := len(data)
	data[nd-1] = 0x0F
	tkr.rx = append(tkr.rx,
		uint8(nd+6), tracker.TypeHousekeeping, uint8(nd),
		uint8(tkr.cmdCount>>8), uint8(tkr.cmdCount), brd, code,
	)
	tkr.rx = append(tkr.rx, data...)
}

func (tkr *Tracker) asic(brd, code byte, payload []byte) {
	var (
		chip = 0
		a    asic
	)
	if len(payload) > 0 && int(payload[0]&0x1F) < conddb.NumASIC {
		chip = int(payload[0] & 0x1F)
	}
	a = tkr.boards[brd].asics[chip]
	switch code {
	case tracker.CmdASICReadThresh:
		tkr.rx = tracker.AppendASICRegister(tkr.rx, tracker.RegThreshold, uint64(a.thr), 8)
	case tracker.CmdASICReadConfig:
		v := uint64(a.errs)<<24 | uint64(tkr.reg[0])<<16 | uint64(tkr.reg[1])<<8 | uint64(tkr.reg[2])
		tkr.rx = tracker.AppendASICRegister(tkr.rx, tracker.RegConfig, v, 27)
	case tracker.CmdASICReadData:
		tkr.rx = tracker.AppendASICRegister(tkr.rx, tracker.RegDataMask, a.data, 64)
	case tracker.CmdASICReadTrg:
		tkr.rx = tracker.AppendASICRegister(tkr.rx, tracker.RegTrgMask, a.trg, 64)
	default:
		tkr.rx = tracker.AppendASICRegister(tkr.rx, 0, 0, 0)
	}
}

func (tkr *Tracker) i2c(payload []byte) {
	var (
		addr byte
		v    uint16
	)
	if len(payload) > 0 {
		addr = payload[0]
	}
	switch {
	case addr == I2CTemp:
		v = tkr.temp
	case addr >= I2CBus:
		v = 0x0FA0 + uint16(addr-I2CBus)
	}
	tkr.rx = append(tkr.rx, addr, uint8(v>>8), uint8(v), 0)
}

func (tkr *Tracker) event() {
	var trg uint16
	if len(tkr.pending) > 0 {
		trg = tkr.pending[0]
		tkr.pending = tkr.pending[1:]
	}
	tkr.rx = append(tkr.rx,
		5, tracker.TypeEvent, uint8(trg>>8), uint8(trg), uint8(tkr.cmdCount), uint8(tkr.nboards)&0x3F,
	)
	for i := 0; i < tkr.nboards; i++ {
		tkr.boards[i].reads++
		var chips []tracker.ChipHits
		if tkr.hits != nil {
			chips = tkr.hits(trg, i)
		}
		h := tracker.NewHitList(uint8(i), uint8(trg)&0x3F, chips)
		tkr.rx = append(tkr.rx, uint8(len(h.Hits)))
		tkr.rx = append(tkr.rx, h.Hits...)
	}
}

var (
	_ hw.Serial = (*Tracker)(nil)
)
