// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tof"
)

// Clock is a manually driven local clock.
type Clock struct {
	ticks uint32
}

func (clk *Clock) Ticks() uint32 { return atomic.LoadUint32(&clk.ticks) }

// Advance moves the clock forward by n ticks.
func (clk *Clock) Advance(n uint32) {
	atomic.AddUint32(&clk.ticks, n)
}

// Run advances the clock in real time until done is closed.
func (clk *Clock) Run(done <-chan struct{}) {
	tck := time.NewTicker(hw.TickPeriod)
	defer tck.Stop()
	for {
		select {
		case <-done:
			return
		case <-tck.C:
			clk.Advance(1)
		}
	}
}

// RTC is a settable real-time clock frozen at its last setting.
type RTC struct {
	mu  sync.Mutex
	now time.Time
}

// NewRTC returns a real-time clock set to t.
func NewRTC(t time.Time) *RTC {
	return &RTC{now: t.UTC()}
}

func (rtc *RTC) Now() time.Time {
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	return rtc.now
}

func (rtc *RTC) Set(t time.Time) error {
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	rtc.now = t.UTC()
	return nil
}

// Trigger simulates the trigger logic.
// Enabled triggers are forwarded to the tracker, when one is attached.
type Trigger struct {
	clk hw.Clock
	tkr *Tracker
	ch  chan hw.Signal

	mu       sync.Mutex
	enabled  bool
	masks    map[byte]uint8
	prescale map[byte]uint8
	logic    uint8
}

// NewTrigger returns a disabled trigger stamping signals with clk.
// tkr may be nil when no simulated tracker is attached.
func NewTrigger(clk hw.Clock, tkr *Tracker) *Trigger {
	return &Trigger{
		clk:      clk,
		tkr:      tkr,
		ch:       make(chan hw.Signal, 16),
		masks:    make(map[byte]uint8),
		prescale: make(map[byte]uint8),
	}
}

func (trg *Trigger) Signals() <-chan hw.Signal { return trg.ch }

// Fire raises a trigger with the given status.
// Fire reports whether the signal could be delivered.
func (trg *Trigger) Fire(status uint8) bool {
	ticks := trg.clk.Ticks()
	sig := hw.Signal{
		Status: status,
		Tick:   uint8(ticks % tof.ClockPeriod),
		Time:   ticks,
	}
	if trg.Enabled() && trg.tkr != nil {
		trg.tkr.Trigger()
	}
	select {
	case trg.ch <- sig:
		return true
	default:
		return false
	}
}

func (trg *Trigger) Enable(v bool) {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	trg.enabled = v
}

func (trg *Trigger) Enabled() bool {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	return trg.enabled
}

func (trg *Trigger) SetMask(kind byte, mask uint8) {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	trg.masks[kind] = mask
}

func (trg *Trigger) Mask(kind byte) uint8 {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	return trg.masks[kind]
}

func (trg *Trigger) SetPrescale(kind byte, v uint8) {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	trg.prescale[kind] = v
}

func (trg *Trigger) Prescale(kind byte) uint8 {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	return trg.prescale[kind]
}

func (trg *Trigger) SetLogic(v uint8) {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	trg.logic = v
}

func (trg *Trigger) Logic() uint8 {
	trg.mu.Lock()
	defer trg.mu.Unlock()
	return trg.logic
}

// TOF simulates the time-of-flight chip.
type TOF struct {
	ch chan hw.TOFHit
}

func NewTOF() *TOF {
	return &TOF{ch: make(chan hw.TOFHit, 2*tof.RingLen)}
}

func (t *TOF) Hits() <-chan hw.TOFHit { return t.ch }

// Push delivers a hit. Hits are dropped when nobody reads them.
func (t *TOF) Push(hit hw.TOFHit) {
	select {
	case t.ch <- hit:
	default:
	}
}

// ADC simulates the PMT digitizers.
type ADC struct {
	mu    sync.Mutex
	vs    [hw.NumPMT]uint16
	busy  bool
	fails map[int]error
}

func NewADC() *ADC {
	return &ADC{fails: make(map[int]error)}
}

// Set sets the values of the channels.
func (adc *ADC) Set(vs [hw.NumPMT]uint16) {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	adc.vs = vs
}

// SetBusy keeps the digitizers from completing their conversion.
func (adc *ADC) SetBusy(v bool) {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	adc.busy = v
}

// Fail makes reads of channel ch fail with err. A nil err clears the failure.
func (adc *ADC) Fail(ch int, err error) {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	if err == nil {
		delete(adc.fails, ch)
		return
	}
	adc.fails[ch] = err
}

func (adc *ADC) Ready() bool {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	return !adc.busy
}

func (adc *ADC) Read(ch int) (uint16, error) {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	if ch < 0 || ch >= hw.NumPMT {
		return 0, fmt.Errorf("sim: invalid ADC channel %d", ch)
	}
	if err := adc.fails[ch]; err != nil {
		return 0, err
	}
	return adc.vs[ch], nil
}

// Counters simulates the PMT singles counters.
type Counters struct {
	n [hw.NumPMT]uint32
}

func (cnt *Counters) Count(ch int) uint32 {
	return atomic.LoadUint32(&cnt.n[ch])
}

// Add counts n hits on channel ch.
func (cnt *Counters) Add(ch int, n uint32) {
	atomic.AddUint32(&cnt.n[ch], n)
}

// Output is a data link to the host writing into a buffer.
type Output struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	w    io.Writer
	busy bool
}

// NewOutput returns an output link copying its data to w, when not nil.
func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Write(p)
	if o.w != nil {
		return o.w.Write(p)
	}
	return len(p), nil
}

func (o *Output) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// SetBusy simulates a host not accepting data.
func (o *Output) SetBusy(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = v
}

// Bytes returns a copy of all the data written so far.
func (o *Output) Bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.buf.Bytes()...)
}

// DAC simulates the threshold DACs.
type DAC struct {
	mu sync.Mutex
	vs map[uint8]uint16
}

func NewDAC() *DAC {
	return &DAC{vs: make(map[uint8]uint16, 3)}
}

func validDAC(addr uint8) bool {
	switch addr {
	case hw.DACPMT5, hw.DACTOF1, hw.DACTOF2:
		return true
	}
	return false
}

func (dac *DAC) Load(addr uint8, v uint16) error {
	if !validDAC(addr) {
		return fmt.Errorf("sim: could not load DAC 0x%02x: %w", addr, hw.ErrNoSuchDAC)
	}
	dac.mu.Lock()
	defer dac.mu.Unlock()
	dac.vs[addr] = v & 0x0FFF
	return nil
}

func (dac *DAC) Read(addr uint8) (uint16, error) {
	if !validDAC(addr) {
		return 0, fmt.Errorf("sim: could not read DAC 0x%02x: %w", addr, hw.ErrNoSuchDAC)
	}
	dac.mu.Lock()
	defer dac.mu.Unlock()
	return dac.vs[addr], nil
}

// EEPROM is an in-memory configuration memory.
type EEPROM struct {
	mu  sync.Mutex
	buf [hw.EEPROMSize]byte
}

// NewEEPROM returns a configuration memory holding cfg.
func NewEEPROM(cfg conddb.Config) (*EEPROM, error) {
	mem := &EEPROM{}
	err := conddb.WriteConfig(mem, cfg)
	if err != nil {
		return nil, fmt.Errorf("sim: could not store configuration: %w", err)
	}
	return mem, nil
}

func (mem *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if off < 0 || off >= int64(len(mem.buf)) {
		return 0, io.EOF
	}
	n := copy(p, mem.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mem *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(mem.buf)) {
		return 0, fmt.Errorf("sim: write of %d bytes at 0x%x out of range", len(p), off)
	}
	return copy(mem.buf[off:], p), nil
}

var (
	_ hw.Clock     = (*Clock)(nil)
	_ hw.RTC       = (*RTC)(nil)
	_ hw.Trigger   = (*Trigger)(nil)
	_ hw.TOF       = (*TOF)(nil)
	_ hw.Digitizer = (*ADC)(nil)
	_ hw.Counters  = (*Counters)(nil)
	_ hw.Output    = (*Output)(nil)
	_ hw.DAC       = (*DAC)(nil)
	_ hw.Storage   = (*EEPROM)(nil)
)
