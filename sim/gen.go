// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tof"
)

// Trigger status bits raised by the generator.
const (
	StatusPMT = 0x01 // PMT coincidence
	StatusTkr = 0x02 // tracker trigger
)

// Instrument gathers the simulated peripherals of the payload.
type Instrument struct {
	Clock    hw.Clock
	RTC      *RTC
	Tracker  *Tracker
	Trigger  *Trigger
	TOF      *TOF
	ADC      *ADC
	Counters *Counters
	Output   *Output
	DAC      *DAC
	EEPROM   *EEPROM
}

// NewInstrument returns a payload with nboards tracker boards and cfg in
// its configuration memory. The clock of the instrument is not running.
func NewInstrument(nboards int, cfg conddb.Config, opts ...TrackerOption) (*Instrument, error) {
	mem, err := NewEEPROM(cfg)
	if err != nil {
		return nil, fmt.Errorf("sim: could not create instrument: %w", err)
	}
	var (
		clk = new(Clock)
		tkr = NewTracker(nboards, opts...)
	)
	return &Instrument{
		Clock:    clk,
		RTC:      NewRTC(time.Now()),
		Tracker:  tkr,
		Trigger:  NewTrigger(clk, tkr),
		TOF:      NewTOF(),
		ADC:      NewADC(),
		Counters: new(Counters),
		Output:   NewOutput(nil),
		DAC:      NewDAC(),
		EEPROM:   mem,
	}, nil
}

// Generator produces particle crossings in an instrument.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	ins *Instrument
	cfg tof.Config
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(ins *Instrument, seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		ins: ins,
		cfg: tof.DefaultConfig,
	}
}

// Event simulates a particle crossing the payload: PMT pulses, a pair
// of TOF hits, singles counts and a trigger.
// Event reports whether the trigger signal was delivered.
func (gen *Generator) Event() bool {
	gen.mu.Lock()
	var (
		adc   [hw.NumPMT]uint16
		ticks = gen.ins.Clock.Ticks()
		ref   = uint16(gen.rnd.Intn(int(gen.cfg.Ceiling) - 1))
		stop  = uint16(gen.rnd.Intn(int(gen.cfg.Unit)))
		dt    = gen.rnd.Intn(400) + 100
	)
	for i := range adc {
		adc[i] = uint16(200 + gen.rnd.Intn(3000))
	}
	status := uint8(StatusPMT)
	if gen.rnd.Intn(4) != 0 {
		status |= StatusTkr
	}
	gen.mu.Unlock()

	gen.ins.ADC.Set(adc)
	for i := range adc {
		gen.ins.Counters.Add(i, 1)
	}

	clock := uint8(ticks % tof.ClockPeriod)
	stopB := int(stop) + dt
	refB := ref
	if stopB >= int(gen.cfg.Unit) {
		stopB -= int(gen.cfg.Unit)
		refB++
	}
	gen.ins.TOF.Push(hw.TOFHit{Channel: 0, Raw: uint32(ref)<<16 | uint32(stop), Clock: clock})
	gen.ins.TOF.Push(hw.TOFHit{Channel: 1, Raw: uint32(refB)<<16 | uint32(stopB), Clock: clock})

	return gen.ins.Trigger.Fire(status)
}

// Noise adds n random singles counts on each PMT channel.
func (gen *Generator) Noise(n int) {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	for i := 0; i < hw.NumPMT; i++ {
		gen.ins.Counters.Add(i, uint32(gen.rnd.Intn(n+1)))
	}
}
