// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"github.com/go-lpc/aesop/hw"
)

// PMT monitors the singles rates of the PMT channels.
//
// A sample differences the singles counters over DeltaT seconds, and
// samples are taken every 2*DeltaT seconds.
type PMT struct {
	cfg config
	clk hw.Clock
	cnt hw.Counters

	state    State
	deltaT   uint32 // sampling window, in ticks
	interval uint32 // ticks between samples
	start    uint32
	init     [hw.NumPMT]uint32

	n     int
	sums  [hw.NumPMT]uint32
	time  uint32
	avg   [hw.NumPMT]uint16
	ticks uint16
	count uint32
}

// NewPMT returns an idle PMT rate monitor.
func NewPMT(clk hw.Clock, cnt hw.Counters, opts ...Option) *PMT {
	cfg := newConfig("monitor-pmt")
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PMT{
		cfg:    cfg,
		clk:    clk,
		cnt:    cnt,
		deltaT: 10 * TicksPerSecond,
	}
}

// State returns the current state of the monitor.
func (m *PMT) State() State { return m.state }

// Start snapshots the counters and starts the first sample, taken over
// deltaT seconds.
func (m *PMT) Start(deltaT uint32) {
	m.deltaT = deltaT * TicksPerSecond
	m.interval = 2 * m.deltaT
	m.sums = [hw.NumPMT]uint32{}
	m.time = 0
	m.n = 0
	m.snapshot()
	m.cfg.msg.Printf("start monitoring over %d ticks", m.deltaT)
}

// Stop stops the monitor, keeping the last published sums.
func (m *PMT) Stop() {
	m.state = Idle
}

// Reset clears the published sums.
func (m *PMT) Reset() {
	m.avg = [hw.NumPMT]uint16{}
	m.ticks = 0
}

func (m *PMT) snapshot() {
	m.start = m.clk.Ticks()
	for i := range m.init {
		m.init[i] = m.cnt.Count(i)
	}
	m.state = Sampling
}

// Step advances the monitor.
func (m *PMT) Step() {
	switch m.state {
	case Accumulating:
		if elapsed(m.clk, m.start) >= m.interval {
			m.snapshot()
		}

	case Sampling:
		dt := elapsed(m.clk, m.start)
		if dt < m.deltaT {
			return
		}
		for i := range m.sums {
			m.sums[i] += uint32(uint16(m.cnt.Count(i) - m.init[i]))
		}
		m.time += uint32(uint16(dt))
		m.start = m.clk.Ticks()
		m.state = Accumulating

		m.n++
		if m.n < m.cfg.samples {
			return
		}
		for i, sum := range m.sums {
			m.avg[i] = uint16(sum / uint32(m.n))
		}
		m.ticks = uint16(m.time / uint32(m.n))
		m.sums = [hw.NumPMT]uint32{}
		m.time = 0
		m.n = 0
		m.count++
	}
}

// Sums returns the last published counts, indexed by counter, and the
// duration in ticks over which they were taken.
func (m *PMT) Sums() ([hw.NumPMT]uint16, uint16) {
	return m.avg, m.ticks
}

// Rates returns the last published rates in Hz, indexed by counter.
func (m *PMT) Rates() [hw.NumPMT]uint16 {
	var rates [hw.NumPMT]uint16
	if m.ticks == 0 {
		return rates
	}
	for i, v := range m.avg {
		rates[i] = uint16(uint32(v) * TicksPerSecond / uint32(m.ticks))
	}
	return rates
}

// Published returns the number of averages published since creation.
func (m *PMT) Published() uint32 { return m.count }
