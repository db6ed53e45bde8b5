// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tracker"
)

// CountWindow is the number of ticks given to the tracker boards to
// count their triggers.
const CountWindow = 250

// MinTrackerInterval is the minimal interval, in seconds, between two
// tracker rate samples.
const MinTrackerInterval = 2

// Tracker monitors the trigger rates of the tracker boards.
type Tracker struct {
	cfg  config
	clk  hw.Clock
	lnk  Link
	gate Gate
	elog *errlog.Log

	state    State
	interval uint32 // ticks between samples
	start    uint32

	n     int
	sums  [tracker.MaxBoards]uint32
	rates [tracker.MaxBoards]uint16
	count uint32 // number of published averages
}

// NewTracker returns an idle tracker rate monitor.
func NewTracker(clk hw.Clock, lnk Link, gate Gate, elog *errlog.Log, opts ...Option) *Tracker {
	cfg := newConfig("monitor-tkr")
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{
		cfg:  cfg,
		clk:  clk,
		lnk:  lnk,
		gate: gate,
		elog: elog,
	}
}

// State returns the current state of the monitor.
func (m *Tracker) State() State { return m.state }

// Start clears the rates and starts accumulating. The interval, in
// seconds, is raised to MinTrackerInterval when smaller.
func (m *Tracker) Start(interval uint32) {
	if interval < MinTrackerInterval {
		interval = MinTrackerInterval
	}
	m.interval = interval * TicksPerSecond
	m.rates = [tracker.MaxBoards]uint16{}
	m.sums = [tracker.MaxBoards]uint32{}
	m.n = 0
	m.start = m.clk.Ticks()
	m.state = Accumulating
	m.cfg.msg.Printf("start monitoring every %d ticks", m.interval)
}

// Stop stops the monitor, keeping the last published rates.
func (m *Tracker) Stop() {
	m.state = Idle
}

// Rates returns the last published rates, one per configured board.
func (m *Tracker) Rates() []uint16 {
	n := m.lnk.Boards()
	out := make([]uint16, n)
	copy(out, m.rates[:n])
	return out
}

// Published returns the number of averages published since creation.
func (m *Tracker) Published() uint32 { return m.count }

// Step advances the monitor.
func (m *Tracker) Step() {
	switch m.state {
	case Accumulating:
		if elapsed(m.clk, m.start) < m.interval {
			return
		}
		m.pause(func() {
			m.send(tracker.CmdLatchRates)
			m.start = m.clk.Ticks()
			m.state = Sampling
		})

	case Sampling:
		if elapsed(m.clk, m.start) < CountWindow {
			return
		}
		m.pause(m.sample)
		m.start = m.clk.Ticks()
		m.state = Accumulating
	}
}

// pause runs f with the trigger disabled, restoring the trigger afterwards.
func (m *Tracker) pause(f func()) {
	enabled := m.gate.Enabled()
	if enabled {
		m.gate.Enable(false)
		m.send(tracker.CmdTrgDisable)
	}
	f()
	if enabled {
		m.send(tracker.CmdTrgEnable)
		m.gate.Enable(true)
	}
}

func (m *Tracker) send(code byte) {
	_, err := m.lnk.Send(0, code)
	if err != nil {
		m.cfg.msg.Printf("could not send command 0x%02x: %+v", code, err)
	}
}

func (m *Tracker) sample() {
	for brd := 0; brd < m.lnk.Boards(); brd++ {
		resp, err := m.lnk.Send(byte(brd), tracker.CmdReadRate)
		if err != nil || len(resp.Data) < 2 {
			m.elog.AddOnce(errlog.MissingHousekeeping, uint8(brd), 0)
			continue
		}
		m.sums[brd] += uint32(resp.Data[0])<<8 | uint32(resp.Data[1])
	}
	m.n++
	if m.n < m.cfg.samples {
		return
	}
	for i, sum := range m.sums {
		m.rates[i] = uint16(sum / uint32(m.n))
	}
	m.sums = [tracker.MaxBoards]uint32{}
	m.n = 0
	m.count++
}
