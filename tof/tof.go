// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tof stores the hits of the two time-of-flight channels and
// correlates them with a trigger.
//
// Each channel delivers 32-bit samples: the upper 16 bits count the
// reference clock, the lower 16 bits hold the stop time, in 10 ps units.
// Samples are tagged with the 8-bit local clock (period 200, 5 ms ticks)
// running when they were captured.
package tof // import "github.com/go-lpc/aesop/tof"

import (
	"sync"
)

const (
	RingLen     = 64  // number of hits kept per channel
	ClockPeriod = 200 // period of the local clock

	NoMatch int16  = 32767 // time difference reported without a pair
	NoDebug uint16 = 65535 // debug fields reported without a pair
)

// Channel identifies one of the two TOF channels.
type Channel uint8

const (
	A Channel = iota
	B
)

func (ch Channel) String() string {
	switch ch {
	case A:
		return "A"
	case B:
		return "B"
	}
	return "invalid"
}

// Config describes the reference clock of the TOF chip.
type Config struct {
	Unit    int64  // stop-time units per reference clock count
	Ceiling uint16 // last reference clock count before the counter resets
	Span    int64  // reset period of the reference clock, in stop-time units
}

// DefaultConfig is the reference clock of the flight configuration:
// 12 MHz reference clock reset every 5 ms.
var DefaultConfig = Config{
	Unit:    8333,
	Ceiling: 60001,
	Span:    500000000,
}

// RolloverRef returns the reference count at or above which a hit is
// considered taken just before the reference clock reset.
func (cfg Config) RolloverRef() uint16 {
	return cfg.Ceiling - 1
}

// Hit is a single TOF sample.
type Hit struct {
	Raw    uint32 // reference clock count and stop time
	Clock  uint8  // local clock when captured
	Filled bool   // hit not consumed yet
}

// Ref returns the reference clock count of the hit.
func (h Hit) Ref() uint16 { return uint16(h.Raw >> 16) }

// Stop returns the stop time of the hit.
func (h Hit) Stop() uint16 { return uint16(h.Raw) }

func (h Hit) time(cfg Config) int64 {
	return int64(h.Ref())*cfg.Unit + int64(h.Stop())
}

type ring struct {
	hits [RingLen]Hit
	ptr  int
}

func (r *ring) push(h Hit) {
	r.hits[r.ptr] = h
	r.ptr = (r.ptr + 1) % RingLen
}

// at returns the index of the i-th most recent hit.
func (r *ring) at(i int) int {
	return (r.ptr - i - 1 + 2*RingLen) % RingLen
}

func (r *ring) clear() {
	for i := range r.hits {
		r.hits[i].Filled = false
	}
}

// Result is the outcome of a correlation pass.
type Result struct {
	Dt int16 // time difference B-A of the best pair, in 10 ps units

	NA, NB     int // candidate hits of each channel
	StopA      int // filled hits of channel A
	StopB      int // filled hits of channel B
	RefA, RefB uint16
	ClkA, ClkB uint16
}

// Rings holds the hits of both TOF channels.
// Producers call Push, the event builder calls Correlate.
type Rings struct {
	mu      sync.Mutex
	cfg     Config
	enabled bool
	rings   [2]ring
}

// NewRings creates empty TOF rings. Capture starts enabled.
func NewRings(cfg Config) *Rings {
	return &Rings{cfg: cfg, enabled: true}
}

// Config returns the reference clock configuration.
func (rs *Rings) Config() Config { return rs.cfg }

// SetEnabled enables or disables the capture of new hits.
func (rs *Rings) SetEnabled(v bool) {
	rs.mu.Lock()
	rs.enabled = v
	rs.mu.Unlock()
}

// Enabled reports whether new hits are captured.
func (rs *Rings) Enabled() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.enabled
}

// Push stores a hit of channel ch, overwriting the oldest one when the
// ring is full. Hits are dropped while capture is disabled.
func (rs *Rings) Push(ch Channel, raw uint32, clock uint8) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.enabled {
		return
	}
	rs.rings[ch].push(Hit{Raw: raw, Clock: clock, Filled: true})
}

// Pointers returns the write cursors of both rings.
func (rs *Rings) Pointers() (a, b int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.rings[A].ptr, rs.rings[B].ptr
}

// Last returns the most recent hit of channel ch together with the ring
// cursor. When a hit is available the ring is emptied and rewound.
func (rs *Rings) Last(ch Channel) (Hit, int, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := &rs.rings[ch]
	idx := r.at(0)
	h := r.hits[idx]
	if !h.Filled {
		return Hit{}, idx, false
	}
	ptr := r.ptr
	r.clear()
	r.ptr = 0
	return h, ptr, true
}

// Reset empties both rings.
func (rs *Rings) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i := range rs.rings {
		rs.rings[i] = ring{}
	}
}

// Correlate looks for the pair of A and B hits closest in time around the
// trigger taken at local clock tick. All stored hits are consumed.
//
// A hits are accepted at tick or the tick after, B hits at tick or the
// tick before, and the two hits of a pair must be at most one tick apart.
func (rs *Rings) Correlate(tick uint8) Result {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	res := Result{
		Dt:   NoMatch,
		RefA: NoDebug,
		RefB: NoDebug,
		ClkA: NoDebug,
		ClkB: NoDebug,
	}

	var (
		ra    = &rs.rings[A]
		rb    = &rs.rings[B]
		next  = addTick(tick, 1)
		prev  = addTick(tick, ClockPeriod-1)
		as    = make([]int, 0, RingLen)
		bs    = make([]int, 0, RingLen)
		dtmin = NoMatch
	)

	for i := 0; i < RingLen; i++ {
		idx := ra.at(i)
		h := ra.hits[idx]
		if !h.Filled {
			break
		}
		res.StopA++
		if h.Clock == tick || h.Clock == next {
			as = append(as, idx)
		}
	}
	for j := 0; j < RingLen; j++ {
		idx := rb.at(j)
		h := rb.hits[idx]
		if !h.Filled {
			break
		}
		res.StopB++
		if h.Clock == tick || h.Clock == prev {
			bs = append(bs, idx)
		}
	}
	res.NA = len(as)
	res.NB = len(bs)

	for _, i := range as {
		ha := ra.hits[i]
		for _, j := range bs {
			hb := rb.hits[j]
			if clockDist(ha.Clock, hb.Clock) > 1 {
				continue
			}
			dt := rs.diff(ha, hb)
			if abs16(dt) < abs16(dtmin) {
				dtmin = dt
				res.RefA = ha.Ref()
				res.RefB = hb.Ref()
				res.ClkA = uint16(ha.Clock)
				res.ClkB = uint16(hb.Clock)
			}
		}
	}
	res.Dt = dtmin

	ra.clear()
	rb.clear()
	return res
}

// diff returns tB-tA, correcting for a reference clock reset between the
// two hits.
func (rs *Rings) diff(a, b Hit) int16 {
	var (
		ta  = a.time(rs.cfg)
		tb  = b.time(rs.cfg)
		top = rs.cfg.RolloverRef()
	)
	switch {
	case a.Ref() >= top && b.Ref() == 0:
		tb += rs.cfg.Span
	case b.Ref() >= top && a.Ref() == 0:
		ta += rs.cfg.Span
	}
	return int16(tb - ta)
}

func addTick(t uint8, d int) uint8 {
	return uint8((int(t) + d) % ClockPeriod)
}

// clockDist returns the distance between two local clock values,
// modulo the clock period.
func clockDist(t1, t2 uint8) int {
	d := int(t1) - int(t2)
	if d < 0 {
		d = -d
	}
	if alt := ClockPeriod - d; alt < d {
		return alt
	}
	return d
}

func abs16(v int16) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}
