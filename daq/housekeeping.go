// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"math"
	"time"

	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/tracker"
)

// Publisher topics.
const (
	TopicHousekeeping = "housekeeping"
	TopicTracker      = "tracker"
)

// I2C addresses of the sensors of a tracker board.
const (
	i2cTemp = 0x48 // temperature sensor
	i2cBias = 0x46 // bias voltage monitor
)

// i2cPower are the monitors of the digital 1.2 V, 2.5 V and 3.3 V and of
// the analog 2.1 V and 3.3 V supplies.
var i2cPower = [...]byte{0x40, 0x41, 0x42, 0x44, 0x43}

func (dev *Device) hkPeriod() uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.latch.hkPeriod
}

// startHousekeeping sends a housekeeping record every period seconds
// and starts the PMT rate monitor. The tracker rate monitor is started
// as well when tkr is set.
func (dev *Device) startHousekeeping(period uint32, tkr bool) {
	dev.mu.Lock()
	dev.latch.hkPeriod = period
	dev.latch.doHK = period > 0
	dev.latch.hkDue = false
	dev.latch.seconds = 0
	dev.mu.Unlock()

	if period == 0 {
		return
	}
	dev.mon.pmt.Start(period)
	if tkr && dev.tkr.Boards() > 0 {
		dev.mon.tkr.Start(uint32(dev.set.tkrMult) * period)
	}
}

// housekeeping sends the housekeeping records that are due, one per
// pass, when no other output is pending.
func (dev *Device) housekeeping() {
	if len(dev.out) > 0 {
		return
	}

	dev.mu.Lock()
	var hk, tkr bool
	switch {
	case dev.latch.hkDue:
		hk = true
		dev.latch.hkDue = false
	case dev.latch.tkrDue:
		tkr = true
		dev.latch.tkrDue = false
	}
	dev.mu.Unlock()

	switch {
	case hk:
		rec := dev.haus()
		dev.record(rec, TopicHousekeeping, rec)
	case tkr:
		rec := dev.trak()
		dev.record(rec, TopicTracker, rec)
	}
}

type marshaler interface {
	MarshalBinary() ([]byte, error)
}

// record queues a record for output and v for publication.
// v is dropped when the publication queue is full.
func (dev *Device) record(rec marshaler, topic string, v interface{}) {
	body, err := rec.MarshalBinary()
	if err != nil {
		dev.msg.Printf("could not marshal %s record: %+v", topic, err)
		return
	}
	dev.send(event.Packet{Type: event.TypeOf(body, false), Body: body}, nil)

	if dev.pubs == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		dev.msg.Printf("could not encode %s record: %+v", topic, err)
		return
	}
	select {
	case dev.pubs <- publication{topic: topic, payload: raw}:
	default:
		dev.msg.Printf("publication queue full: %s record dropped", topic)
	}
}

func pct(n, d uint32) uint8 {
	if d == 0 {
		return 0
	}
	return uint8(100 * uint64(n) / uint64(d))
}

// haus builds the housekeeping record and starts a new accumulation
// period.
func (dev *Device) haus() event.Housekeeping {
	st := &dev.stats
	if n := dev.tkr.Boards(); n > 0 && st.nhk%uint32(dev.set.tkrMult) == 0 {
		st.tkrTemp[0] = dev.tkrTemp(0)
		if n == tracker.MaxBoards {
			st.tkrTemp[1] = dev.tkrTemp(tracker.MaxBoards - 1)
		}
	}
	st.nhk++

	var (
		ses            = dev.sess.Stats()
		tkr            = dev.tkr.Stats()
		accepted, dead = dev.counts()
	)
	hk := event.Housekeeping{
		Run:         dev.run.number,
		Wall:        event.PackTime(dev.hw.RTC.Now()),
		LastCmd:     ses.Last,
		CmdCount:    ses.Commands,
		BadCmds:     ses.BadCmds,
		Errors:      sat8(uint32(dev.elog.Len())),
		Triggers:    accepted,
		Dead:        dead,
		TkrCmdCount: st.tkrCmdCount,
		TkrTrg1:     pct(st.tkrTrg1, accepted),
		TkrTrg2:     pct(st.tkrTrg2, accepted),
		TkrDataErrs: tkr.DataErrors,
		TkrTimeouts: uint8(tkr.Timeouts - st.lastTimeouts),
		TkrTemp:     st.tkrTemp,
		TOFAvgA:     st.hkTOFA.avg(),
		TOFAvgB:     st.hkTOFB.avg(),
		TOFMaxA:     st.hkTOFA.max,
		TOFMaxB:     st.hkTOFB.max,
		Busy:        pct(st.busy, accepted+dead),
		Live:        pct(accepted-st.lastAccepted, accepted-st.lastAccepted+dead-st.lastDead),
		Trials:      uint16(st.trials),
	}
	if st.hkRead > 0 {
		hk.ReadoutTime = uint16(st.hkReadTime / time.Microsecond / time.Duration(st.hkRead))
	}

	rates := dev.mon.pmt.Rates()
	for i, ch := range pmtChannels {
		hk.Rates[i] = rates[ch]
	}
	if accepted > 0 {
		for i, v := range dev.diag.ChipsHit {
			hk.ChipsHit[i] = sat8(uint32(10 * uint64(v) / uint64(accepted)))
		}
	}
	copy(hk.TkrRates[:], dev.mon.tkr.Rates())

	if st.trials > 0 {
		f := float64(st.live) / float64(st.trials)
		w := math.Sqrt(float64(st.trials))
		st.liveSum += f * w
		st.weights += w
		hk.LiveTrials = uint8(100 * f)
	}

	st.hkTOFA = tofStats{}
	st.hkTOFB = tofStats{}
	st.hkReadTime = 0
	st.hkRead = 0
	st.lastAccepted = accepted
	st.lastDead = dead
	st.lastTimeouts = tkr.Timeouts
	st.lastResets = st.tkrResets
	st.live = 0
	st.trials = 0
	return hk
}

// trak reads the temperatures, voltages and currents of the tracker
// boards, with the trigger paused.
func (dev *Device) trak() event.TkrHousekeeping {
	rec := event.TkrHousekeeping{
		Run:  dev.run.number,
		Wall: event.PackTime(dev.hw.RTC.Now()),
	}
	n := dev.tkr.Boards()
	if n == 0 {
		return rec
	}

	enabled := dev.hw.Trigger.Enabled()
	if enabled {
		dev.enableTrigger(false)
		dev.tkrSend(0, tracker.CmdTrgDisable)
	}
	for brd := 0; brd < n; brd++ {
		b := byte(brd)
		v := &rec.Boards[brd]
		v[0] = dev.tkrTemp(b)
		v[1] = dev.i2cShunt(b, i2cBias)
		for i, addr := range i2cPower {
			v[2+2*i] = dev.i2cBus(b, addr)
			v[3+2*i] = dev.i2cShunt(b, addr)
		}
	}
	if enabled {
		dev.tkrSend(0, tracker.CmdTrgEnable)
		dev.enableTrigger(true)
	}
	return rec
}

// i2cLoad loads a register of an I2C device of a tracker board.
func (dev *Device) i2cLoad(brd, addr, reg, hi, lo byte) {
	dev.tkrSend(brd, 0x45, addr, reg, hi, lo)
}

// i2cRead reads the selected register of an I2C device of a tracker board.
func (dev *Device) i2cRead(brd, addr byte) uint16 {
	resp, ok := dev.tkrSend(brd, tracker.CmdReadI2C, addr)
	if !ok || len(resp.Data) < 3 {
		return 0
	}
	return uint16(resp.Data[1])<<8 | uint16(resp.Data[2])
}

// tkrTemp reads the temperature of a tracker board, waking the sensor
// up for a single conversion.
func (dev *Device) tkrTemp(brd byte) uint16 {
	dev.i2cLoad(brd, i2cTemp, 1, 0x60, 0)
	dev.i2cLoad(brd, i2cTemp, 0, 0, 0)
	v := dev.i2cRead(brd, i2cTemp)
	dev.i2cLoad(brd, i2cTemp, 1, 0x61, 0)
	return v
}

func (dev *Device) i2cBus(brd, addr byte) uint16 {
	dev.i2cLoad(brd, addr, 2, 0, 0)
	return dev.i2cRead(brd, addr)
}

func (dev *Device) i2cShunt(brd, addr byte) uint16 {
	dev.i2cLoad(brd, addr, 1, 0, 0)
	return dev.i2cRead(brd, addr)
}
