// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"time"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tracker"
)

// pmtChannels maps the ADC order of the records to the digitizer
// channels.
var pmtChannels = [hw.NumPMT]int{
	event.T1: 2,
	event.T2: 4,
	event.T3: 1,
	event.T4: 3,
	event.G:  0,
}

const (
	adcWait       = 50 * time.Millisecond // maximum PMT digitization time
	statusPolls   = 10                    // event status queries before giving up
	maxErrRecords = 10                    // error records kept per run
)

// readout builds the event of a latched trigger and queues it for
// output. The trigger is enabled again once the event is written.
func (dev *Device) readout(sig hw.Signal, accepted, dead uint32) {
	start := time.Now()
	dev.tof.SetEnabled(false)

	rec := event.Record{
		Run:     dev.run.number,
		Trigger: accepted,
		Time:    sig.Time,
		Dead:    dead,
		Wall:    event.PackTime(dev.hw.RTC.Now()),
		Status:  sig.Status,
	}
	dev.readADC(&rec, accepted)

	evt := dev.readTracker(accepted)
	rec.TkrTrg = evt.TrgCount
	rec.TkrCmd = evt.CmdCount
	rec.Pattern = evt.Pattern&0xC0 | sig.Status&0x37
	rec.Boards = evt.Boards

	res := dev.tof.Correlate(sig.Tick)
	rec.TOF = res.Dt
	if dev.run.debugTOF {
		rec.Debug = &event.Debug{
			NA:   sat8(uint32(res.NA)),
			NB:   sat8(uint32(res.NB)),
			RefA: res.RefA,
			RefB: res.RefB,
			ClkA: res.ClkA,
			ClkB: res.ClkB,
		}
	}
	dev.stats.tofA.add(res.NA)
	dev.stats.tofB.add(res.NB)
	dev.stats.hkTOFA.add(res.NA)
	dev.stats.hkTOFB.add(res.NB)
	dev.countPattern(sig.Status)

	dev.diag.Check(dev.elog, accepted, rec.Boards, dev.set.crc)

	for i := range dev.run.saved {
		dev.run.saved[i] = dev.hw.Counters.Count(i) - dev.run.base[i]
	}
	if dev.hw.Output.Busy() {
		dev.stats.busy++
	}

	rearm := func() {
		d := time.Since(start)
		dev.stats.readTime += d
		dev.stats.nread++
		dev.stats.hkReadTime += d
		dev.stats.hkRead++
		if dev.run.ending {
			return
		}
		dev.tof.Reset()
		dev.tof.SetEnabled(true)
		dev.enableTrigger(true)
	}

	body, err := dev.enc.Encode(&rec)
	if err != nil {
		dev.msg.Printf("could not encode event %d: %+v", accepted, err)
		rearm()
		return
	}
	body = append([]byte(nil), body...)
	dev.send(event.Packet{Type: event.TypeOf(body, rec.Debug != nil), Body: body}, rearm)
}

// readADC waits for the PMT digitizers and reads them out.
func (dev *Device) readADC(rec *event.Record, accepted uint32) {
	deadline := time.Now().Add(adcWait)
	for !dev.hw.ADC.Ready() {
		if time.Now().After(deadline) {
			dev.elog.Add(errlog.PMTDAQTimeout, uint8(accepted>>8), uint8(accepted))
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
	for i, ch := range pmtChannels {
		v, err := dev.hw.ADC.Read(ch)
		if err != nil {
			dev.msg.Printf("could not read ADC channel %d: %+v", ch, err)
			continue
		}
		rec.ADC[i] = v
	}
}

// readTracker reads the tracker event of a trigger. Dummy hit lists
// stand in for the boards when the tracker could not be read out.
func (dev *Device) readTracker(accepted uint32) tracker.Event {
	trg := uint16(accepted)
	if !dev.run.readTkr || dev.tkr.Boards() == 0 {
		dev.stats.tkrReady++
		return dev.tkr.Dummy(trg, 0, 0, tracker.DummyNoTracker)
	}

	ready := false
poll:
	for try := 0; try < statusPolls; try++ {
		resp, err := dev.tkr.Send(0, tracker.CmdEventStatus)
		if err != nil || len(resp.Data) == 0 {
			dev.elog.AddOnce(errlog.TkrBadStatus, 0, uint8(try))
			continue
		}
		switch v := resp.Data[0]; v {
		case tracker.DataReady:
			ready = true
			break poll
		case tracker.DataNotReady:
		default:
			dev.elog.Add(errlog.TkrBadStatus, v, uint8(try))
		}
	}
	if !ready {
		if dev.stats.tkrNotReady < 0xFFFF {
			dev.stats.tkrNotReady++
		}
		dev.elog.AddOnce(errlog.TkrMissedTrigger, uint8(accepted>>8), uint8(accepted))
		return dev.tkr.Dummy(trg, 0, 0, tracker.DummyNotReady)
	}
	dev.stats.tkrReady++

	resp, err := dev.tkr.Send(0, tracker.CmdReadEvent, 0)
	if err == nil && resp.Status == 0 {
		return resp.Event
	}
	dev.elog.AddOnce(errlog.GetTkrEvent, status8(resp.Status), uint8(accepted))
	if err != nil {
		dev.msg.Printf("could not read tracker event %d: %+v", accepted, err)
	}
	evt := resp.Event
	if len(evt.Boards) != dev.tkr.Boards() {
		evt = dev.tkr.Dummy(trg, 0, 0, tracker.DummyReadFailed)
	}
	err = dev.resetTracker()
	if err != nil {
		dev.msg.Printf("could not reset tracker: %+v", err)
	}
	return evt
}

func status8(rc int) uint8 {
	if rc < 0 {
		return uint8(-rc)
	}
	return uint8(rc)
}

func sat8(v uint32) uint8 {
	if v > 0xFF {
		return 0xFF
	}
	return uint8(v)
}

// countPattern accumulates the trigger pattern counters.
func (dev *Device) countPattern(s uint8) {
	st := &dev.stats
	if s&0x04 != 0 {
		st.tkrTrg1++
	}
	if s&0x08 != 0 {
		st.tkrTrg2++
	}
	if s&0x0F == 0x01 {
		st.pmtOnly++
	}
	if s&0x01 == 0 {
		st.noCK++
	}
	if s&0x03 == 0x03 && s&0x0C != 0 {
		st.allTrg++
	}
	if s&0x03 == 0 {
		st.tkrOnly++
	}
}

// resetTracker resets the board state machines after a failed read.
// The ASICs are reset and configured again when they flag errors or
// when the tracker looks stuck.
func (dev *Device) resetTracker() error {
	enabled := dev.hw.Trigger.Enabled()
	if enabled {
		dev.enableTrigger(false)
	}
	accepted, _ := dev.counts()

	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		_, err := dev.tkr.Send(byte(brd), tracker.CmdResetSM)
		if err != nil {
			dev.elog.Add(errlog.NoTkrReset, uint8(brd), 0)
			return fmt.Errorf("daq: could not reset tracker board %d: %w", brd, err)
		}
	}

	codes, bad, failed := dev.asicErrors(dev.set.crc)
	var (
		tmo    = dev.tkr.Stats().Timeouts - dev.stats.lastTimeouts
		resets = dev.stats.tkrResets - dev.stats.lastResets
	)
	if bad || tmo > 12 || resets > 1 {
		if failed {
			dev.tkrSend(0, 0x05, 0x1F) // hard reset
		}
		dev.tkrSend(0, 0x0C, 0x1F) // soft reset
		dev.configureASICs(false)
		dev.elog.Add(errlog.ASICsReset, uint8(accepted>>8), uint8(accepted))
	}
	dev.stats.tkrResets++

	if dev.set.crc {
		dev.errRecord(accepted, codes)
	}

	if enabled {
		dev.tkrSend(0, tracker.CmdTrgEnable)
		dev.enableTrigger(true)
	}
	return nil
}

// asicErrors reads the configuration registers of the ASICs.
// The 2-bit error codes of the chips of a board are packed in codes,
// first chip in the most significant bits.
// Unless all is set, the scan stops at the first bad chip.
func (dev *Device) asicErrors(all bool) (codes [tracker.MaxBoards]uint32, bad, failed bool) {
	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		for chip := 0; chip < conddb.NumASIC; chip++ {
			resp, ok := dev.tkrSend(byte(brd), tracker.CmdASICReadConfig, byte(chip))
			cfg, err := tracker.DecodeASICConfig(resp.Data)
			if !ok || err != nil {
				failed = true
				cfg = tracker.ASICConfig{}
			}
			codes[brd] = codes[brd]<<2 | uint32(cfg.Errors&0x03)
			if cfg.Bad() {
				bad = true
				if !all {
					return codes, bad, failed
				}
			}
		}
	}
	return codes, bad, failed
}

// errorsOf returns the OR of the error codes of the chips of a board.
func errorsOf(codes uint32) uint8 {
	var v uint8
	for chip := 0; chip < conddb.NumASIC; chip++ {
		v |= uint8(codes>>(2*chip)) & 0x03
	}
	return v
}

// errRecord queues an error record describing the state of the tracker
// boards, to be written at the end of the run.
func (dev *Device) errRecord(trg uint32, codes [tracker.MaxBoards]uint32) {
	if dev.run.number == 0 || len(dev.errs) >= maxErrRecords {
		return
	}
	rec := event.ErrRecord{
		Trigger: trg,
		Wall:    event.PackTime(dev.hw.RTC.Now()),
	}
	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		b := byte(brd)
		rec.State[brd] = dev.hkByte(b, 0x78)

		var bits uint16
		for tst := 0; tst < 11; tst++ {
			if dev.hkByte(b, 0x77, byte(tst+1)) > 0 {
				bits |= 1 << tst
			}
		}
		if dev.hkByte(b, 0x55) > 0 {
			bits |= 1 << 11
		}
		if dev.hkByte(b, 0x75) > 0 {
			bits |= 1 << 12
		}
		if dev.hkWord(b, 0x68) != dev.hkWord(b, 0x6B) {
			bits |= 1 << 13
		}
		rec.ErrBits[brd] = bits

		v := codes[brd]
		rec.Codes[brd] = [3]uint8{uint8(v >> 16), uint8(v >> 8), uint8(v)}
	}
	buf, err := rec.MarshalBinary()
	if err != nil {
		dev.msg.Printf("could not marshal error record: %+v", err)
		return
	}
	dev.errs = append(dev.errs, buf)
}

// hkByte returns the first data byte of a housekeeping response.
func (dev *Device) hkByte(brd, code byte, args ...byte) uint8 {
	resp, ok := dev.tkrSend(brd, code, args...)
	if !ok || len(resp.Data) < 1 {
		return 0
	}
	return resp.Data[0]
}

// hkWord returns the first two data bytes of a housekeeping response.
func (dev *Device) hkWord(brd, code byte, args ...byte) uint16 {
	resp, ok := dev.tkrSend(brd, code, args...)
	if !ok || len(resp.Data) < 2 {
		return 0
	}
	return uint16(resp.Data[0])<<8 | uint16(resp.Data[1])
}

// configureASICs loads the configuration register, the thresholds and
// the masks of all the ASICs. Masks are always read back, the other
// registers only when verify is set.
func (dev *Device) configureASICs(verify bool) {
	n := dev.tkr.Boards()
	reg := dev.reg

	dev.tkrSend(0, tracker.CmdASICConfig, 0x1F, reg[0], reg[1], reg[2])
	if verify {
		for brd := 0; brd < n; brd++ {
			for chip := 0; chip < conddb.NumASIC; chip++ {
				resp, ok := dev.tkrSend(byte(brd), tracker.CmdASICReadConfig, byte(chip))
				cfg, err := tracker.DecodeASICConfig(resp.Data)
				if !ok || err != nil || cfg.Type != tracker.RegConfig || !cfg.Match(reg) {
					dev.elog.Add(errlog.TkrBadConfig, uint8(brd), uint8(chip))
				}
			}
		}
	}

	for brd := 0; brd < n; brd++ {
		for chip := 0; chip < conddb.NumASIC; chip++ {
			thr := dev.layers[brd][chip].Threshold
			dev.tkrSend(byte(brd), tracker.CmdASICThresh, byte(chip), thr)
			if !verify {
				continue
			}
			resp, ok := dev.tkrSend(byte(brd), tracker.CmdASICReadThresh, byte(chip))
			typ, v, err := tracker.DecodeASICThreshold(resp.Data)
			if !ok || err != nil || typ != tracker.RegThreshold || v != thr {
				dev.elog.Add(errlog.TkrBadDAC, uint8(brd), uint8(chip))
			}
		}
	}

	dev.loadMasks(tracker.CmdDataMask, tracker.CmdASICReadData, tracker.RegDataMask, errlog.TkrBadDataMask,
		func(c conddb.Chip) uint64 { return c.DataMask },
	)
	dev.loadMasks(tracker.CmdTriggerMask, tracker.CmdASICReadTrg, tracker.RegTrgMask, errlog.TkrBadTrgMask,
		func(c conddb.Chip) uint64 { return c.TrgMask },
	)
}

// loadMasks enables all the channels of all the chips, then loads the
// masks that disable some of them and reads every mask back.
func (dev *Device) loadMasks(load, read byte, typ uint8, code errlog.Code, mask func(conddb.Chip) uint64) {
	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		b := byte(brd)
		dev.tkrSend(b, load, append([]byte{0x1F}, conddb.MaskBytes(^uint64(0))...)...)
		for chip := 0; chip < conddb.NumASIC; chip++ {
			want := mask(dev.layers[brd][chip])
			if want != ^uint64(0) {
				dev.tkrSend(b, load, append([]byte{byte(chip)}, conddb.MaskBytes(want)...)...)
			}
			resp, ok := dev.tkrSend(b, read, byte(chip))
			got, v, err := tracker.DecodeASICMask(resp.Data)
			if !ok || err != nil || got != typ || v != want {
				dev.elog.Add(code, uint8(brd), uint8(chip))
			}
		}
	}
}
