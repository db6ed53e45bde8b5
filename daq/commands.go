// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/binary"
	"time"

	"github.com/go-lpc/aesop"
	"github.com/go-lpc/aesop/cmdproto"
	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/monitor"
	"github.com/go-lpc/aesop/tof"
	"github.com/go-lpc/aesop/tracker"
)

// handler executes a command and returns the body of its reply.
// Commands with an empty reply send nothing back.
type handler func(dev *Device, data []byte) []byte

type command struct {
	min, max int  // payload length
	safe     bool // accepted while the trigger is enabled
	fn       handler
}

var cmdTable = map[byte]command{
	0x01: {min: 2, max: 3, fn: (*Device).cmdLoadThreshold},
	0x02: {min: 1, max: 1, fn: (*Device).cmdReadThreshold},
	0x03: {safe: true, fn: (*Device).cmdErrors},
	0x04: {min: 3, max: 3, fn: (*Device).cmdLoadTOFDAC},
	0x05: {min: 1, max: 1, fn: (*Device).cmdReadTOFDAC},
	0x06: {min: 1, max: 1, fn: (*Device).cmdNop},
	0x07: {fn: (*Device).cmdVersion},
	0x10: {min: 3, max: 14, fn: (*Device).cmdTracker},
	0x33: {min: 1, max: 1, fn: (*Device).cmdSavedCount},
	0x34: {fn: (*Device).cmdTOFPointers},
	0x35: {min: 1, max: 1, fn: (*Device).cmdTOFLast},
	0x36: {min: 2, max: 2, fn: (*Device).cmdSetMask},
	0x37: {min: 1, max: 1, fn: (*Device).cmdCount},
	0x38: {fn: (*Device).cmdLogicReset},
	0x39: {min: 2, max: 2, safe: true, fn: (*Device).cmdSetPrescale},
	0x3A: {min: 1, max: 2, fn: (*Device).cmdSettling},
	0x3B: {min: 1, max: 1, safe: true, fn: (*Device).cmdTrigger},
	0x3C: {min: 4, max: 4, fn: (*Device).cmdStartRun},
	0x3D: {fn: (*Device).cmdTriggerStatus},
	0x3E: {min: 1, max: 1, fn: (*Device).cmdReadMask},
	0x41: {min: 5, max: 15, fn: (*Device).cmdASICMask},
	0x43: {min: 1, max: 1, fn: (*Device).cmdCalibEvent},
	0x44: {safe: true, fn: (*Device).cmdEndRun},
	0x45: {min: 10, max: 10, fn: (*Device).cmdSetRTC},
	0x46: {fn: (*Device).cmdReadRTC},
	0x47: {fn: (*Device).cmdResetTracker},
	0x48: {min: 1, max: 1, fn: (*Device).cmdCalibTiming},
	0x49: {fn: (*Device).cmdTkrRates},
	0x4B: {min: 1, max: 1, fn: (*Device).cmdPeakWait},
	0x4C: {min: 1, max: 1, safe: true, fn: (*Device).cmdTOFEnable},
	0x4E: {min: 1, max: 1, fn: (*Device).cmdCRCCheck},
	0x4F: {min: 1, max: 1, fn: (*Device).cmdTrgDelay},
	0x50: {fn: (*Device).cmdCounters},
	0x51: {fn: (*Device).cmdReadTime},
	0x53: {fn: (*Device).cmdPMTRates},
	0x54: {min: 3, max: 3, fn: (*Device).cmdASICReg},
	0x55: {min: 3, max: 3, fn: (*Device).cmdASICThreshold},
	0x56: {min: 1, max: 1, fn: (*Device).cmdConfigure},
	0x57: {min: 2, max: 2, safe: true, fn: (*Device).cmdStartHK},
	0x58: {safe: true, fn: (*Device).cmdStopHK},
	0x59: {min: 8, max: 8, fn: (*Device).cmdSetBoardMap},
	0x5A: {fn: (*Device).cmdBoardMap},
	0x5B: {min: 1, max: 8, fn: (*Device).cmdBump},
	0x5C: {min: 1, max: 1, safe: true, fn: (*Device).cmdStartTkrHK},
	0x5D: {safe: true, fn: (*Device).cmdStopTkrHK},
	0x5E: {safe: true, fn: (*Device).cmdHKNow},
	0x5F: {safe: true, fn: (*Device).cmdTkrHKNow},
	0x60: {min: 1, max: 1, fn: (*Device).cmdTkrRatesMult},
	0x61: {fn: (*Device).cmdASICErrors},
	0x62: {min: 1, max: 1, fn: (*Device).cmdReadPrescale},
	0x63: {min: 1, max: 1, fn: (*Device).cmdSetLogic},
	0x64: {fn: (*Device).cmdReadLogic},
	0x7A: {fn: (*Device).cmdNoop},
}

// sessionTable returns the payload lengths of the known commands.
func sessionTable() cmdproto.Table {
	tbl := make(cmdproto.Table, len(cmdTable))
	for code, cmd := range cmdTable {
		tbl[code] = cmdproto.Range{Min: cmd.min, Max: cmd.max}
	}
	return tbl
}

func (dev *Device) dispatch(cmd cmdproto.Command) {
	c, ok := dev.handlers[cmd.Code]
	if !ok {
		dev.elog.AddOnce(errlog.InvalidCommand, cmd.Code, uint8(len(cmd.Data)))
		return
	}
	if n := len(cmd.Data); n < c.min || n > c.max {
		return
	}
	if !c.safe && dev.hw.Trigger.Enabled() {
		dev.elog.AddOnce(errlog.CmdIgnore, cmd.Code, 0)
		dev.stats.ignored++
		return
	}

	body := c.fn(dev, cmd.Data)
	if len(body) == 0 {
		return
	}
	dev.send(event.Packet{Type: cmd.Code, Echo: cmd.Data, Body: body}, nil)
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

// tkrSend sends a command to a tracker board, logging failures.
func (dev *Device) tkrSend(brd, code byte, args ...byte) (tracker.Response, bool) {
	resp, err := dev.tkr.Send(brd, code, args...)
	if err != nil {
		dev.msg.Printf("could not send tracker command 0x%02x to board %d: %+v", code, brd, err)
		return resp, false
	}
	if resp.Kind == tracker.HousekeepingData || resp.Kind == tracker.EchoData {
		dev.stats.tkrCmdCount = resp.CmdCount
	}
	return resp, resp.Status == 0
}

func (dev *Device) cmdLoadThreshold(data []byte) []byte {
	switch ch := data[0]; {
	case ch == 5:
		if len(data) < 3 {
			dev.elog.Add(errlog.BadCmdInput, 0x01, ch)
			return nil
		}
		v := uint16(data[1])<<8 | uint16(data[2])
		err := dev.hw.DAC.Load(hw.DACPMT5, v)
		if err != nil {
			dev.msg.Printf("could not load PMT DAC: %+v", err)
			dev.elog.Add(errlog.DACLoad, ch, 0)
		}
	case ch >= 1 && ch <= 4:
		dev.set.thrDAC[ch-1] = data[1]
	default:
		dev.elog.Add(errlog.BadCmdInput, 0x01, ch)
	}
	return nil
}

func (dev *Device) cmdReadThreshold(data []byte) []byte {
	switch ch := data[0]; {
	case ch == 5:
		v, err := dev.hw.DAC.Read(hw.DACPMT5)
		if err != nil {
			dev.msg.Printf("could not read PMT DAC: %+v", err)
			dev.elog.Add(errlog.DACRead, ch, 0)
		}
		return u16(v)
	case ch >= 1 && ch <= 4:
		return []byte{dev.set.thrDAC[ch-1]}
	}
	return []byte{0}
}

func (dev *Device) cmdErrors([]byte) []byte {
	return errlog.Bytes(dev.elog.Drain())
}

func tofDAC(ch byte) (uint8, bool) {
	switch ch {
	case 1:
		return hw.DACTOF1, true
	case 2:
		return hw.DACTOF2, true
	}
	return 0, false
}

func (dev *Device) cmdLoadTOFDAC(data []byte) []byte {
	addr, ok := tofDAC(data[0])
	if !ok {
		dev.elog.Add(errlog.BadCmdInput, 0x04, data[0])
		return nil
	}
	err := dev.hw.DAC.Load(addr, uint16(data[1])<<8|uint16(data[2]))
	if err != nil {
		dev.msg.Printf("could not load TOF DAC: %+v", err)
		dev.elog.Add(errlog.TOFDACLoad, data[0], 0)
	}
	return nil
}

func (dev *Device) cmdReadTOFDAC(data []byte) []byte {
	addr, ok := tofDAC(data[0])
	if !ok {
		dev.elog.Add(errlog.BadCmdInput, 0x05, data[0])
		return u16(0)
	}
	v, err := dev.hw.DAC.Read(addr)
	if err != nil {
		dev.msg.Printf("could not read TOF DAC: %+v", err)
		dev.elog.Add(errlog.TOFDACRead, data[0], 0)
	}
	return u16(v)
}

func (dev *Device) cmdNop([]byte) []byte { return nil }

func (dev *Device) cmdNoop([]byte) []byte {
	dev.stats.noops++
	return nil
}

func (dev *Device) cmdVersion([]byte) []byte {
	return []byte{aesop.MajorVersion, aesop.MinorVersion}
}

func (dev *Device) cmdTracker(data []byte) []byte {
	var (
		brd  = data[0]
		code = data[1]
		n    = int(data[2])
		args = data[3:]
	)
	if code == 0x52 || code == 0x53 {
		dev.elog.Add(errlog.BadTkrCmd, code, 255)
		return nil
	}
	if n < len(args) {
		args = args[:n]
	}
	resp, err := dev.tkr.SendCommand(brd, code, args)
	if err != nil {
		dev.msg.Printf("could not send tracker command 0x%02x: %+v", code, err)
	}
	return resp.Data
}

func (dev *Device) pmtCount(data []byte, v func(ch int) uint32) []byte {
	ch := int(data[0]) - 1
	if ch < 0 || ch >= hw.NumPMT {
		dev.elog.Add(errlog.BadCmdInput, 0x37, data[0])
		return make([]byte, 5)
	}
	n := v(ch)
	return append(u32(n>>8), uint8(n))
}

func (dev *Device) cmdSavedCount(data []byte) []byte {
	return dev.pmtCount(data, func(ch int) uint32 {
		return dev.run.saved[ch]
	})
}

func (dev *Device) cmdCount(data []byte) []byte {
	return dev.pmtCount(data, func(ch int) uint32 {
		return dev.hw.Counters.Count(ch) - dev.run.base[ch]
	})
}

func (dev *Device) cmdTOFPointers([]byte) []byte {
	a, b := dev.tof.Pointers()
	return []byte{uint8(a), uint8(b)}
}

func (dev *Device) cmdTOFLast(data []byte) []byte {
	ch := tof.A
	if data[0] != 0 {
		ch = tof.B
	}
	out := make([]byte, 9)
	hit, ptr, ok := dev.tof.Last(ch)
	out[8] = uint8(ptr)
	if !ok {
		return out
	}
	binary.BigEndian.PutUint16(out[0:], hit.Ref())
	binary.BigEndian.PutUint16(out[3:], hit.Stop())
	binary.BigEndian.PutUint16(out[6:], uint16(hit.Clock))
	return out
}

func maskKind(v byte) (byte, bool) {
	switch v {
	case 1:
		return 'e', true
	case 2:
		return 'p', true
	}
	return 0, false
}

func (dev *Device) cmdSetMask(data []byte) []byte {
	kind, ok := maskKind(data[0])
	if !ok {
		dev.elog.Add(errlog.BadCmdInput, 0x36, data[0])
		return nil
	}
	dev.hw.Trigger.SetMask(kind, data[1]&0x0F)
	return nil
}

func (dev *Device) cmdReadMask(data []byte) []byte {
	kind, ok := maskKind(data[0])
	if !ok {
		return []byte{0}
	}
	return []byte{dev.hw.Trigger.Mask(kind)}
}

func (dev *Device) cmdLogicReset([]byte) []byte {
	t := dev.hw.Clock.Ticks()
	dev.logicReset()
	return []byte{uint8(t >> 16), uint8(t >> 8), uint8(t)}
}

// logicReset clears the trigger counters and restarts the singles counts.
func (dev *Device) logicReset() {
	dev.mu.Lock()
	dev.latch.accepted = 0
	dev.latch.dead = 0
	dev.mu.Unlock()

	dev.stats.busy = 0
	dev.stats.tkrReady = 0
	dev.stats.tkrNotReady = 0
	dev.stats.lastAccepted = 0
	dev.stats.lastDead = 0
	for i := range dev.run.base {
		dev.run.base[i] = dev.hw.Counters.Count(i)
	}
	dev.run.saved = [hw.NumPMT]uint32{}
	if dev.mon.pmt.State() != monitor.Idle {
		dev.mon.pmt.Start(dev.hkPeriod())
	}
}

func (dev *Device) cmdSetPrescale(data []byte) []byte {
	if data[0] != 1 && data[0] != 2 {
		dev.elog.Add(errlog.BadCmdInput, 0x39, data[0])
		return nil
	}
	dev.hw.Trigger.SetPrescale(data[0], data[1])
	return nil
}

func (dev *Device) cmdReadPrescale(data []byte) []byte {
	if data[0] != 1 && data[0] != 2 {
		return []byte{0}
	}
	return []byte{dev.hw.Trigger.Prescale(data[0])}
}

func (dev *Device) cmdSettling(data []byte) []byte {
	if len(data) == 1 {
		for i := 3; i <= 6; i++ {
			dev.set.windows[i] = data[0]
		}
		return nil
	}
	ch := int(data[0])
	if ch < 2 || ch > 5 {
		dev.elog.Add(errlog.BadCmdInput, 0x3A, data[0])
		return nil
	}
	dev.set.windows[ch+1] = data[1]
	return nil
}

func (dev *Device) cmdTrigger(data []byte) []byte {
	if data[0] == 1 {
		if dev.tkr.Boards() > 0 {
			dev.tkrSend(0, tracker.CmdTrgEnable)
		}
		dev.enableTrigger(true)
		return nil
	}
	dev.enableTrigger(false)
	if dev.tkr.Boards() > 0 {
		dev.tkrSend(0, tracker.CmdTrgDisable)
	}
	return nil
}

func b2u8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func (dev *Device) cmdTriggerStatus([]byte) []byte {
	return []byte{b2u8(dev.hw.Trigger.Enabled())}
}

// cmdASICMask loads a mask register built from a list of strip clusters,
// each given by its width and its first strip.
func (dev *Device) cmdASICMask(data []byte) []byte {
	var (
		brd    = data[0] & 0x07
		chip   = data[1] & 0x1F
		typ    = data[2] & 0x03
		fill   = data[3]&0x01 != 0
		nclust = int(data[4])
	)
	if chip != 0x1F && int(chip) >= conddb.NumASIC {
		return nil
	}
	if n := (len(data) - 5) / 2; nclust > n {
		nclust = n
	}
	var mask uint64
	for i := 0; i < nclust; i++ {
		nch := int(data[5+2*i])
		ch0 := 64 - nch - int(data[6+2*i])
		if nch <= 0 || ch0 < 0 {
			continue
		}
		mask |= (uint64(1)<<uint(nch) - 1) << uint(ch0)
	}
	if fill {
		mask = ^mask
	}

	var code byte
	switch typ {
	case calMask:
		code = tracker.CmdCalMask
	case dataMask:
		code = tracker.CmdDataMask
	default:
		code = tracker.CmdTriggerMask
	}
	for c := range dev.layers[brd] {
		if chip != 0x1F && int(chip) != c {
			continue
		}
		switch code {
		case tracker.CmdDataMask:
			dev.layers[brd][c].DataMask = mask
		case tracker.CmdTriggerMask:
			dev.layers[brd][c].TrgMask = mask
		}
	}
	dev.tkrSend(brd, code, append([]byte{chip}, conddb.MaskBytes(mask)...)...)
	return nil
}

// Mask register types of the mask command.
const (
	calMask  = 0
	dataMask = 1
)

func (dev *Device) cmdCalibEvent(data []byte) []byte {
	tag := data[0]&0x03 | 0x04
	resp, ok := dev.tkrSend(0, tracker.CmdReadEvent, tag)
	if !ok {
		dev.elog.AddOnce(errlog.GetTkrEvent, uint8(resp.Status), tag)
	}
	boards := resp.Event.Boards
	out := make([]byte, 0, event.MaxLen)
	out = append(out, 'Z', 'E', 'R', 'O', uint8(len(boards)))
	for i, brd := range boards {
		if len(out) > event.MaxLen-(5+len(brd.Hits)) {
			dev.elog.Add(errlog.EvtTooBig, uint8(i), uint8(len(boards)))
			break
		}
		out = append(out, uint8(len(brd.Hits)))
		out = append(out, brd.Hits...)
	}
	return append(out, 'F', 'I', 'N', 'I')
}

func (dev *Device) cmdSetRTC(data []byte) []byte {
	var (
		sec   = int(data[0])
		min   = int(data[1])
		hour  = int(data[2])
		day   = int(data[4])
		month = int(data[7])
		year  = int(data[8])<<8 | int(data[9])
	)
	if sec > 59 || min > 59 || hour > 23 || day < 1 || day > 31 || month < 1 || month > 12 {
		dev.elog.Add(errlog.BadCmdInput, 0x45, 0)
		return nil
	}
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	err := dev.hw.RTC.Set(t)
	if err != nil {
		dev.msg.Printf("could not set RTC: %+v", err)
	}
	return nil
}

func (dev *Device) cmdReadRTC([]byte) []byte {
	t := dev.hw.RTC.Now().UTC()
	yday := t.YearDay()
	return []byte{
		uint8(t.Second()), uint8(t.Minute()), uint8(t.Hour()),
		uint8(t.Weekday()), uint8(t.Day()),
		uint8(yday >> 8), uint8(yday),
		uint8(t.Month()),
		uint8(t.Year() >> 8), uint8(t.Year()),
	}
}

func (dev *Device) cmdResetTracker([]byte) []byte {
	if dev.tkr.Boards() == 0 {
		return nil
	}
	err := dev.resetTracker()
	if err != nil {
		dev.msg.Printf("could not reset tracker: %+v", err)
	}
	return nil
}

func (dev *Device) cmdCalibTiming(data []byte) []byte {
	if data[0] > 7 {
		for brd := 0; brd < dev.tkr.Boards(); brd++ {
			dev.calibrateTiming(byte(brd))
		}
		return nil
	}
	dev.calibrateTiming(data[0])
	return nil
}

// calibrateTiming has a board calibrate the timing of its ASIC data
// inputs, reading each ASIC a few times to provide data transitions.
func (dev *Device) calibrateTiming(brd byte) {
	dev.tkrSend(brd, 0x81)
	for chip := 0; chip < conddb.NumASIC; chip++ {
		for i := 0; i < 5; i++ {
			dev.tkrSend(brd, tracker.CmdASICReadConfig, byte(chip))
		}
	}
	dev.tkrSend(brd, 0x82)
}

func (dev *Device) cmdTkrRates([]byte) []byte {
	n := dev.tkr.Boards()
	if n == 0 {
		return nil
	}
	out := []byte{tracker.CmdReadRate, uint8(n)}
	for _, v := range dev.mon.tkr.Rates() {
		out = append(out, u16(v)...)
	}
	return out
}

func (dev *Device) cmdPeakWait(data []byte) []byte {
	if data[0] >= 127 {
		dev.elog.Add(errlog.BadCmdInput, 0x4B, data[0])
		return nil
	}
	dev.set.windows[2] = data[0]
	return nil
}

func (dev *Device) cmdTOFEnable(data []byte) []byte {
	if data[0] == 1 {
		dev.tof.Reset()
		dev.tof.SetEnabled(true)
		return nil
	}
	dev.tof.SetEnabled(false)
	return nil
}

func (dev *Device) cmdCRCCheck(data []byte) []byte {
	dev.set.crc = data[0] != 0
	return nil
}

func (dev *Device) cmdTrgDelay(data []byte) []byte {
	dev.set.windows[7] = data[0]
	return nil
}

func (dev *Device) cmdCounters([]byte) []byte {
	cnt := dev.counters()
	buf, _ := cnt.MarshalBinary()
	return buf
}

func (dev *Device) cmdReadTime([]byte) []byte {
	out := u32(uint32(dev.stats.readTime / time.Microsecond))
	return append(out, u32(dev.stats.nread)...)
}

func (dev *Device) cmdPMTRates([]byte) []byte {
	sums, ticks := dev.mon.pmt.Sums()
	out := u16(ticks)
	for _, v := range sums {
		out = append(out, u16(v)...)
	}
	return out
}

func (dev *Device) cmdASICReg(data []byte) []byte {
	copy(dev.reg[:], data)
	dev.tkrSend(0, tracker.CmdASICConfig, 0x1F, data[0], data[1], data[2])
	return nil
}

func (dev *Device) cmdASICThreshold(data []byte) []byte {
	var (
		brd  = data[0] & 0x07
		chip = data[1] & 0x1F
		thr  = data[2]
	)
	if chip != 0x1F && int(chip) >= conddb.NumASIC {
		return nil
	}
	for c := range dev.layers[brd] {
		if chip == 0x1F || int(chip) == c {
			dev.layers[brd][c].Threshold = thr
		}
	}
	dev.tkrSend(brd, tracker.CmdASICThresh, chip, thr)
	return nil
}

func (dev *Device) cmdConfigure(data []byte) []byte {
	if dev.tkr.Boards() == 0 {
		return nil
	}
	n := data[0]
	if n == 0 || n > tracker.MaxBoards {
		dev.elog.Add(errlog.TkrNumBoards, n, 0x77)
		return nil
	}
	dev.tkrSend(0, tracker.CmdSetBoards, n)
	dev.tkrSend(0, tracker.CmdASICPower)
	dev.configureASICs(true)
	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		dev.tkrSend(byte(brd), tracker.CmdResetSM)
	}
	return nil
}

func (dev *Device) cmdStartHK(data []byte) []byte {
	dev.startHousekeeping(uint32(data[0]), data[1] > 0)
	return nil
}

func (dev *Device) cmdStopHK([]byte) []byte {
	dev.mu.Lock()
	dev.latch.doHK = false
	dev.latch.hkDue = false
	dev.mu.Unlock()
	dev.mon.pmt.Stop()
	dev.mon.tkr.Stop()
	return nil
}

func (dev *Device) cmdSetBoardMap(data []byte) []byte {
	var bmap conddb.BoardMap
	copy(bmap[:], data)
	err := bmap.Validate()
	if err != nil {
		dev.msg.Printf("invalid board map: %+v", err)
		dev.elog.Add(errlog.BadCmdInput, 0x59, 0)
		return nil
	}
	dev.set.bmap = bmap
	err = dev.loadLayers()
	if err != nil {
		dev.msg.Printf("could not reload ASIC configuration: %+v", err)
	}
	return nil
}

func (dev *Device) cmdBoardMap([]byte) []byte {
	return append([]byte(nil), dev.set.bmap[:]...)
}

func (dev *Device) cmdBump(data []byte) []byte {
	if len(data) == 1 {
		for i := range dev.set.bump {
			dev.set.bump[i] = data[0]
		}
	} else {
		copy(dev.set.bump[:], data)
	}
	dev.applyBump()
	return nil
}

func (dev *Device) cmdStartTkrHK(data []byte) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.latch.tkrPeriod = uint32(data[0])
	dev.latch.doTkrHK = true
	dev.latch.tkrDue = false
	return nil
}

func (dev *Device) cmdStopTkrHK([]byte) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.latch.doTkrHK = false
	dev.latch.tkrDue = false
	return nil
}

func (dev *Device) cmdHKNow([]byte) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.latch.hkDue = dev.latch.doHK
	return nil
}

func (dev *Device) cmdTkrHKNow([]byte) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.latch.tkrDue = dev.latch.doTkrHK
	return nil
}

func (dev *Device) cmdTkrRatesMult(data []byte) []byte {
	dev.set.tkrMult = data[0]
	if dev.set.tkrMult == 0 {
		dev.set.tkrMult = 1
	}
	return nil
}

func (dev *Device) cmdASICErrors([]byte) []byte {
	codes, _, _ := dev.asicErrors(true)
	out := make([]byte, 0, 3*len(codes))
	for _, v := range codes {
		out = append(out, uint8(v>>16), uint8(v>>8), uint8(v))
	}
	return out
}

func (dev *Device) cmdSetLogic(data []byte) []byte {
	dev.hw.Trigger.SetLogic(b2u8(data[0] != 0))
	return nil
}

func (dev *Device) cmdReadLogic([]byte) []byte {
	return []byte{dev.hw.Trigger.Logic()}
}
