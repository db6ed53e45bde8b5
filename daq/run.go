// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"github.com/go-lpc/aesop"
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tracker"
)

// cmdStartRun resets the run counters and sends the begin-of-run record.
// The trigger is enabled once the record is written.
func (dev *Device) cmdStartRun(data []byte) []byte {
	dev.resetRun()
	dev.run.number = uint16(data[0])<<8 | uint16(data[1])
	dev.run.readTkr = data[2] == 1 && dev.tkr.Boards() > 0
	dev.run.debugTOF = data[3] == 1
	dev.run.ending = false
	dev.errs = nil

	for brd := 0; brd < dev.tkr.Boards(); brd++ {
		dev.tkrSend(byte(brd), tracker.CmdResetSM)
	}

	bor := dev.bor()
	body, err := bor.MarshalBinary()
	if err != nil {
		dev.msg.Printf("could not marshal begin-of-run record: %+v", err)
		return nil
	}
	dev.msg.Printf("start run %d", dev.run.number)
	dev.send(event.Packet{Type: 0x3C, Echo: data, Body: body}, func() {
		if dev.tkr.Boards() > 0 {
			dev.tkrSend(0, tracker.CmdTrgEnable)
		}
		dev.tof.Reset()
		dev.tof.SetEnabled(true)
		dev.enableTrigger(true)
	})
	return nil
}

// resetRun clears the counters accumulated over a run.
func (dev *Device) resetRun() {
	dev.logicReset()
	dev.sess.ResetStats()
	dev.tkr.ResetStats()
	dev.enc.ResetStats()
	dev.diag = event.Diag{}
	dev.stats = stats{
		tkrTemp:     dev.stats.tkrTemp,
		tkrCmdCount: dev.stats.tkrCmdCount,
		nhk:         dev.stats.nhk,
	}
	dev.tof.Reset()
}

func (dev *Device) readDAC(addr uint8, code errlog.Code) uint16 {
	v, err := dev.hw.DAC.Read(addr)
	if err != nil {
		dev.msg.Printf("could not read DAC 0x%02x: %+v", addr, err)
		dev.elog.Add(code, 0, addr)
		return 0
	}
	return v
}

func (dev *Device) bor() event.BOR {
	bor := event.BOR{
		Run:      dev.run.number,
		Wall:     event.PackTime(dev.hw.RTC.Now()),
		Major:    aesop.MajorVersion,
		Minor:    aesop.MinorVersion,
		ThrDAC:   dev.set.thrDAC,
		PMTDAC:   dev.readDAC(hw.DACPMT5, errlog.DACRead),
		Windows:  dev.set.windows,
		ThrBump:  dev.set.bump,
		TkrLogic: dev.hw.Trigger.Logic(),
	}
	bor.TOFDAC[0] = dev.readDAC(hw.DACTOF1, errlog.TOFDACRead)
	bor.TOFDAC[1] = dev.readDAC(hw.DACTOF2, errlog.TOFDACRead)
	bor.Windows[8] = dev.hw.Trigger.Prescale(2)
	bor.Windows[9] = dev.hw.Trigger.Prescale(1)
	bor.TrgMask = [2]uint8{dev.hw.Trigger.Mask('e'), dev.hw.Trigger.Mask('p')}

	n := dev.tkr.Boards()
	if n == 0 {
		return bor
	}
	bor.TkrInfo = [2]uint8{dev.hkByte(0, 0x07), dev.hkByte(0, 0x74)}
	for lyr := 0; lyr < n; lyr++ {
		b := byte(lyr)
		cmds := dev.hkWord(b, 0x71)
		bor.Layers[lyr] = [5]uint8{
			dev.hkByte(b, tracker.CmdVersion),
			dev.hkByte(b, 0x0B),
			dev.hkByte(b, 0x1F),
			uint8(cmds >> 8), uint8(cmds),
		}
	}
	return bor
}

// cmdEndRun disables the trigger and sends the end-of-run record.
// The error records of the run follow it.
func (dev *Device) cmdEndRun([]byte) []byte {
	dev.enableTrigger(false)
	if dev.tkr.Boards() > 0 {
		dev.tkrSend(0, tracker.CmdTrgDisable)
	}
	dev.tof.SetEnabled(false)
	dev.run.ending = true

	eor := dev.eor()
	dev.msg.Printf("end run %d: %d triggers, %d dead", eor.Run, eor.Triggers, eor.Dead)
	dev.run.number = 0

	body, err := eor.MarshalBinary()
	if err != nil {
		dev.msg.Printf("could not marshal end-of-run record: %+v", err)
		return nil
	}
	return body
}

func (dev *Device) eor() event.EOR {
	accepted, dead := dev.counts()
	st := &dev.stats
	eor := event.EOR{
		Run:         dev.run.number,
		Dead:        dead,
		Triggers:    accepted,
		BadCRC:      dev.diag.BadCRC,
		TkrReady:    st.tkrReady,
		TkrNotReady: st.tkrNotReady,
		TOFAvgA:     st.tofA.avg(),
		TOFAvgB:     st.tofB.avg(),
		TOFMaxA:     st.tofA.max,
		TOFMaxB:     st.tofB.max,
		Busy:        st.busy,
		Counters:    dev.counters(),
	}

	n := dev.tkr.Boards()
	if n == 0 {
		return eor
	}
	eor.TkrTrg = dev.hkWord(0, tracker.CmdEndOfRun)
	codes, _, _ := dev.asicErrors(true)
	for brd := 0; brd < n; brd++ {
		b := byte(brd)
		eor.Boards[brd] = event.BoardSummary{
			Triggers: dev.hkWord(b, 0x68),
			Reads:    dev.hkWord(b, 0x6B),
			Diag: [5]uint8{
				dev.hkByte(b, 0x75),
				dev.hkByte(b, 0x77, 3),
				dev.hkByte(b, 0x78),
				errorsOf(codes[brd]),
				dev.hkByte(b, 0x77, 9),
			},
		}
	}
	return eor
}

// endRun writes the pending error records, most recent first, after the
// end-of-run record.
func (dev *Device) endRun() {
	if !dev.run.ending || len(dev.out) > 0 {
		return
	}
	n := len(dev.errs)
	if n == 0 {
		dev.run.ending = false
		return
	}
	body := dev.errs[n-1]
	dev.errs = dev.errs[:n-1]
	dev.send(event.Packet{Type: event.TypeOf(body, false), Body: body}, nil)
}

// counters returns the run counters.
func (dev *Device) counters() event.Counters {
	var (
		ses = dev.sess.Stats()
		tkr = dev.tkr.Stats()
		st  = &dev.stats
	)
	return event.Counters{
		GlobalCmds:  ses.Global,
		Cmds:        ses.Commands,
		CmdTimeouts: ses.Timeouts,
		TkrResets:   sat8(st.tkrResets),
		ASICErrEvts: dev.diag.ASICErrEvts,
		ASICParity:  dev.diag.ASICParity,
		BadASICHead: dev.diag.BadASICHead,
		BadClust:    dev.diag.BadClust,
		BadCmds:     ses.BadCmds,
		BigClust:    dev.diag.BigClust,
		TkrOverflow: dev.diag.TkrOverflow,
		TagMismatch: dev.diag.TagMismatch,
		EvtTooBig:   dev.enc.TooBig(),
		TkrDataErrs: tkr.DataErrors,
		TkrBadNData: tkr.BadNData,
		TkrTimeouts: uint16(tkr.Timeouts),
		TkrTrg1:     st.tkrTrg1,
		TkrTrg2:     st.tkrTrg2,
		PMTOnly:     st.pmtOnly,
		TkrOnly:     st.tkrOnly,
		AllTrg:      st.allTrg,
		NoCK:        st.noCK,
		LiveTime:    st.liveTime(),
		NOOPs:       st.noops,
	}
}

// liveTime returns the weighted average of the sampled live fractions,
// in units of 0.01%.
func (st *stats) liveTime() uint16 {
	if st.weights <= 0 {
		return 0
	}
	return uint16(10000 * st.liveSum / st.weights)
}
