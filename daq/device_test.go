// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-lpc/aesop/cmdproto"
	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/sim"
)

func newTestInstrument(t *testing.T, nboards int) *sim.Instrument {
	t.Helper()

	var cfg conddb.Config
	cfg.Reg = [3]uint8{0x12, 0x34, 0xE0}
	for i := range cfg.Chips {
		for j := range cfg.Chips[i] {
			cfg.Chips[i][j] = conddb.Chip{
				DataMask:  ^uint64(0),
				TrgMask:   ^uint64(0),
				Threshold: 20,
			}
		}
	}
	mem, err := sim.NewEEPROM(cfg)
	if err != nil {
		t.Fatalf("could not create EEPROM: %+v", err)
	}

	clk := new(sim.Clock)
	tkr := sim.NewTracker(nboards, sim.WithReadWait(time.Millisecond))
	return &sim.Instrument{
		Clock:    clk,
		RTC:      sim.NewRTC(time.Date(2023, 6, 15, 14, 13, 12, 0, time.UTC)),
		Tracker:  tkr,
		Trigger:  sim.NewTrigger(clk, tkr),
		TOF:      sim.NewTOF(),
		ADC:      sim.NewADC(),
		Counters: new(sim.Counters),
		Output:   sim.NewOutput(nil),
		DAC:      sim.NewDAC(),
		EEPROM:   mem,
	}
}

func peripherals(ins *sim.Instrument) Peripherals {
	return Peripherals{
		Tracker:  ins.Tracker,
		Trigger:  ins.Trigger,
		TOF:      ins.TOF,
		ADC:      ins.ADC,
		Counters: ins.Counters,
		Output:   ins.Output,
		Storage:  ins.EEPROM,
		DAC:      ins.DAC,
		Clock:    ins.Clock,
		RTC:      ins.RTC,
	}
}

func newTestDevice(t *testing.T, nboards int, opts ...Option) (*Device, *sim.Instrument) {
	t.Helper()
	ins := newTestInstrument(t, nboards)
	opts = append([]Option{
		WithBoards(nboards),
		WithLogger(log.New(io.Discard, "", 0)),
		WithTrackerTimeout(20*time.Millisecond, 2),
	}, opts...)
	dev, err := New(peripherals(ins), opts...)
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}
	return dev, ins
}

// exec runs a command and returns the body of its reply, if any.
func exec(dev *Device, code byte, data ...byte) []byte {
	n := len(dev.out)
	dev.dispatch(cmdproto.Command{Code: code, Data: data})
	if len(dev.out) == n {
		return nil
	}
	body := dev.out[len(dev.out)-1].pkt.Body
	dev.out = dev.out[:n]
	return body
}

// packets decodes all the packets written to the output link.
func packets(t *testing.T, ins *sim.Instrument) []event.Packet {
	t.Helper()
	var (
		out []event.Packet
		dec = event.NewDecoder(bytes.NewReader(ins.Output.Bytes()))
	)
	for {
		var pkt event.Packet
		err := dec.Decode(&pkt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("could not decode packet: %+v", err)
		}
		out = append(out, pkt)
	}
}

func TestNewFail(t *testing.T) {
	ins := newTestInstrument(t, 0)

	p := peripherals(ins)
	p.DAC = nil
	_, err := New(p)
	if err == nil {
		t.Fatalf("expected an error for a missing peripheral")
	}
	if got, want := err.Error(), "daq: missing DAC peripheral"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	_, err = New(peripherals(ins), WithBoards(9), WithLogger(log.New(io.Discard, "", 0)))
	if err == nil {
		t.Fatalf("expected an error for an invalid number of boards")
	}

	p = peripherals(ins)
	p.Storage = failStorage{}
	_, err = New(p, WithLogger(log.New(io.Discard, "", 0)))
	if err == nil {
		t.Fatalf("expected an error for an unreadable configuration memory")
	}
}

type failStorage struct{}

func (failStorage) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("storage failure")
}

func (failStorage) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("storage failure")
}

func TestCommands(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	for _, tc := range []struct {
		name string
		set  []byte // command loading a value, code first
		get  []byte // command reading it back, code first
		want []byte
	}{
		{
			name: "version",
			get:  []byte{0x07},
			want: []byte{28, 7},
		},
		{
			name: "pmt-threshold",
			set:  []byte{0x01, 5, 1, 0x23},
			get:  []byte{0x02, 5},
			want: []byte{1, 0x23},
		},
		{
			name: "thr-dac",
			set:  []byte{0x01, 2, 42},
			get:  []byte{0x02, 2},
			want: []byte{42},
		},
		{
			name: "tof-dac",
			set:  []byte{0x04, 1, 0x0A, 0xBC},
			get:  []byte{0x05, 1},
			want: []byte{0x0A, 0xBC},
		},
		{
			name: "trigger-mask",
			set:  []byte{0x36, 1, 0x0F},
			get:  []byte{0x3E, 1},
			want: []byte{0x0F},
		},
		{
			name: "prescale",
			set:  []byte{0x39, 2, 7},
			get:  []byte{0x62, 2},
			want: []byte{7},
		},
		{
			name: "logic",
			set:  []byte{0x63, 1},
			get:  []byte{0x64},
			want: []byte{1},
		},
		{
			name: "rtc",
			set:  []byte{0x45, 15, 14, 13, 4, 15, 0, 166, 6, 0x07, 0xE7},
			get:  []byte{0x46},
			want: []byte{15, 14, 13, 4, 15, 0, 166, 6, 0x07, 0xE7},
		},
		{
			name: "board-map",
			set:  []byte{0x59, 1, 0, 3, 2, 5, 4, 8, 6},
			get:  []byte{0x5A},
			want: []byte{1, 0, 3, 2, 5, 4, 8, 6},
		},
		{
			name: "trigger-status",
			get:  []byte{0x3D},
			want: []byte{0},
		},
		{
			name: "tof-pointers",
			get:  []byte{0x34},
			want: []byte{0, 0},
		},
		{
			name: "no-errors",
			get:  []byte{0x03},
			want: []byte{0x00, 0xEE, 0xFF},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.set != nil {
				if body := exec(dev, tc.set[0], tc.set[1:]...); body != nil {
					t.Fatalf("unexpected reply: %x", body)
				}
			}
			got := exec(dev, tc.get[0], tc.get[1:]...)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("invalid reply:\ngot= %x\nwant=%x", got, tc.want)
			}
			if n := dev.elog.Len(); n != 0 {
				t.Fatalf("unexpected errors: %v", dev.elog.Drain())
			}
		})
	}

	if got, want := ins.RTC.Now(), time.Date(2023, 6, 15, 13, 14, 15, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("invalid RTC: got=%v, want=%v", got, want)
	}
	if got, want := dev.layers[0][0].Threshold, uint8(20); got != want {
		t.Fatalf("invalid layer threshold: got=%d, want=%d", got, want)
	}
}

func TestCommandErrors(t *testing.T) {
	dev, _ := newTestDevice(t, 0)

	for _, tc := range []struct {
		name string
		cmd  []byte
		want errlog.Code
	}{
		{"bad-threshold-channel", []byte{0x01, 7, 1}, errlog.BadCmdInput},
		{"bad-tof-dac", []byte{0x04, 3, 0, 0}, errlog.BadCmdInput},
		{"bad-board-map", []byte{0x59, 0, 0, 1, 2, 3, 4, 5, 6}, errlog.BadCmdInput},
		{"bad-peak-wait", []byte{0x4B, 200}, errlog.BadCmdInput},
		{"bad-rtc", []byte{0x45, 61, 0, 0, 0, 1, 0, 1, 1, 0x07, 0xE7}, errlog.BadCmdInput},
		{"unknown", []byte{0x99}, errlog.InvalidCommand},
		{"tracker-poll", []byte{0x10, 0, 0x52, 0}, errlog.BadTkrCmd},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = exec(dev, tc.cmd[0], tc.cmd[1:]...)
			ents := dev.elog.Drain()
			if len(ents) != 1 {
				t.Fatalf("invalid error log: %v", ents)
			}
			if got, want := ents[0].Code, tc.want; got != want {
				t.Fatalf("invalid error code: got=%v, want=%v", got, want)
			}
		})
	}

	if got, want := dev.set.bmap, conddb.DefaultBoardMap(); got != want {
		t.Fatalf("invalid board map kept: got=%v, want=%v", got, want)
	}

	if body := exec(dev, 0x02); body != nil {
		t.Fatalf("command with a short payload was executed: %x", body)
	}

	_ = exec(dev, 0x7A)
	_ = exec(dev, 0x7A)
	if got, want := dev.counters().NOOPs, uint16(2); got != want {
		t.Fatalf("invalid no-op count: got=%d, want=%d", got, want)
	}
}

func TestCommandIgnored(t *testing.T) {
	dev, ins := newTestDevice(t, 0)
	ins.Trigger.Enable(true)

	if body := exec(dev, 0x07); body != nil {
		t.Fatalf("command executed with the trigger enabled: %x", body)
	}
	if !dev.elog.Has(errlog.CmdIgnore) {
		t.Fatalf("missing ignored command error")
	}
	if got, want := dev.stats.ignored, uint16(1); got != want {
		t.Fatalf("invalid ignored count: got=%d, want=%d", got, want)
	}

	_ = exec(dev, 0x39, 1, 3)
	if got, want := ins.Trigger.Prescale(1), uint8(3); got != want {
		t.Fatalf("invalid prescale: got=%d, want=%d", got, want)
	}

	_ = exec(dev, 0x3B, 0)
	if ins.Trigger.Enabled() {
		t.Fatalf("trigger still enabled")
	}
	if got := exec(dev, 0x07); got == nil {
		t.Fatalf("command ignored with the trigger disabled")
	}
}

func TestCommandTimeout(t *testing.T) {
	dev, _ := newTestDevice(t, 0, WithCommandTimeout(10*time.Millisecond))

	raw, err := cmdproto.Encode(cmdproto.Selector, 0x3C, []byte{0, 7, 1, 0})
	if err != nil {
		t.Fatalf("could not encode command: %+v", err)
	}
	dev.Inject(raw[:2*cmdproto.FrameLen])
	dev.Step()
	if got, want := dev.sess.State(), cmdproto.ReceivingPayload; got != want {
		t.Fatalf("invalid session state: got=%v, want=%v", got, want)
	}

	_, _ = dev.tkrRx.Write([]byte{0x05, 0x01, 0x02})
	time.Sleep(20 * time.Millisecond)
	dev.Step()

	if got, want := dev.sess.State(), cmdproto.AwaitingCommand; got != want {
		t.Fatalf("invalid session state: got=%v, want=%v", got, want)
	}
	if !dev.elog.Has(errlog.CmdTimeout) {
		t.Fatalf("missing command timeout error")
	}
	for _, tc := range []struct {
		name string
		n    int
	}{
		{"command", dev.cmdRx.Len()},
		{"console", dev.conRx.Len()},
		{"tracker", dev.tkrRx.Len()},
	} {
		if tc.n != 0 {
			t.Errorf("%s channel not flushed: %d bytes left", tc.name, tc.n)
		}
	}
}

func TestInject(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	raw, err := cmdproto.Encode(cmdproto.Selector, 0x02, []byte{3})
	if err != nil {
		t.Fatalf("could not encode command: %+v", err)
	}
	_ = exec(dev, 0x01, 3, 99)
	dev.Inject(raw)
	dev.Step()

	pkts := packets(t, ins)
	if len(pkts) != 1 {
		t.Fatalf("invalid number of packets: %d", len(pkts))
	}
	pkt := pkts[0]
	if got, want := pkt.Type, byte(0x02); got != want {
		t.Fatalf("invalid packet type: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := pkt.Echo, []byte{3}; !bytes.Equal(got, want) {
		t.Fatalf("invalid echo: got=%x, want=%x", got, want)
	}
	if got, want := pkt.Body, []byte{99}; !bytes.Equal(got, want) {
		t.Fatalf("invalid body: got=%x, want=%x", got, want)
	}
	if got, want := dev.Status().Commands, uint16(1); got != want {
		t.Fatalf("invalid command count: got=%d, want=%d", got, want)
	}
}

func TestReadout(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	ins.ADC.Set([hw.NumPMT]uint16{10, 20, 30, 40, 50})
	dev.enableTrigger(true)
	dev.trigger(hw.Signal{Status: 0x03, Tick: 5, Time: 1234})
	dev.trigger(hw.Signal{Status: 0x03, Tick: 6, Time: 1235})

	if ins.Trigger.Enabled() {
		t.Fatalf("trigger not disabled by the latched signal")
	}
	dev.Step()
	if !ins.Trigger.Enabled() {
		t.Fatalf("trigger not enabled after the readout")
	}

	pkts := packets(t, ins)
	if len(pkts) != 1 {
		t.Fatalf("invalid number of packets: %d", len(pkts))
	}
	if got, want := pkts[0].Type, byte(event.TypeEvent); got != want {
		t.Fatalf("invalid packet type: got=0x%02x, want=0x%02x", got, want)
	}

	var rec event.Record
	err := event.Unmarshal(pkts[0].Body, false, &rec)
	if err != nil {
		t.Fatalf("could not decode event: %+v", err)
	}
	if got, want := rec.Trigger, uint32(1); got != want {
		t.Fatalf("invalid trigger: got=%d, want=%d", got, want)
	}
	if got, want := rec.Dead, uint32(1); got != want {
		t.Fatalf("invalid dead count: got=%d, want=%d", got, want)
	}
	if got, want := rec.Time, uint32(1234); got != want {
		t.Fatalf("invalid time: got=%d, want=%d", got, want)
	}
	if got, want := rec.ADC, [hw.NumPMT]uint16{30, 50, 20, 40, 10}; got != want {
		t.Fatalf("invalid ADC values: got=%v, want=%v", got, want)
	}
	if got, want := rec.Pattern&0x37, uint8(0x03); got != want {
		t.Fatalf("invalid pattern: got=0x%02x, want=0x%02x", got, want)
	}

	st := dev.Status()
	if got, want := st.Accepted, uint32(1); got != want {
		t.Fatalf("invalid accepted count: got=%d, want=%d", got, want)
	}
	if got, want := st.TkrReady, uint32(1); got != want {
		t.Fatalf("invalid tracker ready count: got=%d, want=%d", got, want)
	}
}

func TestReadoutBusyOutput(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	ins.Output.SetBusy(true)
	dev.enableTrigger(true)
	dev.trigger(hw.Signal{Status: 0x01})
	dev.Step()

	if got := ins.Output.Bytes(); len(got) != 0 {
		t.Fatalf("data written to a busy output: %x", got)
	}
	if ins.Trigger.Enabled() {
		t.Fatalf("trigger enabled before the event was written")
	}
	if got, want := dev.Status().Pending, 1; got != want {
		t.Fatalf("invalid pending packets: got=%d, want=%d", got, want)
	}

	ins.Output.SetBusy(false)
	dev.Step()
	if !ins.Trigger.Enabled() {
		t.Fatalf("trigger not enabled after the event was written")
	}
	if got, want := len(packets(t, ins)), 1; got != want {
		t.Fatalf("invalid number of packets: got=%d, want=%d", got, want)
	}
}

func TestReadoutADCTimeout(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	ins.ADC.SetBusy(true)
	dev.enableTrigger(true)
	dev.trigger(hw.Signal{Status: 0x01})
	dev.Step()

	if !dev.elog.Has(errlog.PMTDAQTimeout) {
		t.Fatalf("missing PMT digitizer timeout error")
	}
	if got, want := len(packets(t, ins)), 1; got != want {
		t.Fatalf("invalid number of packets: got=%d, want=%d", got, want)
	}
}

func TestLogicReset(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	ins.Counters.Add(2, 10)
	if got, want := exec(dev, 0x37, 3), []byte{0, 0, 0, 0, 10}; !bytes.Equal(got, want) {
		t.Fatalf("invalid singles count: got=%x, want=%x", got, want)
	}

	dev.enableTrigger(false)
	dev.trigger(hw.Signal{})
	ins.Clock.(*sim.Clock).Advance(0x010203)
	if got, want := exec(dev, 0x38), []byte{1, 2, 3}; !bytes.Equal(got, want) {
		t.Fatalf("invalid logic reset reply: got=%x, want=%x", got, want)
	}
	if _, dead := dev.counts(); dead != 0 {
		t.Fatalf("dead count not cleared: %d", dead)
	}
	if got, want := exec(dev, 0x37, 3), []byte{0, 0, 0, 0, 0}; !bytes.Equal(got, want) {
		t.Fatalf("invalid singles count: got=%x, want=%x", got, want)
	}
}
