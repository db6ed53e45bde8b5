// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq implements the acquisition core of the instrument: the
// main loop, the command interpreter, the run control, the event
// builder and the housekeeping records.
package daq // import "github.com/go-lpc/aesop/daq"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-lpc/aesop/cmdproto"
	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/event"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/internal/ring"
	"github.com/go-lpc/aesop/monitor"
	"github.com/go-lpc/aesop/tof"
	"github.com/go-lpc/aesop/tracker"
	"golang.org/x/sync/errgroup"
)

const (
	cmdBufLen = 1024 // size of a command input channel
	tkrBufLen = 2048 // size of the tracker input channel
	pubLen    = 16   // records waiting for publication
)

// Peripherals are the hardware collaborators of a device.
type Peripherals struct {
	Tracker  hw.Serial
	Command  io.Reader // command link from the host, optional
	Console  io.Reader // direct command link, optional
	Trigger  hw.Trigger
	TOF      hw.TOF
	ADC      hw.Digitizer
	Counters hw.Counters
	Output   hw.Output
	Storage  hw.Storage
	DAC      hw.DAC
	Clock    hw.Clock
	RTC      hw.RTC
}

func (p Peripherals) validate() error {
	for _, v := range []struct {
		name string
		ok   bool
	}{
		{"tracker", p.Tracker != nil},
		{"trigger", p.Trigger != nil},
		{"TOF", p.TOF != nil},
		{"ADC", p.ADC != nil},
		{"counters", p.Counters != nil},
		{"output", p.Output != nil},
		{"storage", p.Storage != nil},
		{"DAC", p.DAC != nil},
		{"clock", p.Clock != nil},
		{"RTC", p.RTC != nil},
	} {
		if !v.ok {
			return fmt.Errorf("daq: missing %s peripheral", v.name)
		}
	}
	return nil
}

// latch is the state shared with the trigger and clock producers.
type latch struct {
	pending  bool
	sig      hw.Signal
	accepted uint32 // triggers accepted since the last logic reset
	dead     uint32 // triggers missed while the trigger was disabled

	seconds   uint32
	hkPeriod  uint32 // seconds
	tkrPeriod uint32 // minutes
	doHK      bool
	doTkrHK   bool
	hkDue     bool
	tkrDue    bool
}

type settings struct {
	thrDAC  [4]uint8
	windows [10]uint8
	bump    [conddb.NumLayers]uint8
	bmap    conddb.BoardMap
	tkrMult uint8 // housekeeping periods between tracker rate samples
	crc     bool
}

type runState struct {
	number   uint16
	readTkr  bool
	debugTOF bool
	ending   bool
	base     [hw.NumPMT]uint32 // singles counts at the last logic reset
	saved    [hw.NumPMT]uint32 // singles counts at the last event
}

type stats struct {
	tkrTrg1, tkrTrg2 uint32
	pmtOnly, tkrOnly uint32
	allTrg, noCK     uint32

	tkrReady    uint32
	tkrNotReady uint16
	tkrResets   uint32
	tkrCmdCount uint16 // command counter of the last tracker response
	busy        uint32
	ignored     uint16
	noops       uint16

	tofA, tofB       tofStats // whole run
	hkTOFA, hkTOFB   tofStats // since the last housekeeping record
	readTime         time.Duration
	nread            uint32
	hkReadTime       time.Duration
	hkRead           uint32
	live, trials     uint32
	liveSum, weights float64

	nhk          uint32 // housekeeping records since start
	lastAccepted uint32
	lastDead     uint32
	lastTimeouts uint32
	lastResets   uint32
	tkrTemp      [2]uint16
}

type tofStats struct {
	n   uint32
	sum uint32
	max uint8
}

func (s *tofStats) add(n int) {
	v := uint8(255)
	if n < 255 {
		v = uint8(n)
	}
	s.n++
	s.sum += uint32(v)
	if v > s.max {
		s.max = v
	}
}

func (s tofStats) avg() uint8 {
	if s.n == 0 {
		return 0
	}
	return uint8(s.sum / s.n)
}

type packet struct {
	pkt  event.Packet
	then func() // run once the packet is written
}

type publication struct {
	topic   string
	payload []byte
}

// Device is the acquisition core of the instrument.
type Device struct {
	msg  *log.Logger
	cfg  config
	hw   Peripherals
	elog *errlog.Log

	cmdRx *ring.Channel
	conRx *ring.Channel
	tkrRx *ring.Channel
	links [2]*cmdproto.Splitter
	sess  *cmdproto.Session

	tkr  *tracker.Link
	tof  *tof.Rings
	enc  *event.Encoder
	diag event.Diag
	mon  struct {
		tkr *monitor.Tracker
		pmt *monitor.PMT
	}

	handlers map[byte]command

	mu     sync.Mutex
	latch  latch
	status Status
	wake   chan struct{}
	pubs   chan publication

	out    []packet
	errs   [][]byte // error records written at the end of the run
	eeprom conddb.Config
	layers [conddb.NumLayers][conddb.NumASIC]conddb.Chip
	reg    [3]uint8

	set   settings
	run   runState
	stats stats
}

// New creates a device driving the given peripherals.
func New(p Peripherals, opts ...Option) (*Device, error) {
	err := p.validate()
	if err != nil {
		return nil, err
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.boards < 0 || cfg.boards > tracker.MaxBoards {
		return nil, fmt.Errorf("daq: invalid number of tracker boards %d", cfg.boards)
	}

	elog := errlog.New(cfg.msg)
	dev := &Device{
		msg:      cfg.msg,
		cfg:      cfg,
		hw:       p,
		elog:     elog,
		cmdRx:    ring.New(cmdBufLen, elog, errlog.FIFOOverflow),
		conRx:    ring.New(cmdBufLen, elog, errlog.FIFOOverflow),
		tkrRx:    ring.New(tkrBufLen, elog, errlog.TkrBufferOverflow),
		tof:      tof.NewRings(cfg.tof),
		enc:      event.NewEncoder(elog),
		handlers: cmdTable,
		wake:     make(chan struct{}, 1),
	}
	if cfg.pub != nil {
		dev.pubs = make(chan publication, pubLen)
	}
	dev.links[0] = cmdproto.NewSplitter(dev.cmdRx, elog)
	dev.links[1] = cmdproto.NewSplitter(dev.conRx, elog)
	dev.sess = cmdproto.NewSession(elog, sessionTable(), cmdproto.WithTimeout(cfg.cmdTmo))

	dev.tkr = tracker.NewLink(dev.tkrRx, p.Tracker, elog,
		tracker.WithReadTimeout(cfg.tkrTmo),
		tracker.WithRetries(cfg.tkrRetry),
		tracker.WithStrictLayers(cfg.strict),
		tracker.WithLogger(cfg.msg),
	)
	dev.tkr.SetBoards(cfg.boards)

	dev.mon.tkr = monitor.NewTracker(p.Clock, dev.tkr, gate{dev}, elog, monitor.WithLogger(cfg.msg))
	dev.mon.pmt = monitor.NewPMT(p.Clock, p.Counters, monitor.WithLogger(cfg.msg))

	dev.set.bmap = conddb.DefaultBoardMap()
	dev.set.tkrMult = 1
	dev.set.crc = cfg.crc
	dev.run.readTkr = cfg.readTkr && cfg.boards > 0
	dev.run.debugTOF = cfg.debugTOF

	err = dev.loadLayers()
	if err != nil {
		return nil, err
	}

	if cfg.hkPeriod > 0 {
		dev.startHousekeeping(cfg.hkPeriod, false)
	}
	dev.snapshot()

	return dev, nil
}

// loadLayers reads the ASIC configuration from the configuration memory
// and assigns it to the layers according to the board map.
func (dev *Device) loadLayers() error {
	cfg, err := conddb.ReadConfig(dev.hw.Storage)
	if err != nil {
		return fmt.Errorf("daq: could not read ASIC configuration: %w", err)
	}
	dev.eeprom = cfg
	dev.reg = cfg.Reg
	for lyr, brd := range dev.set.bmap {
		dev.layers[lyr] = cfg.Chips[brd]
	}
	dev.applyBump()
	return nil
}

// applyBump sets the thresholds of each layer to their stored value
// raised by the layer threshold bump.
func (dev *Device) applyBump() {
	for lyr, brd := range dev.set.bmap {
		for chip := range dev.layers[lyr] {
			thr := dev.eeprom.Chips[brd][chip].Threshold
			dev.layers[lyr][chip].Threshold = thr + dev.set.bump[lyr]
		}
	}
}

// gate is the master trigger gate as seen by the rate monitors.
type gate struct{ dev *Device }

func (g gate) Enabled() bool { return g.dev.hw.Trigger.Enabled() }
func (g gate) Enable(v bool) { g.dev.enableTrigger(v) }

func (dev *Device) enableTrigger(v bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.hw.Trigger.Enable(v)
}

// trigger latches a trigger signal when the trigger is enabled and
// counts it as dead time otherwise.
func (dev *Device) trigger(sig hw.Signal) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.hw.Trigger.Enabled() && !dev.latch.pending {
		dev.hw.Trigger.Enable(false)
		dev.latch.pending = true
		dev.latch.sig = sig
		dev.latch.accepted++
		dev.notify()
		return
	}
	dev.latch.dead++
}

// take returns the latched trigger, if any, with the trigger counters.
func (dev *Device) take() (sig hw.Signal, accepted, dead uint32, ok bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.latch.pending {
		return sig, 0, 0, false
	}
	dev.latch.pending = false
	return dev.latch.sig, dev.latch.accepted, dev.latch.dead, true
}

func (dev *Device) counts() (accepted, dead uint32) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.latch.accepted, dev.latch.dead
}

// tick advances the 1 Hz clock and schedules the housekeeping records.
func (dev *Device) tick() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	l := &dev.latch
	l.seconds++
	if l.hkPeriod > 0 && l.seconds%l.hkPeriod == 0 {
		l.hkDue = l.doHK
	}
	if l.tkrPeriod > 0 && l.seconds%(60*l.tkrPeriod) == 0 {
		l.tkrDue = l.doTkrHK
	}
}

func (dev *Device) notify() {
	select {
	case dev.wake <- struct{}{}:
	default:
	}
}

// Run runs the device until ctx is canceled.
func (dev *Device) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return dev.pump(ctx, "tracker", dev.hw.Tracker, dev.tkrRx)
	})
	if r := dev.hw.Command; r != nil {
		grp.Go(func() error {
			return dev.pump(ctx, "command", r, dev.cmdRx)
		})
	}
	if r := dev.hw.Console; r != nil {
		grp.Go(func() error {
			return dev.pump(ctx, "console", r, dev.conRx)
		})
	}

	grp.Go(func() error {
		sigs := dev.hw.Trigger.Signals()
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigs:
				dev.trigger(sig)
			}
		}
	})

	grp.Go(func() error {
		hits := dev.hw.TOF.Hits()
		for {
			select {
			case <-ctx.Done():
				return nil
			case hit := <-hits:
				dev.tof.Push(tof.Channel(hit.Channel&1), hit.Raw, hit.Clock)
			}
		}
	})

	if dev.pubs != nil {
		grp.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case p := <-dev.pubs:
					err := dev.cfg.pub.Publish(p.topic, p.payload)
					if err != nil {
						dev.msg.Printf("could not publish %s record: %+v", p.topic, err)
					}
				}
			}
		})
	}

	grp.Go(func() error {
		tck := time.NewTicker(time.Second)
		defer tck.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tck.C:
				dev.tick()
			}
		}
	})

	grp.Go(func() error {
		tck := time.NewTicker(hw.TickPeriod)
		defer tck.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tck.C:
			case <-dev.wake:
			}
			dev.Step()
		}
	})

	err := grp.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daq: could not run device: %w", err)
	}
	return nil
}

// pump copies the bytes read from r into the input channel dst.
func (dev *Device) pump(ctx context.Context, name string, r io.Reader, dst *ring.Channel) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = dst.Write(buf[:n])
			if dst != dev.tkrRx {
				dev.notify()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				dev.msg.Printf("%s link closed", name)
				return nil
			}
			return fmt.Errorf("daq: could not read %s link: %w", name, err)
		}
	}
}

// Step runs one pass of the main loop: the background tasks when no
// command is being received, then the output and the command frames.
func (dev *Device) Step() {
	for _, lnk := range dev.links {
		lnk.Scan()
	}

	switch dev.sess.State() {
	case cmdproto.AwaitingCommand:
		if sig, accepted, dead, ok := dev.take(); ok {
			dev.readout(sig, accepted, dead)
		}
		dev.mon.tkr.Step()
		dev.mon.pmt.Step()
		dev.sample()
		dev.endRun()
		dev.housekeeping()
	default:
		if dev.sess.Expire() {
			for _, lnk := range dev.links {
				lnk.Flush()
			}
			dev.tkrRx.Flush()
		}
	}

	dev.flush()
	dev.commands()
	dev.flush()
	dev.snapshot()
}

// sample takes a live-time sample during a run.
func (dev *Device) sample() {
	if dev.run.number == 0 {
		return
	}
	dev.stats.trials++
	if dev.hw.Trigger.Enabled() {
		dev.stats.live++
	}
}

func (dev *Device) commands() {
	for _, lnk := range dev.links {
		for {
			frame, ok := lnk.Next()
			if !ok {
				break
			}
			cmd, ok := dev.sess.Feed(frame)
			if !ok {
				continue
			}
			dev.dispatch(cmd)
		}
	}
}

// send queues a packet for output.
func (dev *Device) send(pkt event.Packet, then func()) {
	dev.out = append(dev.out, packet{pkt: pkt, then: then})
}

// flush writes the queued packets while the host accepts data.
func (dev *Device) flush() {
	for len(dev.out) > 0 {
		if dev.hw.Output.Busy() {
			return
		}
		p := dev.out[0]
		dev.out[0] = packet{}
		dev.out = dev.out[1:]
		_, err := dev.hw.Output.Write(event.AppendPacket(nil, p.pkt))
		if err != nil {
			dev.msg.Printf("could not write packet 0x%02x: %+v", p.pkt.Type, err)
		}
		if p.then != nil {
			p.then()
		}
	}
}

// Inject feeds bytes to the direct command link.
func (dev *Device) Inject(p []byte) {
	_, _ = dev.conRx.Write(p)
	dev.notify()
}

// Errors drains the error log.
func (dev *Device) Errors() []errlog.Entry {
	return dev.elog.Drain()
}

// Status describes the state of a device.
type Status struct {
	Run       uint16 `json:"run"`
	Trigger   bool   `json:"trigger"`
	Accepted  uint32 `json:"accepted"`
	Dead      uint32 `json:"dead"`
	Boards    int    `json:"boards"`
	Commands  uint16 `json:"commands"`
	BadCmds   uint8  `json:"bad_cmds"`
	Ignored   uint16 `json:"ignored"`
	Errors    int    `json:"errors"`
	Pending   int    `json:"pending"` // packets waiting for the host
	TkrReady  uint32 `json:"tkr_ready"`
	TkrMissed uint16 `json:"tkr_missed"`
}

// Status returns the state of the device at the end of the last
// main loop pass.
func (dev *Device) Status() Status {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.status
}

func (dev *Device) snapshot() {
	st := dev.sess.Stats()
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.status = Status{
		Run:       dev.run.number,
		Trigger:   dev.hw.Trigger.Enabled(),
		Accepted:  dev.latch.accepted,
		Dead:      dev.latch.dead,
		Boards:    dev.tkr.Boards(),
		Commands:  st.Commands,
		BadCmds:   st.BadCmds,
		Ignored:   dev.stats.ignored,
		Errors:    dev.elog.Len(),
		Pending:   len(dev.out),
		TkrReady:  dev.stats.tkrReady,
		TkrMissed: dev.stats.tkrNotReady,
	}
}
