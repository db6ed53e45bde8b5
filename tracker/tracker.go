// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracker implements the request/response protocol spoken over
// the serial link to the tracker boards.
package tracker // import "github.com/go-lpc/aesop/tracker"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/internal/ring"
)

// ErrTimeout is returned when the tracker stopped answering mid-response.
var ErrTimeout = errors.New("tracker: read timeout")

// Transmitter is the sending side of the tracker serial link.
type Transmitter interface {
	io.Writer
	// TxEmpty reports whether all written bytes left the transmit queue.
	TxEmpty() bool
}

// Response is the decoded answer of the tracker to a command.
type Response struct {
	Kind     Kind
	Status   int    // 0 on success, <0 on timeouts, >0 on protocol errors
	Event    Event  // EventData only
	FPGA     uint8  // board that answered, HousekeepingData only
	CmdCount uint16 // tracker command counter
	Data     []byte
}

// Stats holds the link error counters.
type Stats struct {
	Timeouts   uint32 // per-byte read timeouts
	DataErrors uint8  // malformed responses, saturating
	BadNData   uint8  // housekeeping length mismatches, saturating
}

// Link is the tracker end of the acquisition core.
// It is not safe for concurrent use.
type Link struct {
	rx   *ring.Channel
	tx   Transmitter
	elog *errlog.Log
	msg  *log.Logger
	cfg  config

	enabled bool
	nboards int
	code    byte // command in flight
	last    byte // last byte received
	tmo     bool // a read timed out in the current response

	stats Stats
}

// NewLink creates a tracker link reading responses from rx and sending
// commands through tx.
func NewLink(rx *ring.Channel, tx Transmitter, elog *errlog.Log, opts ...Option) *Link {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(os.Stdout, "tracker: ", 0)
	}
	return &Link{
		rx:      rx,
		tx:      tx,
		elog:    elog,
		msg:     cfg.msg,
		cfg:     cfg,
		enabled: true,
	}
}

// Enabled reports whether the tracker is part of the readout.
func (lnk *Link) Enabled() bool { return lnk.enabled }

// SetEnabled includes or excludes the tracker from the readout.
// Commands sent to an excluded tracker are silently dropped.
func (lnk *Link) SetEnabled(v bool) { lnk.enabled = v }

// Boards returns the number of boards configured in the readout.
func (lnk *Link) Boards() int { return lnk.nboards }

// SetBoards sets the number of boards configured in the readout.
func (lnk *Link) SetBoards(n int) {
	if n < 0 || n > MaxBoards {
		n = MaxBoards
	}
	lnk.nboards = n
}

// Stats returns the link error counters.
func (lnk *Link) Stats() Stats { return lnk.stats }

// ResetStats clears the link error counters.
func (lnk *Link) ResetStats() { lnk.stats = Stats{} }

// Dummy returns a dummy event for all configured boards.
func (lnk *Link) Dummy(trg uint16, cmd, pattern, code uint8) Event {
	return DummyEvent(lnk.nboards, trg, cmd, pattern, code)
}

// Send is a shorthand for SendCommand with a payload built from args.
func (lnk *Link) Send(board, code byte, args ...byte) (Response, error) {
	return lnk.SendCommand(board, code, args)
}

// SendCommand sends a command to a tracker board and waits for its response.
//
// Malformed responses are logged and, for event data, replaced by a dummy
// event. An error is returned only when the command could not be sent or
// when the tracker stopped answering.
func (lnk *Link) SendCommand(board, code byte, payload []byte) (Response, error) {
	if !lnk.enabled {
		return Response{}, nil
	}
	if board >= MaxBoards {
		lnk.elog.Add(errlog.BadFPGA, board, code)
		return Response{}, fmt.Errorf("tracker: invalid board %d for command 0x%02x", board, code)
	}
	kind := KindOf(code)
	if kind == Unrecognized {
		lnk.elog.Add(errlog.BadTkrCmd, code, 0)
		return Response{}, fmt.Errorf("tracker: unknown command 0x%02x", code)
	}
	if len(payload) > 0xFF {
		return Response{}, fmt.Errorf("tracker: payload too big for command 0x%02x (%d bytes)", code, len(payload))
	}

	lnk.code = code
	lnk.rx.Flush()

	buf := make([]byte, 0, 3+len(payload))
	buf = append(buf, board, code, byte(len(payload)))
	buf = append(buf, payload...)
	_, err := lnk.tx.Write(buf)
	if err != nil {
		return Response{}, fmt.Errorf("tracker: could not send command 0x%02x: %w", code, err)
	}

	if code == CmdSetBoards && len(payload) > 0 {
		lnk.SetBoards(int(payload[0]))
	}

	if !lnk.drain() {
		lnk.elog.AddOnce(errlog.TxFailed, code, 0)
	}

	var resp Response
	switch kind {
	case NoResponse:
		return Response{Kind: NoResponse}, nil
	case ASICData:
		resp = lnk.readASIC()
	case I2CData:
		resp = lnk.readI2C()
	default:
		for i := 0; i < lnk.cfg.retries; i++ {
			resp = lnk.readResponse(typeOf(kind))
			if resp.Status != -1 {
				break
			}
		}
		if resp.Status != 0 {
			lnk.elog.Add(errlog.GetTkrData, status8(resp.Status), code)
		}
	}

	if resp.Status < 0 {
		return resp, fmt.Errorf(
			"tracker: could not read response to command 0x%02x (status=%d): %w",
			code, resp.Status, ErrTimeout,
		)
	}
	return resp, nil
}

func status8(rc int) uint8 {
	if rc < 0 {
		return uint8(rc + 255)
	}
	return uint8(rc)
}

func (lnk *Link) drain() bool {
	if lnk.tx.TxEmpty() {
		return true
	}
	tck := time.NewTicker(time.Millisecond)
	defer tck.Stop()
	tmr := time.NewTimer(lnk.cfg.wtimeout)
	defer tmr.Stop()
	for {
		select {
		case <-tck.C:
			if lnk.tx.TxEmpty() {
				return true
			}
		case <-tmr.C:
			return lnk.tx.TxEmpty()
		}
	}
}

// readU8 reads a byte from the tracker channel.
// On timeout the last received byte is returned, flagged as invalid.
func (lnk *Link) readU8(flag byte) (byte, bool) {
	b, ok := lnk.rx.PopTimeout(lnk.cfg.rtimeout)
	if !ok {
		lnk.elog.Add(errlog.TkrReadTimeout, lnk.code, flag)
		lnk.stats.Timeouts++
		lnk.tmo = true
		return lnk.last, false
	}
	lnk.last = b
	return b, true
}

func (lnk *Link) dataErr() {
	if lnk.stats.DataErrors < 0xFF {
		lnk.stats.DataErrors++
	}
}

func (lnk *Link) readResponse(want byte) Response {
	lnk.tmo = false
	n, ok := lnk.readU8(0x01)
	if !ok {
		return Response{Status: -1}
	}
	id, ok := lnk.readU8(0x02)
	if !ok {
		return Response{Status: -2}
	}

	switch id {
	case TypeEvent, TypeHousekeeping, TypeEcho:
	default:
		return lnk.readUnknown(id)
	}

	if id != want {
		lnk.elog.Add(errlog.TkrWrongDataType, id, want)
		lnk.dataErr()
		if want == TypeEvent {
			return Response{
				Kind:   EventData,
				Status: 54,
				Event:  lnk.Dummy(0, 0, 0, DummyWrongType),
			}
		}
		// resynchronize on the expected type.
		prev := id
		for {
			b, ok := lnk.readU8(0xF0)
			if !ok {
				return Response{Status: -2}
			}
			if b == want {
				break
			}
			prev = b
		}
		n = prev
		id = want
	}

	switch id {
	case TypeEvent:
		return lnk.readEvent(n)
	case TypeHousekeeping:
		return lnk.readHousekeeping(n)
	default:
		return lnk.readEcho(n)
	}
}

func (lnk *Link) readEvent(n byte) Response {
	resp := Response{Kind: EventData}
	if n != 5 {
		lnk.elog.AddOnce(errlog.TkrBadLength, TypeEvent, n)
		lnk.dataErr()
		resp.Status = 55
		resp.Event = lnk.Dummy(0, 0, 0, DummyBadLength)
		return resp
	}

	var hdr [4]byte
	for i := range hdr {
		b, ok := lnk.readU8(byte(0x03 + i))
		if !ok {
			resp.Status = -3 - i
			return resp
		}
		hdr[i] = b
	}
	var (
		trg     = uint16(hdr[0])<<8 | uint16(hdr[1])
		cmd     = hdr[2]
		pattern = hdr[3] & 0xC0
		nboards = int(hdr[3] & 0x3F)
	)
	if nboards != lnk.nboards {
		lnk.elog.AddOnce(errlog.TkrNumBoards, uint8(nboards), uint8(lnk.nboards))
		lnk.dataErr()
		resp.Status = 56
		resp.Event = lnk.Dummy(trg, cmd, pattern, DummyNumBoards)
		return resp
	}

	resp.Event = Event{
		TrgCount: trg,
		CmdCount: cmd,
		Pattern:  pattern,
		Boards:   make([]HitList, nboards),
	}

	for brd := 0; brd < nboards; brd++ {
		hits, rc := lnk.readHitList(uint8(brd))
		resp.Event.Boards[brd] = hits
		if rc != 0 {
			resp.Status = rc
		}
		if rc < 0 {
			break
		}
	}
	return resp
}

func (lnk *Link) readHitList(brd uint8) (HitList, int) {
	n, ok := lnk.readU8(0x07)
	if !ok {
		return DummyHitList(brd, DummyReadFailed), -7
	}
	if n < 4 {
		lnk.elog.Add(errlog.TkrBoardShort, n, brd)
		lnk.dataErr()
		return DummyHitList(brd, DummyBoardShort), 57
	}
	id, ok := lnk.readU8(0x08)
	if !ok {
		return DummyHitList(brd, DummyReadFailed), -8
	}
	if id != HitListID {
		lnk.elog.Add(errlog.TkrBadBoardID, id, brd)
		lnk.dataErr()
		return DummyHitList(brd, DummyBadBoardID), 58
	}
	addr, ok := lnk.readU8(0x09)
	if !ok {
		return DummyHitList(brd, DummyReadFailed), -9
	}

	rc := 0
	if addr > 8 {
		// 8 flags the master board, which is layer 0.
		lnk.elog.Add(errlog.TkrBadFPGA, addr, brd)
		lnk.dataErr()
		rc = 59
	}
	strict := false
	if lyr := addr & 0x07; lyr != brd {
		lnk.elog.Add(errlog.TkrLyrOrder, lyr, brd)
		lnk.dataErr()
		strict = lnk.cfg.strict
	}

	size := int(n)
	if size > MaxHitListBytes {
		lnk.elog.Add(errlog.TkrTooBig, n, brd)
		lnk.dataErr()
		size = MaxHitListBytes
	}
	hits := make([]byte, 2, size)
	hits[0] = id
	hits[1] = addr
	// consume every byte announced, to keep the link synchronized.
	for i := 2; i < int(n); i++ {
		b, ok := lnk.readU8(0x0A)
		if !ok {
			return HitList{Board: brd, Hits: hits}, -10
		}
		if i < MaxHitListBytes {
			hits = append(hits, b)
		}
	}

	if strict {
		lnk.elog.AddOnce(errlog.TkrBadConfig, addr&0x07, brd)
		return DummyHitList(brd, DummyLayerOrder), rc
	}
	return HitList{Board: brd, Hits: hits}, rc
}

func (lnk *Link) readHousekeeping(n byte) Response {
	resp := Response{Kind: HousekeepingData}
	nd, _ := lnk.readU8(0x0B)
	if want := NumData(lnk.code); nd != want {
		lnk.elog.Add(errlog.WrongNumTkrData, lnk.code, nd)
		nd = want
	}
	if n != nd+6 {
		lnk.elog.AddOnce(errlog.TkrBadNData, nd, n)
		if lnk.stats.BadNData < 0xFF {
			lnk.stats.BadNData++
		}
	}
	hi, _ := lnk.readU8(0x0C)
	lo, _ := lnk.readU8(0x0D)
	resp.CmdCount = uint16(hi)<<8 | uint16(lo)

	resp.FPGA, _ = lnk.readU8(0x0E)
	if resp.FPGA > 8 {
		lnk.elog.Add(errlog.TkrBadFPGA, lnk.code, resp.FPGA)
		lnk.dataErr()
	}
	echo, _ := lnk.readU8(0x0F)
	if echo != lnk.code {
		lnk.elog.Add(errlog.TkrBadEcho, echo, lnk.code)
		lnk.dataErr()
	}

	resp.Data = make([]byte, nd)
	for i := range resp.Data {
		resp.Data[i], _ = lnk.readU8(0x10)
	}
	if nd > 0 && resp.Data[nd-1] != 0x0F {
		lnk.elog.Add(errlog.TkrBadTrailer, lnk.code, resp.Data[nd-1])
		lnk.dataErr()
		resp.Data[nd-1] = 0x0F
	}
	if lnk.tmo {
		resp.Status = -11
	}
	return resp
}

func (lnk *Link) readEcho(n byte) Response {
	resp := Response{Kind: EchoData}
	if n != 4 {
		lnk.elog.AddOnce(errlog.TkrBadLength, TypeEcho, n)
		lnk.dataErr()
	}
	resp.Data = make([]byte, 3)
	for i := range resp.Data {
		resp.Data[i], _ = lnk.readU8(byte(0x11 + i))
	}
	resp.CmdCount = uint16(resp.Data[0])<<8 | uint16(resp.Data[1])
	if echo := resp.Data[2]; echo != lnk.code {
		lnk.elog.Add(errlog.TkrBadEcho, echo, lnk.code)
		lnk.dataErr()
		resp.Status = 1
	}
	if lnk.tmo {
		resp.Status = -12
	}
	return resp
}

func (lnk *Link) readUnknown(id byte) Response {
	lnk.elog.AddOnce(errlog.TkrBadID, id, lnk.code)
	lnk.dataErr()
	lnk.msg.Printf("unrecognized response type 0x%02x to command 0x%02x", id, lnk.code)
	// let the rest of the garbage come in, then surface it.
	time.Sleep(lnk.cfg.settle)
	return Response{
		Kind:   Unrecognized,
		Status: 5,
		Data:   lnk.rx.Drain(),
	}
}

func (lnk *Link) readASIC() Response {
	lnk.tmo = false
	resp := Response{Kind: ASICData}
	n, ok := lnk.readU8(0x69)
	if !ok {
		resp.Status = -1
		return resp
	}
	resp.Data = make([]byte, 1+int(n))
	resp.Data[0] = n
	for i := 1; i < len(resp.Data); i++ {
		resp.Data[i], _ = lnk.readU8(byte(0x70 + i))
	}
	if lnk.tmo {
		resp.Status = -13
	}
	return resp
}

func (lnk *Link) readI2C() Response {
	lnk.tmo = false
	resp := Response{Kind: I2CData, Data: make([]byte, 4)}
	for i := range resp.Data {
		resp.Data[i], _ = lnk.readU8(byte(0x89 + i))
	}
	if lnk.tmo {
		resp.Status = -14
	}
	return resp
}
