// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmdproto

import (
	"time"

	"github.com/go-lpc/aesop/errlog"
)

// State is the state of a command session.
type State uint8

const (
	AwaitingCommand State = iota
	ReceivingPayload
	Complete
)

func (st State) String() string {
	switch st {
	case AwaitingCommand:
		return "awaiting-command"
	case ReceivingPayload:
		return "receiving-payload"
	case Complete:
		return "complete"
	}
	return "invalid"
}

// Range is the allowed payload length of a command.
type Range struct {
	Min, Max int
}

// Table lists the valid commands and their payload length.
type Table map[byte]Range

// Stats holds the session counters.
type Stats struct {
	Global   uint16 // frames received while awaiting a command
	Frames   uint16 // valid frames received
	Commands uint16 // commands started
	BadCmds  uint8  // frames or commands rejected, saturating
	Timeouts uint8  // sessions aborted by a timeout, saturating
	Last     uint16 // data and address bytes of the last valid frame
}

// Session assembles commands from the frames sent to a subsystem.
type Session struct {
	elog    *errlog.Log
	table   Table
	sel     byte
	timeout time.Duration
	now     func() time.Time

	state State
	code  byte
	data  [MaxData]byte
	ndata int // expected payload length
	dcnt  int // payload bytes received
	bad   bool
	start time.Time

	stats Stats
}

// SessionOption configures a command session.
type SessionOption func(*Session)

// WithTimeout sets the maximum duration of a command session.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithClock sets the clock used to time command sessions.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// WithSelector sets the subsystem selector the session answers to.
func WithSelector(sel byte) SessionOption {
	return func(s *Session) {
		s.sel = sel
	}
}

// NewSession creates a command session accepting the commands of table.
func NewSession(elog *errlog.Log, table Table, opts ...SessionOption) *Session {
	s := &Session{
		elog:    elog,
		table:   table,
		sel:     Selector,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state of the session.
func (s *Session) State() State { return s.state }

// Code returns the code of the command in progress.
func (s *Session) Code() byte { return s.code }

// Stats returns the session counters.
func (s *Session) Stats() Stats { return s.stats }

// ResetStats clears the session counters.
func (s *Session) ResetStats() { s.stats = Stats{} }

// Reset aborts the command in progress.
func (s *Session) Reset() {
	s.state = AwaitingCommand
	s.ndata = 0
	s.dcnt = 0
	s.bad = false
}

// Feed processes a triplicated frame and returns the command it completes,
// if any.
func (s *Session) Feed(frame []byte) (Command, bool) {
	tok, ok := Vote(frame)
	if !ok {
		var v0, v1 byte
		if len(frame) >= 3*TokenLen {
			v0 = hexval[frame[TokenLen]]
		}
		v1 = byte(len(frame))
		s.elog.Add(errlog.BadCmd, v0, v1)
		s.badCmd()
		return Command{}, false
	}
	if tok[0] != 'S' || tok[TokenLen-1] != 'W' {
		s.elog.Add(errlog.BadCmdFormat, tok[0], tok[TokenLen-1])
		return Command{}, false
	}

	if s.state == AwaitingCommand {
		s.stats.Global++
	}
	t := Decode(tok)
	s.stats.Last = uint16(t.Data)<<8 | uint16(t.Addr)
	s.stats.Frames++
	if t.Selector() != s.sel {
		return Command{}, false
	}

	switch s.state {
	case AwaitingCommand:
		s.begin(t.Data, t.Count())
	default:
		s.payload(t.Data, t.Count())
	}

	if s.state != Complete {
		return Command{}, false
	}

	if s.bad || s.dcnt != s.ndata {
		s.badCmd()
		s.Reset()
		return Command{}, false
	}
	cmd := Command{
		Code: s.code,
		Data: append([]byte(nil), s.data[:s.ndata]...),
	}
	s.Reset()
	return cmd, true
}

func (s *Session) badCmd() {
	if s.stats.BadCmds < 0xFF {
		s.stats.BadCmds++
	}
}

func (s *Session) begin(code byte, n int) {
	s.state = ReceivingPayload
	s.start = s.now()
	s.stats.Commands++
	s.code = code
	s.ndata = n
	s.dcnt = 0
	s.bad = false

	rng, ok := s.table[code]
	switch {
	case !ok:
		s.elog.AddOnce(errlog.InvalidCommand, code, byte(n))
		s.bad = true
	case n < rng.Min || n > rng.Max:
		s.elog.Add(errlog.WrongNumBytes, code, byte(n))
	}

	if n == 0 {
		s.state = Complete
	}
}

func (s *Session) payload(v byte, pos int) {
	bad := false
	if pos != 0 {
		s.data[pos-1] = v
	} else {
		s.elog.Add(errlog.BadByte, s.code, byte(s.dcnt))
		bad = true
	}
	s.dcnt++
	if s.dcnt != pos {
		s.elog.Add(errlog.ByteOrder, s.code, byte(s.dcnt))
		if pos > s.ndata {
			bad = true
		}
	}

	if bad {
		// the frame may be the start of a new command.
		if rng, ok := s.table[v]; ok && pos >= rng.Min && pos <= rng.Max {
			s.badCmd()
			s.begin(v, pos)
			return
		}
		s.badCmd()
		s.Reset()
		return
	}

	switch {
	case s.dcnt >= s.ndata:
		s.state = Complete
		if s.dcnt > s.ndata {
			s.elog.Add(errlog.ByteCount, s.code, byte(s.dcnt))
		}
	case pos == s.ndata:
		// a payload byte went missing.
		s.state = Complete
		s.elog.Add(errlog.CmdIncomplete, s.code, byte(s.dcnt))
	}
}

// Expire aborts the command in progress if it started more than the
// session timeout ago. It reports whether the session was aborted.
func (s *Session) Expire() bool {
	if s.state != ReceivingPayload {
		return false
	}
	if s.now().Sub(s.start) <= s.timeout {
		return false
	}
	s.elog.Add(errlog.CmdTimeout, s.code, byte(s.dcnt))
	if s.stats.Timeouts < 0xFF {
		s.stats.Timeouts++
	}
	s.Reset()
	return true
}
