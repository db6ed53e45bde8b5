// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cmdproto implements the triplicated ASCII-hex command protocol.
//
// A command byte or a payload byte travels as a 9-character token,
// 'S' + 4 hex digits + 3 filler characters + 'W', sent three times and
// terminated by CR LF:
//
//	Sddaa xyWSddaa xyWSddaa xyW\r\n
//
// where dd is the data byte and aa the address byte. Bits 5..2 of the
// address select the target subsystem. Bits 7..6 and 1..0 form a 4-bit
// count: the payload length for a command byte, the 1-based position
// for a payload byte.
package cmdproto // import "github.com/go-lpc/aesop/cmdproto"

import (
	"bytes"
	"fmt"
)

const (
	TokenLen = 9              // length of a single token
	FrameLen = 3*TokenLen + 2 // length of a CR LF terminated frame
	MaxData  = 16             // maximum payload length
	Selector = 0x08           // subsystem selector of the event PSOC
)

var hexval = func() [256]byte {
	var tbl [256]byte
	for i, c := range "0123456789ABCDEF" {
		tbl[c] = byte(i)
	}
	for i, c := range "abcdef" {
		tbl[c] = byte(10 + i)
	}
	return tbl
}()

// Command is a decoded command: a code and its payload.
type Command struct {
	Code byte
	Data []byte
}

func (cmd Command) String() string {
	return fmt.Sprintf("cmd{0x%02x, data=%x}", cmd.Code, cmd.Data)
}

// Vote applies the majority vote to the three copies of a frame token.
// It returns false when no two copies agree.
func Vote(frame []byte) ([]byte, bool) {
	if len(frame) < 3*TokenLen {
		return nil, false
	}
	var (
		a = frame[0*TokenLen : 1*TokenLen]
		b = frame[1*TokenLen : 2*TokenLen]
		c = frame[2*TokenLen : 3*TokenLen]
	)
	switch {
	case bytes.Equal(a, b), bytes.Equal(a, c):
		return a, true
	case bytes.Equal(b, c):
		return b, true
	}
	return nil, false
}

// Token is a decoded frame token.
type Token struct {
	Data byte
	Addr byte
}

// Decode decodes the hex digits of a voted token.
// Invalid hex digits decode as 0.
func Decode(tok []byte) Token {
	return Token{
		Data: hexval[tok[1]]<<4 | hexval[tok[2]],
		Addr: hexval[tok[3]]<<4 | hexval[tok[4]],
	}
}

// Selector returns the subsystem addressed by the token.
func (tok Token) Selector() byte {
	return (tok.Addr & 0x3C) >> 2
}

// Count returns the 4-bit count field of the token.
func (tok Token) Count() int {
	return int((tok.Addr&0xC0)>>4 | tok.Addr&0x03)
}

// Address packs a subsystem selector and a count into an address byte.
func Address(sel byte, count int) byte {
	n := byte(count) & 0x0F
	return (n&0x0C)<<4 | (sel&0x0F)<<2 | n&0x03
}

// AppendFrame appends the triplicated frame carrying data and addr to dst.
func AppendFrame(dst []byte, data, addr byte) []byte {
	tok := fmt.Sprintf("S%02x%02x xyW", data, addr)
	for i := 0; i < 3; i++ {
		dst = append(dst, tok...)
	}
	return append(dst, '\r', '\n')
}

// Encode returns the frames sending a command to the sel subsystem.
func Encode(sel, code byte, data []byte) ([]byte, error) {
	if len(data) > MaxData-1 {
		return nil, fmt.Errorf("cmdproto: too many data bytes for command 0x%02x (%d)", code, len(data))
	}
	out := make([]byte, 0, (1+len(data))*FrameLen)
	out = AppendFrame(out, code, Address(sel, len(data)))
	for i, v := range data {
		out = AppendFrame(out, v, Address(sel, i+1))
	}
	return out, nil
}
