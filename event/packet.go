// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Packet types.
const (
	TypeEvent        = 0xDD // event record
	TypeEventDebug   = 0xDB // event record with the TOF debug block
	TypeHousekeeping = 0xDE // housekeeping record
	TypeTkrHousekeep = 0xDF // tracker housekeeping record
	TypeError        = 0xDA // error record
	TypeUnknown      = 0x3F
)

var (
	pktHeader  = [3]byte{0xDC, 0x00, 0xFF}
	pktTrailer = [3]byte{0xFF, 0x00, 0xFF}
	pktPadding = [2]byte{0x01, 0x02}

	tagHAUS = []byte("HAUS")
	tagTRAK = []byte("TRAK")
	tagERR  = []byte("ERR")
)

// Packet is an output packet: a command reply or a record.
type Packet struct {
	Type byte   // command code for command replies
	Echo []byte // command payload echoed back, command replies only
	Body []byte
}

// TypeOf returns the packet type of a record body.
func TypeOf(body []byte, debug bool) byte {
	switch {
	case bytes.HasPrefix(body, evtHeader[:]):
		if debug {
			return TypeEventDebug
		}
		return TypeEvent
	case bytes.HasPrefix(body, tagHAUS):
		return TypeHousekeeping
	case bytes.HasPrefix(body, tagTRAK):
		return TypeTkrHousekeep
	case bytes.HasPrefix(body, tagERR):
		return TypeError
	}
	return TypeUnknown
}

// AppendPacket appends the framed packet to dst.
// The length field wraps around for bodies longer than 255 bytes.
func AppendPacket(dst []byte, pkt Packet) []byte {
	n := len(pkt.Echo) + len(pkt.Body)
	dst = append(dst, pktHeader[:]...)
	dst = append(dst, uint8(n), pkt.Type, uint8(len(pkt.Echo)))
	dst = append(dst, pkt.Echo...)
	dst = append(dst, pkt.Body...)
	if pad := n % 3; pad != 0 {
		dst = append(dst, pktPadding[:3-pad]...)
	}
	return append(dst, pktTrailer[:]...)
}

// Decoder reads output packets from a byte stream.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewDecoder returns a decoder reading packets from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 6),
	}
}

// Decode reads the next packet.
// Bytes preceding a packet header are skipped.
func (dec *Decoder) Decode(pkt *Packet) error {
	if err := dec.sync(); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("event: could not find packet header: %w", err)
	}

	dec.read(dec.buf[:3])
	if dec.err != nil {
		return fmt.Errorf("event: could not read packet header: %w", dec.unexpected())
	}
	var (
		n    = int(dec.buf[0])
		echo = int(dec.buf[2])
	)
	if echo > n {
		return fmt.Errorf("event: invalid packet (len=%d, echo=%d)", n, echo)
	}
	pkt.Type = dec.buf[1]
	pkt.Echo = make([]byte, echo)
	pkt.Body = make([]byte, n-echo)
	dec.read(pkt.Echo)
	dec.read(pkt.Body)
	if pad := n % 3; pad != 0 {
		dec.read(dec.buf[:3-pad])
	}
	dec.read(dec.buf[:3])
	if dec.err != nil {
		return fmt.Errorf("event: could not read packet 0x%02x: %w", pkt.Type, dec.unexpected())
	}
	if !bytes.Equal(dec.buf[:3], pktTrailer[:]) {
		return fmt.Errorf("event: invalid packet trailer (got=%x)", dec.buf[:3])
	}
	return nil
}

// sync consumes bytes until a packet header has been read.
func (dec *Decoder) sync() error {
	state := 0
	for {
		dec.read(dec.buf[:1])
		if dec.err != nil {
			return dec.err
		}
		v := dec.buf[0]
		switch {
		case v == pktHeader[state]:
			state++
		case v == pktHeader[0]:
			state = 1
		default:
			state = 0
		}
		if state == len(pktHeader) {
			return nil
		}
	}
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}

func (dec *Decoder) unexpected() error {
	if errors.Is(dec.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return dec.err
}
