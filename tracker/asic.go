// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"fmt"
)

// ASIC register read commands.
const (
	CmdASICReadThresh = 0x21
	CmdASICReadConfig = 0x22
	CmdASICReadData   = 0x23
	CmdASICReadTrg    = 0x24
)

// ASIC register types, as reported in the register read-back header.
const (
	RegThreshold = 0x02
	RegConfig    = 0x03
	RegDataMask  = 0x04
	RegTrgMask   = 0x05
)

// ASICRegLen is the length of an ASIC register read-back, length byte
// excluded.
const ASICRegLen = 9

// ASIC register read-backs are a bit stream, MSB first: a 5-bit header
// holding the register type in its 3 middle bits, then the register
// content.
const regHeaderBits = 5

// ASICConfig is the read-back of an ASIC configuration register.
type ASICConfig struct {
	Type   uint8
	Errors uint8 // 2-bit error code flagged by the ASIC
	Reg    [3]uint8
}

// Bad reports whether the register flags an error or has the wrong type.
func (cfg ASICConfig) Bad() bool {
	return cfg.Errors != 0 || cfg.Type != RegConfig
}

// Match reports whether the register holds the provided configuration.
// Only the 3 most significant bits of the last byte are compared.
func (cfg ASICConfig) Match(reg [3]uint8) bool {
	return cfg.Reg[0] == reg[0] && cfg.Reg[1] == reg[1] && cfg.Reg[2]&0xE0 == reg[2]&0xE0
}

func checkASIC(p []byte) error {
	if len(p) < 1+ASICRegLen {
		return fmt.Errorf("tracker: short ASIC register read-back (%d bytes)", len(p))
	}
	if p[0] != ASICRegLen {
		return fmt.Errorf("tracker: invalid ASIC register length %d", p[0])
	}
	return nil
}

func regType(b uint8) uint8 {
	return (b & 0x70) >> 4
}

// DecodeASICConfig decodes the response to CmdASICReadConfig.
func DecodeASICConfig(p []byte) (ASICConfig, error) {
	if err := checkASIC(p); err != nil {
		return ASICConfig{}, err
	}
	return ASICConfig{
		Type:   regType(p[1]),
		Errors: p[1] & 0x03,
		Reg:    [3]uint8{p[2], p[3], p[4]},
	}, nil
}

// DecodeASICThreshold decodes the response to CmdASICReadThresh.
func DecodeASICThreshold(p []byte) (typ, thr uint8, err error) {
	if err := checkASIC(p); err != nil {
		return 0, 0, err
	}
	v := uint16(p[1])<<8 | uint16(p[2])
	return regType(p[1]), uint8(v >> 3), nil
}

// DecodeASICMask decodes the response to CmdASICReadData or
// CmdASICReadTrg.
func DecodeASICMask(p []byte) (typ uint8, mask uint64, err error) {
	if err := checkASIC(p); err != nil {
		return 0, 0, err
	}
	for _, b := range p[1:9] {
		mask = mask<<8 | uint64(b)
	}
	mask = mask<<regHeaderBits | uint64(p[9]>>3)
	return regType(p[1]), mask, nil
}

// AppendASICRegister appends the read-back of an ASIC register, length
// byte included: the header for typ followed by the nbits least
// significant bits of v.
func AppendASICRegister(dst []byte, typ uint8, v uint64, nbits int) []byte {
	var w bitWriter
	w.put(uint64(typ&0x07)<<1, regHeaderBits)
	w.put(v, nbits)
	reg := make([]byte, ASICRegLen)
	copy(reg, w.buf)
	dst = append(dst, ASICRegLen)
	return append(dst, reg...)
}

// bitWriter packs bits MSB first.
type bitWriter struct {
	buf []byte
	n   int // bits written
}

func (w *bitWriter) put(v uint64, nbits int) {
	for i := nbits - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.n%8)
		}
		w.n++
	}
}
