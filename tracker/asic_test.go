// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"testing"
)

func TestASICConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		errs uint8
		reg  [3]uint8
		bad  bool
	}{
		{name: "ok", reg: [3]uint8{0x12, 0x34, 0xE0}},
		{name: "errors", errs: 2, reg: [3]uint8{0x01, 0x02, 0x20}, bad: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := uint64(tc.errs)<<24 | uint64(tc.reg[0])<<16 | uint64(tc.reg[1])<<8 | uint64(tc.reg[2])
			raw := AppendASICRegister(nil, RegConfig, v, 27)
			if got, want := len(raw), 1+ASICRegLen; got != want {
				t.Fatalf("invalid length: got=%d, want=%d", got, want)
			}
			cfg, err := DecodeASICConfig(raw)
			if err != nil {
				t.Fatalf("could not decode config: %+v", err)
			}
			if got, want := cfg.Type, uint8(RegConfig); got != want {
				t.Fatalf("invalid type: got=%d, want=%d", got, want)
			}
			if got, want := cfg.Errors, tc.errs; got != want {
				t.Fatalf("invalid errors: got=%d, want=%d", got, want)
			}
			if got, want := cfg.Bad(), tc.bad; got != want {
				t.Fatalf("invalid status: got=%v, want=%v", got, want)
			}
			if !cfg.Match(tc.reg) {
				t.Fatalf("register mismatch: got=%x, want=%x", cfg.Reg, tc.reg)
			}
		})
	}
}

func TestASICThreshold(t *testing.T) {
	raw := AppendASICRegister(nil, RegThreshold, 0xA5, 8)
	typ, thr, err := DecodeASICThreshold(raw)
	if err != nil {
		t.Fatalf("could not decode threshold: %+v", err)
	}
	if got, want := typ, uint8(RegThreshold); got != want {
		t.Fatalf("invalid type: got=%d, want=%d", got, want)
	}
	if got, want := thr, uint8(0xA5); got != want {
		t.Fatalf("invalid threshold: got=0x%02x, want=0x%02x", got, want)
	}
}

func TestASICMask(t *testing.T) {
	for _, mask := range []uint64{
		0, 0xFFFFFFFFFFFFFFFF, 0x8000000000000001, 0x0123456789ABCDEF,
	} {
		raw := AppendASICRegister(nil, RegTrgMask, mask, 64)
		typ, got, err := DecodeASICMask(raw)
		if err != nil {
			t.Fatalf("could not decode mask: %+v", err)
		}
		if typ != RegTrgMask {
			t.Fatalf("invalid type: got=%d, want=%d", typ, RegTrgMask)
		}
		if got != mask {
			t.Fatalf("invalid mask: got=0x%016x, want=0x%016x", got, mask)
		}
	}
}

func TestASICInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{name: "short", raw: []byte{9, 1, 2}},
		{name: "bad-length", raw: []byte{8, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeASICConfig(tc.raw); err == nil {
				t.Fatalf("expected an error")
			}
			if _, _, err := DecodeASICMask(tc.raw); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
