// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"testing"

	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/internal/crc6"
	"github.com/go-lpc/aesop/tracker"
)

func TestDiag(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		var (
			elog = newLog()
			d    Diag
		)
		d.Check(elog, 1, []tracker.HitList{hitList(0, 5), hitList(1, 5)}, true)
		if got, want := elog.Len(), 0; got != want {
			t.Fatalf("unexpected errors: %+v", elog.Drain())
		}
		if d != (Diag{}) {
			t.Fatalf("unexpected counters: %+v", d)
		}
	})

	t.Run("bad-crc", func(t *testing.T) {
		var (
			elog = newLog()
			d    Diag
		)
		bad := hitList(1, 5)
		bad.Hits[2] ^= 0x40
		d.Check(elog, 1, []tracker.HitList{bad, bad}, true)
		if got, want := d.BadCRC, uint8(2); got != want {
			t.Fatalf("invalid bad CRC counter: got=%d, want=%d", got, want)
		}
		ents := elog.Drain()
		if got, want := len(ents), 1; got != want {
			t.Fatalf("invalid number of errors: got=%d, want=%d (%+v)", got, want, ents)
		}

		// no CRC check in the reduced mode.
		d = Diag{}
		d.Check(elog, 1, []tracker.HitList{bad}, false)
		if got, want := d.BadCRC, uint8(0); got != want {
			t.Fatalf("invalid bad CRC counter: got=%d, want=%d", got, want)
		}
	})

	t.Run("tag-mismatch", func(t *testing.T) {
		var (
			elog = newLog()
			d    Diag
		)
		d.Check(elog, 1, []tracker.HitList{hitList(0, 5), hitList(1, 6), hitList(2, 6)}, false)
		if got, want := d.TagMismatch, uint8(1); got != want {
			t.Fatalf("invalid tag mismatch counter: got=%d, want=%d", got, want)
		}
		ents := elog.Drain()
		if got, want := ents, []errlog.Entry{{Code: errlog.TkrTagEvtMismatch, V0: 6, V1: 1}}; len(got) != 1 || got[0] != want[0] {
			t.Fatalf("invalid errors: got=%+v, want=%+v", got, want)
		}
	})

	t.Run("asic-head", func(t *testing.T) {
		var (
			elog = newLog()
			d    Diag
		)
		brd := tracker.HitList{
			Board: 0,
			Hits:  crc6.Append(nil, 28, []byte{tracker.HitListID, 0, 5<<1 | 1, 0x00}),
		}
		d.Check(elog, 9, []tracker.HitList{brd}, true)
		if got, want := d.BadASICHead, uint8(1); got != want {
			t.Fatalf("invalid ASIC header counter: got=%d, want=%d", got, want)
		}
		if !elog.Has(errlog.FPGAASICHead) {
			t.Fatalf("missing ASIC header error")
		}
	})

	t.Run("clusters", func(t *testing.T) {
		var (
			elog = newLog()
			d    Diag
		)
		// one chip (id 3) with a single cluster: 2 strips starting at strip 10.
		// words: nclust=1, hdr=3, width=1, first=10.
		payload := packWords(1, 3, 1, 10)
		hdr := []byte{tracker.HitListID, 2, 5 << 1, 0x10 | payload[0]>>4}
		body := append(hdr, payload[0]<<4|payload[1]>>4, payload[1]<<4|payload[2]>>4, payload[2]<<4)
		brd := tracker.HitList{Board: 2, Hits: body}
		d.Check(elog, 1, []tracker.HitList{brd}, true)
		if got, want := d.ChipsHit[0], uint32(1); got != want {
			t.Fatalf("invalid chips hit: got=%d, want=%d", got, want)
		}
		if d.BadClust != 0 || d.BigClust != 0 || d.TkrOverflow != 0 {
			t.Fatalf("unexpected cluster errors: %+v", d)
		}

		// same chip, cluster running past the last strip.
		payload = packWords(1, 3, 10, 60)
		hdr = []byte{tracker.HitListID, 2, 5 << 1, 0x10 | payload[0]>>4}
		body = append(hdr, payload[0]<<4|payload[1]>>4, payload[1]<<4|payload[2]>>4, payload[2]<<4)
		d.Check(elog, 1, []tracker.HitList{{Board: 2, Hits: body}}, true)
		if got, want := d.BadClust, uint8(1); got != want {
			t.Fatalf("invalid bad cluster counter: got=%d, want=%d", got, want)
		}

		// too many clusters.
		payload = packWords(11, 3, 0, 0)
		hdr = []byte{tracker.HitListID, 2, 5 << 1, 0x10 | payload[0]>>4}
		body = append(hdr, payload[0]<<4|payload[1]>>4, payload[1]<<4|payload[2]>>4, payload[2]<<4)
		d.Check(elog, 1, []tracker.HitList{{Board: 2, Hits: body}}, true)
		if got, want := d.BigClust, uint8(1); got != want {
			t.Fatalf("invalid big cluster counter: got=%d, want=%d", got, want)
		}
	})
}

// packWords packs 4 6-bit words into 3 bytes.
func packWords(w0, w1, w2, w3 uint8) [3]byte {
	v := uint32(w0&0x3F)<<18 | uint32(w1&0x3F)<<12 | uint32(w2&0x3F)<<6 | uint32(w3&0x3F)
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestWords(t *testing.T) {
	p := packWords(1, 2, 3, 4)
	hits := []byte{0xE7, 0, 0, 0x10 | p[0]>>4, p[0]<<4 | p[1]>>4, p[1]<<4 | p[2]>>4, p[2] << 4}
	got := words(hits)
	want := []uint8{1, 2, 3, 4}
	if len(got) < len(want) {
		t.Fatalf("missing words: got=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid word %d: got=%d, want=%d (%v)", i, got[i], want[i], got)
		}
	}
}
