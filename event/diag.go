// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/tracker"
)

const (
	maxChips    = 12 // ASICs per tracker board
	maxClusters = 10 // clusters per ASIC
	maxStrip    = 63
)

// Diag accumulates the hit list integrity counters of a run.
// Counters saturate at 255.
type Diag struct {
	BadCRC      uint8
	TagMismatch uint8
	BadASICHead uint8
	ASICErrEvts uint8
	ASICParity  uint8
	BadClust    uint8
	BigClust    uint8
	TkrOverflow uint8

	ChipsHit [tracker.MaxBoards]uint32 // chips reporting hits, summed over events
}

func inc(v *uint8) {
	if *v < 0xFF {
		*v++
	}
}

// Check runs the integrity checks on the hit lists of an event.
// CRC and cluster checks run only when full is set.
func (d *Diag) Check(elog *errlog.Log, trg uint32, boards []tracker.HitList, full bool) {
	if full {
		for i, brd := range boards {
			if !brd.CheckCRC() {
				elog.AddOnce(errlog.BadCRC, uint8(i), 0)
				inc(&d.BadCRC)
			}
		}
	}

	var (
		last  uint8
		valid bool
	)
	for i, brd := range boards {
		if len(brd.Hits) < 4 {
			continue
		}
		tag := brd.Tag()
		if valid && tag != last {
			elog.Add(errlog.TkrTagEvtMismatch, tag, uint8(i))
			inc(&d.TagMismatch)
		}
		last = tag
		valid = true

		if brd.ErrorBit() {
			elog.Add(errlog.FPGAASICHead, uint8(trg), uint8(i))
			inc(&d.BadASICHead)
		}
		nchips := brd.Chips()
		if i < len(d.ChipsHit) {
			d.ChipsHit[i] += uint32(nchips)
		}
		if nchips > 0 && full {
			d.clusters(elog, uint8(i), brd.Hits, int(nchips))
		}
	}
}

// words unpacks the 6-bit words following the hit list header.
func words(hits []byte) []uint8 {
	var (
		out = make([]uint8, 0, 2*len(hits))
		ptr = 4
		pos = 3
	)
	if len(hits) <= ptr {
		return out
	}
	for {
		switch pos {
		case 1:
			out = append(out, (hits[ptr]&0xFC)>>2)
			ptr++
		case 2:
			out = append(out, (hits[ptr-1]&0x03)<<4|(hits[ptr]&0xF0)>>4)
			ptr++
		case 3:
			out = append(out, (hits[ptr-1]&0x0F)<<2|(hits[ptr]&0xC0)>>6)
		case 4:
			out = append(out, hits[ptr]&0x3F)
			ptr++
		}
		pos++
		if pos > 4 {
			pos = 1
		}
		if ptr >= len(hits) {
			return out
		}
	}
}

func (d *Diag) clusters(elog *errlog.Log, brd uint8, hits []byte, nchips int) {
	ws := words(hits)
	idx := 0
	for chip := 0; chip < nchips; chip++ {
		if idx+1 > len(ws)-1 {
			elog.Add(errlog.TkrListOverflow, uint8(chip), brd)
			inc(&d.TkrOverflow)
			return
		}
		nclust := ws[idx] & 0x1F
		idx++
		if nclust > maxClusters {
			elog.Add(errlog.TkrTooManyClust, nclust, uint8(chip))
			inc(&d.BigClust)
			return
		}
		hdr := ws[idx]
		idx++
		if hdr&0x20 != 0 {
			elog.AddOnce(errlog.TkrASIC, brd, 0)
			inc(&d.ASICErrEvts)
		}
		if hdr&0x10 != 0 {
			elog.AddOnce(errlog.ASICParity, brd, 0)
			inc(&d.ASICParity)
		}
		if id := hdr & 0x0F; id > maxChips-1 {
			elog.Add(errlog.TkrBadChip, id, brd)
		}
		for cl := 0; cl < int(nclust); cl++ {
			if idx+1 > len(ws)-1 {
				elog.AddOnce(errlog.TkrListOverflow, brd, 0)
				inc(&d.TkrOverflow)
				return
			}
			width, first := ws[idx], ws[idx+1]
			idx += 2
			if int(first)+int(width) > maxStrip {
				elog.AddOnce(errlog.TkrBadClust, width, 0)
				inc(&d.BadClust)
			}
		}
	}
}
