// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"github.com/go-lpc/aesop/internal/crc6"
)

const (
	MaxBoards       = 8   // maximum number of boards in the readout
	MaxHitListBytes = 203 // maximum length of a board hit list
	HitListID       = 0xE7
)

// Codes stored in the CRC nibble of dummy hit lists, flagging why the
// dummy was inserted.
const (
	DummyWrongType   = 0
	DummyBadLength   = 1
	DummyNumBoards   = 2
	DummyReadFailed  = 3
	DummyNotReady    = 4
	DummyNoTracker   = 5
	DummyLayerOrder  = 6
	DummyBoardShort  = 4
	DummyBadBoardID  = 5
	DummyPlaceholder = 9
)

// HitList is the raw hit list sent by a tracker board.
type HitList struct {
	Board uint8
	Hits  []byte
}

// DummyHitList returns the minimal hit list standing in for a board that
// could not be read out. Its CRC is invalid and carries code instead.
func DummyHitList(board, code uint8) HitList {
	return HitList{
		Board: board,
		Hits:  []byte{HitListID, board, 0, code & 0x0F, 0x30},
	}
}

// Tag returns the event tag recorded by the board.
func (h HitList) Tag() uint8 {
	if len(h.Hits) < 3 {
		return 0
	}
	return h.Hits[2] >> 1
}

// ErrorBit reports whether the board flagged an ASIC header error.
func (h HitList) ErrorBit() bool {
	if len(h.Hits) < 3 {
		return false
	}
	return h.Hits[2]&0x01 != 0
}

// Chips returns the number of ASICs reporting hits.
func (h HitList) Chips() uint8 {
	if len(h.Hits) < 4 {
		return 0
	}
	return h.Hits[3] >> 4
}

// CheckCRC verifies the CRC computed by the board FPGA.
func (h HitList) CheckCRC() bool {
	return crc6.Verify(h.Hits)
}

// Event is the tracker contribution to an event.
type Event struct {
	TrgCount uint16 // tracker trigger count
	CmdCount uint8  // tracker command count
	Pattern  uint8  // trigger pattern, upper 2 bits
	Boards   []HitList
}

// DummyEvent returns an event made of dummy hit lists for n boards.
func DummyEvent(n int, trg uint16, cmd, pattern, code uint8) Event {
	evt := Event{
		TrgCount: trg,
		CmdCount: cmd,
		Pattern:  pattern,
		Boards:   make([]HitList, n),
	}
	for i := range evt.Boards {
		evt.Boards[i] = DummyHitList(uint8(i), code)
	}
	return evt
}

// Cluster is a group of adjacent strips hit in an ASIC.
type Cluster struct {
	Width uint8 // number of strips minus one
	First uint8 // first strip
}

// ChipHits lists the clusters found by an ASIC.
type ChipHits struct {
	Chip     uint8
	Clusters []Cluster
}

// NewHitList builds the hit list a board sends for an event, CRC and
// end-of-list marker included.
func NewHitList(board, tag uint8, chips []ChipHits) HitList {
	var w bitWriter
	w.put(HitListID, 8)
	w.put(uint64(board), 8)
	w.put(uint64(tag)<<1, 8)
	w.put(uint64(len(chips)), 4)
	for _, chip := range chips {
		w.put(uint64(len(chip.Clusters)), 6)
		w.put(uint64(chip.Chip&0x0F), 6)
		for _, cl := range chip.Clusters {
			w.put(uint64(cl.Width), 6)
			w.put(uint64(cl.First), 6)
		}
	}
	return HitList{
		Board: board,
		Hits:  crc6.Append(nil, w.n, w.buf),
	}
}
