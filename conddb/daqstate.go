// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import "fmt"

// NumLayers is the number of tracker layers in the readout.
const NumLayers = 8

// BoardMap maps a tracker layer to the hardware board installed in it.
type BoardMap [NumLayers]uint8

// DefaultBoardMap installs board i in layer i.
func DefaultBoardMap() BoardMap {
	var m BoardMap
	for i := range m {
		m[i] = uint8(i)
	}
	return m
}

// Validate checks that each layer holds a distinct, existing board.
func (m BoardMap) Validate() error {
	var seen [NumPCB]bool
	for lyr, brd := range m {
		if int(brd) >= NumPCB {
			return fmt.Errorf("conddb: invalid board %d for layer %d", brd, lyr)
		}
		if seen[brd] {
			return fmt.Errorf("conddb: board %d installed twice", brd)
		}
		seen[brd] = true
	}
	return nil
}

// String returns the map in hardware notation, one letter per layer.
func (m BoardMap) String() string {
	buf := make([]byte, len(m))
	for i, brd := range m {
		buf[i] = 'A' + brd
	}
	return string(buf)
}

// RunState describes the tracker setup of a run.
type RunState struct {
	Name     string   `json:"name"`
	Boards   int      `json:"boards"`
	BoardMap BoardMap `json:"board_map"`
	Logic    uint8    `json:"tkr_logic"`
}
