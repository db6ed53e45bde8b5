// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb // import "github.com/go-lpc/aesop/conddb"

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	NumPCB  = 9  // number of tracker boards, spare included
	NumASIC = 12 // number of ASICs per board
	RowSize = 16 // size of a row of the configuration memory

	// ImageSize is the size of the persisted configuration.
	ImageSize = (NumPCB*NumASIC + NumPCB + 1) * RowSize

	thrBase = NumPCB * NumASIC * RowSize
	regBase = thrBase + NumPCB*RowSize
)

// Chip is the configuration of a tracker ASIC.
type Chip struct {
	DataMask  uint64 `json:"datmask"` // channel 0 is the most significant bit
	TrgMask   uint64 `json:"trgmask"`
	Threshold uint8  `json:"threshold"`
}

// Config is the configuration of all the tracker ASICs.
//
// Boards are numbered by their hardware (alphabetical) position, not by
// the layer they occupy.
type Config struct {
	Chips [NumPCB][NumASIC]Chip `json:"chips"`
	Reg   [3]uint8              `json:"reg"` // configuration register, shared by all ASICs
}

// MarshalBinary encodes the configuration into the persisted layout:
// one row per chip holding its data and trigger masks, then one row
// per board holding its thresholds, then a row holding the shared
// configuration register.
func (cfg Config) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ImageSize)
	for brd := range cfg.Chips {
		for chip, c := range cfg.Chips[brd] {
			row := buf[(brd*NumASIC+chip)*RowSize:]
			binary.BigEndian.PutUint64(row[0:8], c.DataMask)
			binary.BigEndian.PutUint64(row[8:16], c.TrgMask)
			buf[thrBase+brd*RowSize+chip] = c.Threshold
		}
	}
	copy(buf[regBase:], cfg.Reg[:])
	return buf, nil
}

// UnmarshalBinary decodes the configuration from its persisted layout.
func (cfg *Config) UnmarshalBinary(p []byte) error {
	if len(p) < ImageSize {
		return fmt.Errorf("conddb: invalid configuration image size (got=%d, want=%d)", len(p), ImageSize)
	}
	for brd := range cfg.Chips {
		for chip := range cfg.Chips[brd] {
			row := p[(brd*NumASIC+chip)*RowSize:]
			c := &cfg.Chips[brd][chip]
			c.DataMask = binary.BigEndian.Uint64(row[0:8])
			c.TrgMask = binary.BigEndian.Uint64(row[8:16])
			c.Threshold = p[thrBase+brd*RowSize+chip]
		}
	}
	copy(cfg.Reg[:], p[regBase:])
	return nil
}

// ReadConfig reads a configuration from its persisted layout.
func ReadConfig(r io.ReaderAt) (Config, error) {
	var (
		cfg Config
		buf = make([]byte, ImageSize)
	)
	_, err := r.ReadAt(buf, 0)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not read configuration image: %w", err)
	}
	err = cfg.UnmarshalBinary(buf)
	return cfg, err
}

// WriteConfig writes a configuration in its persisted layout.
func WriteConfig(w io.WriterAt, cfg Config) error {
	buf, err := cfg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("conddb: could not encode configuration: %w", err)
	}
	_, err = w.WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("conddb: could not write configuration image: %w", err)
	}
	return nil
}

// MaskBytes returns the mask as sent to the ASIC, most significant
// byte first.
func MaskBytes(mask uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, mask)
}

// ThresholdBytes returns the threshold settings of a board.
func (cfg *Config) ThresholdBytes(brd int) []byte {
	out := make([]byte, NumASIC)
	for i, c := range cfg.Chips[brd] {
		out[i] = c.Threshold
	}
	return out
}
