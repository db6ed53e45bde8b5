// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"

	"github.com/go-lpc/aesop/internal/mmap"
)

// EEPROMSize is the size of the configuration memory.
const EEPROMSize = 2048

// EEPROM is a configuration memory backed by a memory-mapped file.
type EEPROM struct {
	h *mmap.Handle
}

// OpenEEPROM maps the named image file, creating it when needed.
func OpenEEPROM(fname string) (*EEPROM, error) {
	h, err := mmap.Open(fname, EEPROMSize)
	if err != nil {
		return nil, fmt.Errorf("hw: could not open EEPROM image: %w", err)
	}
	return &EEPROM{h: h}, nil
}

func (mem *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	return mem.h.ReadAt(p, off)
}

func (mem *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	n, err := mem.h.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("hw: could not write EEPROM at 0x%x: %w", off, err)
	}
	return n, nil
}

// Sync flushes the memory to its image file.
func (mem *EEPROM) Sync() error {
	return mem.h.Sync()
}

// Close flushes and unmaps the image file.
func (mem *EEPROM) Close() error {
	return mem.h.Close()
}

var (
	_ Storage = (*EEPROM)(nil)
)
