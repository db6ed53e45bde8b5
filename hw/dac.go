// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
	"sync"

	"github.com/go-daq/smbus"
)

type smbusConn interface {
	WriteReg(addr, reg, v uint8) error
	ReadWord(addr, reg uint8) (uint16, error)
	Close() error
}

var (
	smbusOpen = smbusOpenImpl
)

func smbusOpenImpl(bus int, addr uint8) (smbusConn, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ErrNoSuchDAC is returned when addressing an unknown DAC.
var ErrNoSuchDAC = fmt.Errorf("hw: no such DAC")

// AD5622 drives the 12-bit AD5622 threshold DACs on an I2C bus.
//
// The DAC settings are cached: a read returns the last loaded value
// and only queries the chip when no value is known.
type AD5622 struct {
	mu    sync.Mutex
	conn  smbusConn
	cache map[uint8]uint16
}

// OpenAD5622 opens the I2C bus and returns a driver for the DACs at
// the standard addresses.
func OpenAD5622(bus int) (*AD5622, error) {
	conn, err := smbusOpen(bus, DACPMT5)
	if err != nil {
		return nil, fmt.Errorf("hw: could not open i2c bus %d: %w", bus, err)
	}
	return newAD5622(conn), nil
}

func newAD5622(conn smbusConn) *AD5622 {
	return &AD5622{
		conn:  conn,
		cache: make(map[uint8]uint16, 3),
	}
}

func validDAC(addr uint8) bool {
	switch addr {
	case DACPMT5, DACTOF1, DACTOF2:
		return true
	}
	return false
}

// Load sets the 12-bit value of the DAC at addr.
func (dac *AD5622) Load(addr uint8, v uint16) error {
	if !validDAC(addr) {
		return fmt.Errorf("hw: could not load DAC 0x%02x: %w", addr, ErrNoSuchDAC)
	}

	dac.mu.Lock()
	defer dac.mu.Unlock()

	delete(dac.cache, addr)
	err := dac.conn.WriteReg(addr, uint8((v>>8)&0x0F), uint8(v&0xFF))
	if err != nil {
		return fmt.Errorf("hw: could not load DAC 0x%02x: %w", addr, err)
	}
	return nil
}

// Read returns the 12-bit setting of the DAC at addr.
func (dac *AD5622) Read(addr uint8) (uint16, error) {
	if !validDAC(addr) {
		return 0, fmt.Errorf("hw: could not read DAC 0x%02x: %w", addr, ErrNoSuchDAC)
	}

	dac.mu.Lock()
	defer dac.mu.Unlock()

	if v, ok := dac.cache[addr]; ok {
		return v, nil
	}

	w, err := dac.conn.ReadWord(addr, 0)
	if err != nil {
		return 0, fmt.Errorf("hw: could not read DAC 0x%02x: %w", addr, err)
	}
	var (
		b0 = uint8(w)
		b1 = uint8(w >> 8)
		v  = uint16(b0&0x3F)<<6 | uint16(b1&0xFC)>>2
	)
	dac.cache[addr] = v
	return v, nil
}

// Close releases the I2C bus.
func (dac *AD5622) Close() error {
	dac.mu.Lock()
	defer dac.mu.Unlock()
	return dac.conn.Close()
}

var (
	_ DAC = (*AD5622)(nil)
)
