// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw describes the peripherals driven by the acquisition core
// and provides drivers for some of them.
package hw // import "github.com/go-lpc/aesop/hw"

import (
	"io"
	"time"
)

// TickPeriod is the period of the local clock.
const TickPeriod = 5 * time.Millisecond

// NumPMT is the number of PMT channels.
const NumPMT = 5

// Clock is a monotonic clock counting TickPeriod ticks.
type Clock interface {
	Ticks() uint32
}

// RTC is the real-time clock.
type RTC interface {
	Now() time.Time
	Set(t time.Time) error
}

// Serial is a byte link.
type Serial interface {
	io.Reader
	io.Writer
	// TxEmpty reports whether all written bytes have been sent.
	TxEmpty() bool
}

// Signal describes a trigger.
type Signal struct {
	Status uint8  // trigger status: PMT and tracker trigger bits
	Tick   uint8  // local 8-bit clock (period 200) when the trigger fired
	Time   uint32 // Clock ticks when the trigger fired
}

// Trigger is the trigger logic.
type Trigger interface {
	// Signals returns the channel on which triggers are delivered.
	// Triggers are delivered even when the trigger is disabled.
	Signals() <-chan Signal

	Enable(v bool)
	Enabled() bool

	// SetMask sets the trigger mask of the event ('e') or PMT ('p') trigger.
	SetMask(kind byte, mask uint8)
	Mask(kind byte) uint8

	// SetPrescale sets the prescale of the tracker (1) or PMT (2) trigger.
	SetPrescale(kind byte, v uint8)
	Prescale(kind byte) uint8

	// SetLogic selects the tracker trigger logic.
	SetLogic(v uint8)
	Logic() uint8
}

// TOFHit is a sample from a TOF channel.
type TOFHit struct {
	Channel uint8  // 0: A, 1: B
	Raw     uint32 // reference clock count and stop time
	Clock   uint8  // local clock when captured
}

// TOF is the time-of-flight chip.
type TOF interface {
	Hits() <-chan TOFHit
}

// Digitizer reads the PMT pulse heights.
type Digitizer interface {
	// Ready reports whether all channels are digitized.
	Ready() bool
	// Read returns the value of the ADC channel ch.
	Read(ch int) (uint16, error)
}

// Counters are the PMT singles counters.
type Counters interface {
	Count(ch int) uint32
}

// Output is the data link to the host.
type Output interface {
	io.Writer
	// Busy reports whether the host can not receive data.
	Busy() bool
}

// Storage is the non-volatile configuration memory.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// DAC is a set of threshold DACs addressed by their I2C address.
type DAC interface {
	Load(addr uint8, v uint16) error
	Read(addr uint8) (uint16, error)
}

// DAC addresses.
const (
	DACPMT5 = 0x0E // threshold of the fifth PMT channel
	DACTOF1 = 0x0C // TOF channel A threshold
	DACTOF2 = 0x0F // TOF channel B threshold
)
