// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

// Type identifiers leading a tracker response, after the length byte.
const (
	TypeEvent        = 0xD3
	TypeHousekeeping = 0xC7
	TypeEcho         = 0xF1
)

// Tracker command codes used by the acquisition core.
const (
	CmdReadEvent    = 0x01 // read the event held by the tracker
	CmdResetSM      = 0x04 // reset the board state machines
	CmdSetBoards    = 0x0F // set the number of boards in the readout
	CmdASICThresh   = 0x11 // load an ASIC threshold DAC
	CmdASICConfig   = 0x12 // load the ASIC configuration register
	CmdDataMask     = 0x13
	CmdTriggerMask  = 0x14
	CmdCalMask      = 0x15
	CmdReadI2C      = 0x46
	CmdEventStatus  = 0x57 // is an event ready for readout?
	CmdTrgEnable    = 0x65
	CmdTrgDisable   = 0x66
	CmdLatchRates   = 0x6C
	CmdReadRate     = 0x6D
	CmdASICPower    = 0x08 // power the ASICs on
	CmdEndOfRun     = 0x69 // read a per-board end of run counter
	CmdVersion      = 0x0A
	CmdASICReadLow  = 0x20
	CmdASICReadHigh = 0x25
)

// Event status values returned by CmdEventStatus.
const (
	DataReady    = 0x59
	DataNotReady = 0x4E
)

// Kind classifies the response expected from a tracker command.
type Kind uint8

const (
	NoResponse Kind = iota
	EventData
	HousekeepingData
	EchoData
	ASICData
	I2CData
	Unrecognized
)

func (k Kind) String() string {
	switch k {
	case NoResponse:
		return "no-response"
	case EventData:
		return "event"
	case HousekeepingData:
		return "housekeeping"
	case EchoData:
		return "echo"
	case ASICData:
		return "asic"
	case I2CData:
		return "i2c"
	case Unrecognized:
		return "unrecognized"
	}
	return "invalid"
}

// hkData holds the number of data bytes, trailer included, returned by
// commands answering with housekeeping data.
var hkData = map[byte]uint8{
	0x57: 2, 0x0A: 2, 0x0B: 2, 0x1E: 3, 0x1F: 2,
	0x20: 9, 0x21: 9, 0x22: 9, 0x23: 9, 0x24: 9, 0x25: 9,
	0x46: 1, 0x54: 2, 0x55: 2, 0x07: 3, 0x58: 3, 0x59: 2, 0x5C: 3,
	0x60: 3, 0x68: 3, 0x69: 3, 0x6A: 3, 0x6B: 3, 0x6D: 3, 0x71: 3,
	0x73: 2, 0x74: 2, 0x75: 2, 0x76: 3, 0x77: 2, 0x78: 3, 0x84: 3,
}

var echoCmds = map[byte]bool{
	0x02: true, 0x03: true, 0x04: true, 0x05: true, 0x06: true,
	0x08: true, 0x09: true, 0x0C: true, 0x0E: true, 0x0F: true,
	0x10: true, 0x11: true, 0x12: true, 0x13: true, 0x14: true,
	0x15: true, 0x45: true, 0x56: true, 0x5A: true, 0x5B: true,
	0x61: true, 0x62: true, 0x63: true, 0x64: true, 0x65: true,
	0x66: true, 0x6E: true, 0x81: true, 0x82: true, 0x83: true,
}

// KindOf returns the kind of response expected for a tracker command.
// Unknown commands are reported as Unrecognized.
func KindOf(code byte) Kind {
	switch {
	case code == CmdReadEvent:
		return EventData
	case code == 0x67 || code == CmdLatchRates:
		return NoResponse
	case code >= CmdASICReadLow && code <= CmdASICReadHigh:
		return ASICData
	case code == CmdReadI2C:
		return I2CData
	}
	if _, ok := hkData[code]; ok {
		return HousekeepingData
	}
	if echoCmds[code] {
		return EchoData
	}
	return Unrecognized
}

// NumData returns the number of housekeeping data bytes expected for
// a command, trailer included.
func NumData(code byte) uint8 {
	return hkData[code]
}

func typeOf(k Kind) byte {
	switch k {
	case EventData:
		return TypeEvent
	case HousekeepingData:
		return TypeHousekeeping
	case EchoData:
		return TypeEcho
	}
	return 0
}
