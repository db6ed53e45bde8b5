// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errlog

import "fmt"

// Code identifies the kind of fault recorded in the error log.
// Codes travel on the wire as a single byte.
type Code uint8

const (
	DACLoad             Code = 1
	DACRead             Code = 2
	TOFDACLoad          Code = 3
	TOFDACRead          Code = 4
	CmdIgnore           Code = 5
	TkrReadTimeout      Code = 6
	TkrBadID            Code = 7
	TkrBadLength        Code = 8
	TkrBadEcho          Code = 9
	GetTkrData          Code = 10
	TkrBadFPGA          Code = 11
	TkrBadTrailer       Code = 12
	TkrBadNData         Code = 13
	PMTDAQTimeout       Code = 14
	TkrNumBoards        Code = 15
	TkrBadBoardID       Code = 16
	TkrBoardShort       Code = 17
	HeapNoMemory        Code = 18
	TxFailed            Code = 19
	BadCmd              Code = 20
	EvtTooBig           Code = 21
	BadByte             Code = 22
	TkrBadStatus        Code = 23
	TkrTrgEnable        Code = 24
	TkrBadTrgHead       Code = 25
	TkrTooBig           Code = 26
	TkrLyrOrder         Code = 27
	TkrWrongDataType    Code = 28
	CmdBufOverflow      Code = 29
	CmdTimeout          Code = 30
	TrgNotEnabled       Code = 31
	MissingHousekeeping Code = 32
	BadCmdInput         Code = 33
	TkrBufferOverflow   Code = 34
	TOFADCConflict      Code = 35
	TkrFIFONotEmpty     Code = 36
	BadCmdFormat        Code = 37
	UARTCmd             Code = 38
	UARTTkr             Code = 39
	BadCRC              Code = 40
	FIFOOverflow        Code = 41
	GetTkrEvent         Code = 42
	BadDieTemp          Code = 43
	ASICRegWrongLen     Code = 44
	NoTkrReset          Code = 45
	ByteOrder           Code = 46
	ByteCount           Code = 47
	WrongNumBytes       Code = 48
	ASICsReset          Code = 49
	WrongNumTkrData     Code = 50
	TrgNotReady         Code = 51
	TkrTagEvtMismatch   Code = 52
	FPGAASICHead        Code = 53
	TkrASIC             Code = 54
	ASICParity          Code = 55
	TkrTooManyClust     Code = 56
	TkrBadChip          Code = 57
	TkrBadClust         Code = 58
	TkrListOverflow     Code = 59
	CmdIncomplete       Code = 60
	TDChainNotTerm      Code = 61
	BadTkrCmd           Code = 62
	TkrBufOver          Code = 63
	TkrDataInTimeout    Code = 64
	TkrUARTStop         Code = 65
	TkrUARTBreak        Code = 66
	NoSuchDAC           Code = 67
	TkrMissedTrigger    Code = 68
	TkrBadConfig        Code = 69
	TkrBadDAC           Code = 70
	TkrBadDataMask      Code = 71
	TkrBadTrgMask       Code = 72
	InvalidCommand      Code = 73
	BadFPGA             Code = 74
)

var codeNames = [...]string{
	DACLoad:             "DAC_LOAD",
	DACRead:             "DAC_READ",
	TOFDACLoad:          "TOF_DAC_LOAD",
	TOFDACRead:          "TOF_DAC_READ",
	CmdIgnore:           "CMD_IGNORE",
	TkrReadTimeout:      "TKR_READ_TIMEOUT",
	TkrBadID:            "TKR_BAD_ID",
	TkrBadLength:        "TKR_BAD_LENGTH",
	TkrBadEcho:          "TKR_BAD_ECHO",
	GetTkrData:          "GET_TKR_DATA",
	TkrBadFPGA:          "TKR_BAD_FPGA",
	TkrBadTrailer:       "TKR_BAD_TRAILER",
	TkrBadNData:         "TKR_BAD_NDATA",
	PMTDAQTimeout:       "PMT_DAQ_TIMEOUT",
	TkrNumBoards:        "TKR_NUM_BOARDS",
	TkrBadBoardID:       "TKR_BAD_BOARD_ID",
	TkrBoardShort:       "TKR_BOARD_SHORT",
	HeapNoMemory:        "HEAP_NO_MEMORY",
	TxFailed:            "TX_FAILED",
	BadCmd:              "BAD_CMD",
	EvtTooBig:           "EVT_TOO_BIG",
	BadByte:             "BAD_BYTE",
	TkrBadStatus:        "TKR_BAD_STATUS",
	TkrTrgEnable:        "TKR_TRG_ENABLE",
	TkrBadTrgHead:       "TKR_BAD_TRGHEAD",
	TkrTooBig:           "TKR_TOO_BIG",
	TkrLyrOrder:         "TKR_LYR_ORDER",
	TkrWrongDataType:    "TRK_WRONG_DATA_TYPE",
	CmdBufOverflow:      "CMD_BUF_OVERFLOW",
	CmdTimeout:          "CMD_TIMEOUT",
	TrgNotEnabled:       "TRG_NOT_ENABLED",
	MissingHousekeeping: "MISSING_HOUSEKEEPING",
	BadCmdInput:         "BAD_CMD_INPUT",
	TkrBufferOverflow:   "TKR_BUFFER_OVERFLOW",
	TOFADCConflict:      "TOF_ADC_CONFLICT",
	TkrFIFONotEmpty:     "TKR_FIFO_NOT_EMPTY",
	BadCmdFormat:        "BAD_CMD_FORMAT",
	UARTCmd:             "UART_CMD",
	UARTTkr:             "UART_TKR",
	BadCRC:              "BAD_CRC",
	FIFOOverflow:        "FIFO_OVERFLOW",
	GetTkrEvent:         "GET_TKR_EVENT",
	BadDieTemp:          "BAD_DIE_TEMP",
	ASICRegWrongLen:     "ASIC_REG_WRONG_LEN",
	NoTkrReset:          "NO_TRK_RESET",
	ByteOrder:           "BYTE_ORDER",
	ByteCount:           "BYTECOUNT",
	WrongNumBytes:       "WRONG_NUM_BYTES",
	ASICsReset:          "ASICS_RESET",
	WrongNumTkrData:     "WRONG_NUM_TKR_DATA",
	TrgNotReady:         "TRG_NOT_READY",
	TkrTagEvtMismatch:   "TKR_TAG_EVT_MISMATCH",
	FPGAASICHead:        "FPGA_ASIC_HEAD",
	TkrASIC:             "TKR_ASIC",
	ASICParity:          "ASIC_PARITY",
	TkrTooManyClust:     "TKR_TOO_MANY_CLUST",
	TkrBadChip:          "TKR_BAD_CHIP",
	TkrBadClust:         "TKR_BAD_CLUST",
	TkrListOverflow:     "TKR_LIST_OVERFLOW",
	CmdIncomplete:       "CMD_INCOMPLETE",
	TDChainNotTerm:      "TD_CHAIN_NOT_TERM",
	BadTkrCmd:           "BAD_TKR_CMD",
	TkrBufOver:          "TKR_BUF_OVER",
	TkrDataInTimeout:    "TKR_DATA_IN_TIMEOUT",
	TkrUARTStop:         "TKR_UART_STOP",
	TkrUARTBreak:        "TKR_UART_BREAK",
	NoSuchDAC:           "NO_SUCH_DAC",
	TkrMissedTrigger:    "TKR_MISSED_TRIGGER",
	TkrBadConfig:        "TKR_BAD_CONFIG",
	TkrBadDAC:           "TKR_BAD_DAC",
	TkrBadDataMask:      "TKR_BAD_DATA_MASK",
	TkrBadTrgMask:       "TKR_BAD_TRG_MASK",
	InvalidCommand:      "INVALID_COMMAND",
	BadFPGA:             "BAD_FPGA",
}

func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}
