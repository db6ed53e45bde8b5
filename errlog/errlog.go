// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errlog implements the bounded error log of the acquisition core.
package errlog // import "github.com/go-lpc/aesop/errlog"

import (
	"log"
	"os"
	"sync"
)

// Capacity is the maximum number of entries held by a Log.
const Capacity = 64

// Entry is a single error log record.
type Entry struct {
	Code Code
	V0   uint8
	V1   uint8
}

// Log is a bounded append-only error log.
// Entries added while the log is full are dropped.
type Log struct {
	mu   sync.Mutex
	ents []Entry
	msg  *log.Logger
}

// New returns a new, empty error log.
// A nil logger is replaced by the default "errlog: " logger.
func New(msg *log.Logger) *Log {
	if msg == nil {
		msg = log.New(os.Stdout, "errlog: ", 0)
	}
	return &Log{
		ents: make([]Entry, 0, Capacity),
		msg:  msg,
	}
}

// Add appends an entry to the log, unless the log is full.
func (el *Log) Add(code Code, v0, v1 uint8) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.add(code, v0, v1)
}

// AddOnce appends an entry to the log, unless an entry with the same
// code is already present or the log is full.
func (el *Log) AddOnce(code Code, v0, v1 uint8) {
	el.mu.Lock()
	defer el.mu.Unlock()
	for _, e := range el.ents {
		if e.Code == code {
			return
		}
	}
	el.add(code, v0, v1)
}

func (el *Log) add(code Code, v0, v1 uint8) {
	if len(el.ents) >= Capacity {
		return
	}
	el.ents = append(el.ents, Entry{Code: code, V0: v0, V1: v1})
	el.msg.Printf("%v (0x%02x, 0x%02x)", code, v0, v1)
}

// Len returns the number of entries currently held.
func (el *Log) Len() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.ents)
}

// Has reports whether an entry with the provided code is present.
func (el *Log) Has(code Code) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	for _, e := range el.ents {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Drain returns all entries and clears the log.
func (el *Log) Drain() []Entry {
	el.mu.Lock()
	defer el.mu.Unlock()
	out := make([]Entry, len(el.ents))
	copy(out, el.ents)
	el.ents = el.ents[:0]
	return out
}

// Bytes encodes entries on the wire, 3 bytes per entry.
// An empty list encodes as the "no errors" sentinel {0x00, 0xEE, 0xFF}.
func Bytes(ents []Entry) []byte {
	if len(ents) == 0 {
		return []byte{0x00, 0xEE, 0xFF}
	}
	out := make([]byte, 0, 3*len(ents))
	for _, e := range ents {
		out = append(out, byte(e.Code), e.V0, e.V1)
	}
	return out
}
