// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor implements the periodic tracker and PMT rate monitors.
//
// Monitors are driven by the acquisition loop: Step is called on every
// pass while no event is pending, and each monitor decides from the tick
// clock whether anything must be done.
package monitor // import "github.com/go-lpc/aesop/monitor"

import (
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/tracker"
)

// TicksPerSecond is the number of clock ticks in a second.
const TicksPerSecond = 200

// State is the state of a monitor.
type State uint8

const (
	Idle         State = iota
	Accumulating       // waiting for the monitoring interval to elapse
	Sampling           // waiting for the counts of the current sample
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Sampling:
		return "sampling"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Gate is the master trigger gate.
type Gate interface {
	Enabled() bool
	Enable(v bool)
}

// Link sends commands to the tracker boards.
type Link interface {
	Boards() int
	Send(board, code byte, args ...byte) (tracker.Response, error)
}

type config struct {
	msg     *log.Logger
	samples int
}

func newConfig(name string) config {
	return config{
		msg:     log.New(os.Stdout, name+": ", 0),
		samples: 1,
	}
}

// Option configures a monitor.
type Option func(*config)

// WithLogger sets the logger of the monitor.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSamples sets the number of samples averaged before the rates
// are published.
func WithSamples(n int) Option {
	return func(cfg *config) {
		if n < 1 {
			n = 1
		}
		cfg.samples = n
	}
}

func elapsed(clk hw.Clock, start uint32) uint32 {
	return hw.Elapsed(clk, start)
}
