// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/aesop/tof"
)

// Publisher publishes telemetry records out of band.
// Publish is called from a dedicated goroutine of Device.Run, never from
// the acquisition loop.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type config struct {
	msg *log.Logger

	boards   int           // tracker boards in the readout
	readTkr  bool          // read the tracker out by default
	cmdTmo   time.Duration // command session timeout
	tkrTmo   time.Duration // tracker per-byte read timeout
	tkrRetry int
	strict   bool // reject hit lists read out of layer order
	debugTOF bool
	crc      bool // full hit-list diagnostics
	tof      tof.Config
	hkPeriod uint32 // housekeeping period at startup, in seconds

	pub Publisher
}

func newConfig() config {
	return config{
		msg:      log.New(os.Stdout, "daq: ", 0),
		boards:   0,
		readTkr:  true,
		cmdTmo:   5 * time.Second,
		tkrTmo:   155 * time.Millisecond,
		tkrRetry: 3,
		tof:      tof.DefaultConfig,
	}
}

// Option configures a device.
type Option func(*config)

// WithBoards sets the number of tracker boards in the readout.
func WithBoards(n int) Option {
	return func(cfg *config) {
		cfg.boards = n
	}
}

// WithReadTracker sets whether the tracker is read out when a run
// does not say otherwise.
func WithReadTracker(v bool) Option {
	return func(cfg *config) {
		cfg.readTkr = v
	}
}

// WithCommandTimeout sets the time allowed to receive the payload of a
// command.
func WithCommandTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.cmdTmo = d
	}
}

// WithTrackerTimeout sets the time to wait for each byte of a tracker
// response and the number of attempts on a silent tracker.
func WithTrackerTimeout(d time.Duration, retries int) Option {
	return func(cfg *config) {
		cfg.tkrTmo = d
		cfg.tkrRetry = retries
	}
}

// WithStrictLayers replaces hit lists read out of layer order by dummy
// hit lists.
func WithStrictLayers(v bool) Option {
	return func(cfg *config) {
		cfg.strict = v
	}
}

// WithDebugTOF appends the TOF correlation details to events.
func WithDebugTOF(v bool) Option {
	return func(cfg *config) {
		cfg.debugTOF = v
	}
}

// WithCRCCheck enables the full hit-list diagnostics and the error
// records written when the tracker is reset.
func WithCRCCheck(v bool) Option {
	return func(cfg *config) {
		cfg.crc = v
	}
}

// WithTOF sets the TOF reference clock configuration.
func WithTOF(c tof.Config) Option {
	return func(cfg *config) {
		cfg.tof = c
	}
}

// WithHousekeeping starts the housekeeping records at creation, every
// period seconds.
func WithHousekeeping(period uint32) Option {
	return func(cfg *config) {
		cfg.hkPeriod = period
	}
}

// WithLogger sets the logger of the device and of its components.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithPublisher publishes the housekeeping records through pub.
func WithPublisher(pub Publisher) Option {
	return func(cfg *config) {
		cfg.pub = pub
	}
}
