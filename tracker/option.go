// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"log"
	"time"
)

type config struct {
	rtimeout time.Duration // per-byte read timeout
	wtimeout time.Duration // transmit drain timeout
	settle   time.Duration // wait before draining an unrecognized response
	retries  int           // attempts on a first-byte timeout
	strict   bool          // reject hit lists read out of layer order
	msg      *log.Logger
}

func newConfig() config {
	return config{
		rtimeout: 155 * time.Millisecond,
		wtimeout: time.Second,
		settle:   2 * time.Millisecond,
		retries:  3,
	}
}

// Option configures a tracker link.
type Option func(*config)

// WithReadTimeout sets the maximum time to wait for a response byte.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.rtimeout = d
	}
}

// WithWriteTimeout sets the maximum time to wait for the transmit queue
// to drain.
func WithWriteTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.wtimeout = d
	}
}

// WithRetries sets the number of attempts made when the first byte of
// a response times out.
func WithRetries(n int) Option {
	return func(cfg *config) {
		if n < 1 {
			n = 1
		}
		cfg.retries = n
	}
}

// WithStrictLayers replaces hit lists read out of layer order by dummy
// hit lists, and flags the tracker configuration as bad.
func WithStrictLayers(v bool) Option {
	return func(cfg *config) {
		cfg.strict = v
	}
}

// WithLogger sets the logger of the link.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
