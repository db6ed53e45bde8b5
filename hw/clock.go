// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"sync"
	"time"
)

// SysClock is a Clock counting ticks since its creation.
type SysClock struct {
	start time.Time
}

// NewSysClock returns a clock starting at zero.
func NewSysClock() *SysClock {
	return &SysClock{start: time.Now()}
}

func (clk *SysClock) Ticks() uint32 {
	return uint32(time.Since(clk.start) / TickPeriod)
}

// Elapsed returns the ticks elapsed since start, accounting for the
// wraparound of the counter.
func Elapsed(clk Clock, start uint32) uint32 {
	return clk.Ticks() - start
}

// SysRTC is a real-time clock backed by the system time.
// Set shifts the returned time without touching the system clock.
type SysRTC struct {
	mu  sync.Mutex
	off time.Duration
}

func (rtc *SysRTC) Now() time.Time {
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	return time.Now().Add(rtc.off).UTC()
}

func (rtc *SysRTC) Set(t time.Time) error {
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	rtc.off = time.Until(t)
	return nil
}

var (
	_ Clock = (*SysClock)(nil)
	_ RTC   = (*SysRTC)(nil)
)
