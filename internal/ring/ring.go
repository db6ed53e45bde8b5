// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements the circular byte channels filled by the
// serial receivers and drained by the acquisition loop.
package ring // import "github.com/go-lpc/aesop/internal/ring"

import (
	"sync"
	"time"

	"github.com/go-lpc/aesop/errlog"
)

const empty = -1

// Channel is a fixed capacity circular byte buffer with a single writer
// and a single reader.
// When full, a push discards the oldest unread byte.
type Channel struct {
	mu    sync.Mutex
	buf   []byte
	w     int // next slot to write
	r     int // next slot to read, or empty
	burst bool
	nover uint64

	elog  *errlog.Log
	code  errlog.Code
	ready chan struct{}
}

// New creates a channel holding up to n bytes.
// Overflows are reported to elog with the provided code, once per burst.
func New(n int, elog *errlog.Log, code errlog.Code) *Channel {
	if n <= 0 {
		panic("ring: invalid channel capacity")
	}
	return &Channel{
		buf:   make([]byte, n),
		r:     empty,
		elog:  elog,
		code:  code,
		ready: make(chan struct{}, 1),
	}
}

// Cap returns the capacity of the channel.
func (c *Channel) Cap() int { return len(c.buf) }

// Push appends a byte to the channel.
func (c *Channel) Push(b byte) {
	c.mu.Lock()
	over, at := c.push(b)
	c.mu.Unlock()
	c.overflow(over, at)
	c.notify()
}

// Write pushes all of p into the channel. It never fails.
func (c *Channel) Write(p []byte) (int, error) {
	var (
		over bool
		at   int
	)
	c.mu.Lock()
	for _, b := range p {
		if o, w := c.push(b); o && !over {
			over, at = true, w
		}
	}
	c.mu.Unlock()
	c.overflow(over, at)
	c.notify()
	return len(p), nil
}

// push stores b. It reports the write position when b starts a new
// overflow burst.
func (c *Channel) push(b byte) (bool, int) {
	var (
		n    = len(c.buf)
		over bool
		at   int
	)
	switch c.r {
	case empty:
		c.r = c.w
	case c.w:
		// full: drop the oldest byte.
		c.r = (c.r + 1) % n
		c.nover++
		if !c.burst {
			c.burst = true
			over, at = true, c.w
		}
	}
	c.buf[c.w] = b
	c.w = (c.w + 1) % n
	return over, at
}

// overflow reports an overflow burst to the error log, outside of the
// channel lock.
func (c *Channel) overflow(over bool, at int) {
	if !over || c.elog == nil {
		return
	}
	c.elog.AddOnce(c.code, byte(at>>8), byte(at))
}

func (c *Channel) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest byte of the channel.
func (c *Channel) Pop() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pop()
}

func (c *Channel) pop() (byte, bool) {
	if c.r == empty {
		return 0, false
	}
	b := c.buf[c.r]
	c.r = (c.r + 1) % len(c.buf)
	if c.r == c.w {
		c.r = empty
	}
	c.burst = false
	return b, true
}

// PopTimeout waits at most d for a byte to become available.
func (c *Channel) PopTimeout(d time.Duration) (byte, bool) {
	if b, ok := c.Pop(); ok {
		return b, true
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	for {
		select {
		case <-c.ready:
			if b, ok := c.Pop(); ok {
				return b, true
			}
		case <-tmr.C:
			return c.Pop()
		}
	}
}

// Peek returns the i-th unread byte without consuming it.
func (c *Channel) Peek(i int) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= c.len() {
		return 0, false
	}
	return c.buf[(c.r+i)%len(c.buf)], true
}

// Len returns the number of unread bytes.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len()
}

func (c *Channel) len() int {
	if c.r == empty {
		return 0
	}
	n := len(c.buf)
	v := (c.w - c.r + n) % n
	if v == 0 {
		return n
	}
	return v
}

// Read pops up to len(p) bytes into p, without blocking.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(p) {
		b, ok := c.pop()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

// Drain pops and returns all unread bytes.
func (c *Channel) Drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, 0, c.len())
	for {
		b, ok := c.pop()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

// Flush discards all unread bytes.
func (c *Channel) Flush() {
	c.mu.Lock()
	c.r = empty
	c.burst = false
	c.mu.Unlock()
}

// Overflows returns the number of bytes dropped because the channel was full.
func (c *Channel) Overflows() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nover
}

// Ready returns a channel signalled after bytes have been pushed.
func (c *Channel) Ready() <-chan struct{} { return c.ready }
