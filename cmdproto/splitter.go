// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmdproto

import (
	"github.com/go-lpc/aesop/errlog"
	"github.com/go-lpc/aesop/internal/ring"
)

// QueueLen is the capacity of the queue of complete frames.
const QueueLen = 35

// Splitter cuts CR LF terminated frames out of a command byte channel.
type Splitter struct {
	fifo  *ring.Channel
	elog  *errlog.Log
	queue [][]byte
}

// NewSplitter creates a splitter draining fifo.
func NewSplitter(fifo *ring.Channel, elog *errlog.Log) *Splitter {
	return &Splitter{
		fifo:  fifo,
		elog:  elog,
		queue: make([][]byte, 0, QueueLen),
	}
}

// Scan moves all complete frames from the byte channel to the frame queue.
// Bytes preceding a frame are discarded.
func (sp *Splitter) Scan() {
	for {
		n := sp.fifo.Len()
		if n < FrameLen {
			return
		}
		end := -1
		for i := FrameLen - 2; i < n-1; i++ {
			cr, _ := sp.fifo.Peek(i)
			lf, _ := sp.fifo.Peek(i + 1)
			if cr == '\r' && lf == '\n' {
				end = i + 2
				break
			}
		}
		if end < 0 {
			return
		}
		buf := make([]byte, end)
		_, _ = sp.fifo.Read(buf)
		sp.push(buf[end-FrameLen:])
	}
}

func (sp *Splitter) push(frame []byte) {
	if len(sp.queue) >= QueueLen-1 {
		sp.elog.Add(errlog.CmdBufOverflow, byte(len(sp.queue)), 0)
		return
	}
	sp.queue = append(sp.queue, frame)
}

// Len returns the number of queued frames.
func (sp *Splitter) Len() int { return len(sp.queue) }

// Next pops the oldest queued frame.
func (sp *Splitter) Next() ([]byte, bool) {
	if len(sp.queue) == 0 {
		return nil, false
	}
	frame := sp.queue[0]
	copy(sp.queue, sp.queue[1:])
	sp.queue[len(sp.queue)-1] = nil
	sp.queue = sp.queue[:len(sp.queue)-1]
	return frame, true
}

// Flush discards the queued frames and the pending bytes.
func (sp *Splitter) Flush() {
	sp.fifo.Flush()
	for i := range sp.queue {
		sp.queue[i] = nil
	}
	sp.queue = sp.queue[:0]
}
