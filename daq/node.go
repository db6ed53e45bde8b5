// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/aesop/cmdproto"
	"github.com/go-lpc/aesop/hw"
)

// Node runs a device as a TDAQ process.
// The output packets of the device are published on the /events output.
type Node struct {
	mk func(out hw.Output) (*Device, error)

	mu     sync.Mutex
	dev    *Device
	out    *pipe
	run    uint16
	cancel context.CancelFunc
	done   chan error
}

// NewNode returns a node creating its device with mk, each time it is
// initialized.
func NewNode(mk func(out hw.Output) (*Device, error)) *Node {
	return &Node{mk: mk}
}

// pipe is an output link delivering packets to the TDAQ output handle.
type pipe struct {
	ch chan []byte
}

func newPipe(n int) *pipe {
	return &pipe{ch: make(chan []byte, n)}
}

func (p *pipe) Write(b []byte) (int, error) {
	select {
	case p.ch <- append([]byte(nil), b...):
		return len(b), nil
	default:
		return 0, fmt.Errorf("daq: output pipe full")
	}
}

func (p *pipe) Busy() bool { return len(p.ch) == cap(p.ch) }

func (n *Node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return nil
}

func (n *Node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stop()

	out := newPipe(1024)
	dev, err := n.mk(out)
	if err != nil {
		ctx.Msg.Errorf("could not create device: %+v", err)
		return fmt.Errorf("daq: could not create device: %w", err)
	}

	c, cancel := context.WithCancel(context.Background())
	n.dev = dev
	n.out = out
	n.cancel = cancel
	n.done = make(chan error, 1)
	go func() {
		n.done <- dev.Run(c)
	}()
	return nil
}

func (n *Node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stop()
	n.run = 0
	return nil
}

func (n *Node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dev == nil {
		return fmt.Errorf("daq: device not initialized")
	}
	n.run++
	ctx.Msg.Debugf("received /start command... -> run=%d", n.run)
	return n.send(0x3C, uint8(n.run>>8), uint8(n.run), 1, 0)
}

func (n *Node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dev == nil {
		return fmt.Errorf("daq: device not initialized")
	}
	st := n.dev.Status()
	ctx.Msg.Debugf("received /stop command... -> triggers=%d", st.Accepted)
	return n.send(0x44)
}

func (n *Node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stop()
	return nil
}

// Events publishes the output packets of the device.
func (n *Node) Events(ctx tdaq.Context, dst *tdaq.Frame) error {
	n.mu.Lock()
	out := n.out
	n.mu.Unlock()
	if out == nil {
		dst.Body = nil
		return nil
	}

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
	case pkt := <-out.ch:
		dst.Body = pkt
	}
	return nil
}

// Run waits for the end of the run.
func (n *Node) Run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return nil
}

// Status returns the status of the device, if any.
func (n *Node) Status() (Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dev == nil {
		return Status{}, false
	}
	return n.dev.Status(), true
}

func (n *Node) send(code byte, data ...byte) error {
	raw, err := cmdproto.Encode(cmdproto.Selector, code, data)
	if err != nil {
		return fmt.Errorf("daq: could not encode command 0x%02x: %w", code, err)
	}
	n.dev.Inject(raw)
	return nil
}

func (n *Node) stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	err := <-n.done
	if err != nil && !errors.Is(err, context.Canceled) {
		n.dev.msg.Printf("device stopped with error: %+v", err)
	}
	n.dev = nil
	n.out = nil
	n.cancel = nil
}
