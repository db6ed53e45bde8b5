// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-srv starts a TDAQ server running a simulated instrument.
//
// The output packets of the instrument are published on the /events
// output. An optional argument names a configuration memory image used
// to configure the tracker ASICs.
//
// Usage:
//
//	$> aesop-srv -id aesop-srv [-lvl LEVEL] [eeprom.bin]
package main // import "github.com/go-lpc/aesop/cmd/aesop-srv"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/daq"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/sim"
)

func main() {
	cmd := flags.New()

	b := &bench{
		boards: 8,
		seed:   1234,
		rate:   20 * time.Millisecond,
		msg:    log.New(os.Stdout, "aesop-srv: ", 0),
	}
	if len(cmd.Args) > 0 {
		b.image = cmd.Args[0]
	}

	node := daq.NewNode(b.mk)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", node.OnConfig)
	srv.CmdHandle("/init", node.OnInit)
	srv.CmdHandle("/reset", node.OnReset)
	srv.CmdHandle("/start", node.OnStart)
	srv.CmdHandle("/stop", node.OnStop)
	srv.CmdHandle("/quit", node.OnQuit)

	srv.OutputHandle("/events", node.Events)

	srv.RunHandle(node.Run)

	err := srv.Run(context.Background())
	b.stop()
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// bench is a simulated instrument with a particle generator.
type bench struct {
	boards int
	seed   int64
	rate   time.Duration // period of the particle crossings
	image  string        // configuration memory image, optional
	msg    *log.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func (b *bench) config() (conddb.Config, error) {
	if b.image == "" {
		return nominal(), nil
	}
	raw, err := os.ReadFile(b.image)
	if err != nil {
		return conddb.Config{}, fmt.Errorf("could not read configuration image: %w", err)
	}
	var cfg conddb.Config
	err = cfg.UnmarshalBinary(raw)
	if err != nil {
		return cfg, fmt.Errorf("could not decode configuration image: %w", err)
	}
	return cfg, nil
}

// nominal returns a configuration with all channels enabled.
func nominal() conddb.Config {
	var cfg conddb.Config
	cfg.Reg = [3]uint8{0x12, 0x34, 0xE0}
	for i := range cfg.Chips {
		for j := range cfg.Chips[i] {
			cfg.Chips[i][j] = conddb.Chip{
				DataMask:  ^uint64(0),
				TrgMask:   ^uint64(0),
				Threshold: 20,
			}
		}
	}
	return cfg
}

// mk creates a new simulated instrument writing its packets to out,
// and stops the previous one.
func (b *bench) mk(out hw.Output) (*daq.Device, error) {
	b.stop()

	cfg, err := b.config()
	if err != nil {
		return nil, err
	}

	ins, err := sim.NewInstrument(b.boards, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create instrument: %w", err)
	}

	dev, err := daq.New(daq.Peripherals{
		Tracker:  ins.Tracker,
		Trigger:  ins.Trigger,
		TOF:      ins.TOF,
		ADC:      ins.ADC,
		Counters: ins.Counters,
		Output:   out,
		Storage:  ins.EEPROM,
		DAC:      ins.DAC,
		Clock:    ins.Clock,
		RTC:      ins.RTC,
	}, daq.WithBoards(b.boards), daq.WithLogger(b.msg))
	if err != nil {
		return nil, fmt.Errorf("could not create device: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = make(chan struct{})
	done := b.done

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		ins.Clock.(*sim.Clock).Run(done)
	}()
	go func() {
		defer b.wg.Done()
		gen := sim.NewGenerator(ins, b.seed)
		tck := time.NewTicker(b.rate)
		defer tck.Stop()
		for {
			select {
			case <-done:
				return
			case <-tck.C:
				gen.Event()
				gen.Noise(3)
			}
		}
	}()

	return dev, nil
}

func (b *bench) stop() {
	b.mu.Lock()
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	b.mu.Unlock()
	b.wg.Wait()
}
