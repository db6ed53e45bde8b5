// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-daq runs the acquisition of the instrument in stand-alone
// mode.
//
// The tracker and the command links are serial ports, the thresholds are
// loaded into the I2C DACs and the ASIC configuration is read from an
// EEPROM image file. The trigger logic, the TOF chip, the PMT digitizers
// and the singles counters are simulated: -gen sets the rate of the
// simulated particle crossings.
//
// Usage:
//
//	$> aesop-daq -cfg ./daq.toml -gen 10
package main // import "github.com/go-lpc/aesop/cmd/aesop-daq"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/aesop"
	"github.com/go-lpc/aesop/daq"
	"github.com/go-lpc/aesop/hw"
	"github.com/go-lpc/aesop/sim"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		fname = flag.String("cfg", "/etc/aesop/daq.toml", "path to configuration file")
		rate  = flag.Float64("gen", 0, "rate of simulated particle crossings in Hz (0 to disable)")
		seed  = flag.Int64("seed", 1234, "seed of the particle generator")
	)

	log.SetPrefix("aesop-daq: ")
	log.SetFlags(0)

	flag.Parse()

	cfg, err := daq.LoadConfig(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, cfg, *rate, *seed)
	if err != nil {
		log.Fatalf("could not run aesop-daq: %+v", err)
	}
}

// output is the data link to the host.
type output struct {
	w io.Writer
}

func (o output) Write(p []byte) (int, error) { return o.w.Write(p) }
func (o output) Busy() bool                  { return false }

func run(ctx context.Context, cfg daq.Config, rate float64, seed int64) error {
	tkr, err := hw.OpenPort(cfg.Tracker.Name, cfg.Tracker.Baud)
	if err != nil {
		return fmt.Errorf("could not open tracker link: %w", err)
	}
	defer tkr.Close()

	mem, err := hw.OpenEEPROM(cfg.EEPROM)
	if err != nil {
		return fmt.Errorf("could not open configuration memory: %w", err)
	}
	defer mem.Close()

	dac, err := hw.OpenAD5622(cfg.I2C)
	if err != nil {
		return fmt.Errorf("could not open threshold DACs: %w", err)
	}
	defer dac.Close()

	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("could not create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	clk := hw.NewSysClock()
	ins := &sim.Instrument{
		Clock:    clk,
		Trigger:  sim.NewTrigger(clk, nil),
		TOF:      sim.NewTOF(),
		ADC:      sim.NewADC(),
		Counters: new(sim.Counters),
	}
	p := daq.Peripherals{
		Tracker:  tkr,
		Trigger:  ins.Trigger,
		TOF:      ins.TOF,
		ADC:      ins.ADC,
		Counters: ins.Counters,
		Output:   output{w},
		Storage:  mem,
		DAC:      dac,
		Clock:    clk,
		RTC:      new(hw.SysRTC),
	}

	for _, link := range []struct {
		cfg daq.Serial
		dst *io.Reader
	}{
		{cfg.Command, &p.Command},
		{cfg.Console, &p.Console},
	} {
		if link.cfg.Name == "" {
			continue
		}
		port, err := hw.OpenPort(link.cfg.Name, link.cfg.Baud)
		if err != nil {
			return fmt.Errorf("could not open command link: %w", err)
		}
		defer port.Close()
		*link.dst = port
	}

	opts := cfg.Options()
	if cfg.MQTT.Broker != "" {
		pub, err := newPublisher(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("could not create publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts, daq.WithPublisher(pub))
	}

	dev, err := daq.New(p, opts...)
	if err != nil {
		return fmt.Errorf("could not create device: %w", err)
	}

	if cfg.Control != "" {
		go func() {
			err := daq.Serve(cfg.Control, dev)
			if err != nil {
				log.Printf("control server failed: %+v", err)
			}
		}()
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return dev.Run(ctx)
	})
	if rate > 0 {
		gen := sim.NewGenerator(ins, seed)
		grp.Go(func() error {
			tck := time.NewTicker(time.Duration(float64(time.Second) / rate))
			defer tck.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tck.C:
					gen.Event()
					gen.Noise(3)
				}
			}
		})
	}

	version, _ := aesop.Version()
	log.Printf("running acquisition (version=%q, firmware=%d.%d, boards=%d)...",
		version, aesop.MajorVersion, aesop.MinorVersion, cfg.DAQ.Boards,
	)
	err = grp.Wait()
	if err != nil {
		return err
	}
	log.Printf("running acquisition... [done]")
	return nil
}
