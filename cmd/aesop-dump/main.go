// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// aesop-dump decodes and displays the output stream of the instrument.
//
// Usage: aesop-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> aesop-dump -o hist.yoda ./run-42.dat
//	reply  code=0x3c echo=002a0100 len=85
//	event  run=42 trg=1 time=12345 status=0x03 tof=+312 adc=[1012 877 2301 453 3011] boards=8
//	[...]
//	eor    run=42 triggers=1021 dead=3 busy=0
package main // import "github.com/go-lpc/aesop/cmd/aesop-dump"

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/aesop/event"
	"go-hep.org/x/hep/hbook"
)

func main() {
	log.SetPrefix("aesop-dump: ")
	log.SetFlags(0)

	var (
		oname = flag.String("o", "", "path to output YODA file with TOF and PMT histograms")
		quiet = flag.Bool("q", false, "do not display packets")
	)

	flag.Usage = func() {
		fmt.Printf(`aesop-dump decodes and displays the output stream of the instrument.

Usage: aesop-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> aesop-dump -o hist.yoda ./run-42.dat

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input file")
	}

	var (
		hs  = newHistos()
		out io.Writer
	)
	out = os.Stdout
	if *quiet {
		out = io.Discard
	}

	for _, fname := range flag.Args() {
		err := process(out, hs, fname)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}

	if *oname != "" {
		err := hs.save(*oname)
		if err != nil {
			log.Fatalf("could not save histograms: %+v", err)
		}
	}
}

// histos holds the distributions of the event records.
type histos struct {
	tof *hbook.H1D    // TOF time difference, in ns
	adc [5]*hbook.H1D // PMT pulse heights, in ADC counts
}

func newHistos() *histos {
	hs := &histos{
		tof: hbook.NewH1D(400, -20, 20),
	}
	hs.tof.Annotation()["name"] = "tof-dt"
	hs.tof.Annotation()["title"] = "TOF time difference [ns]"
	for i, name := range []string{"T1", "T2", "T3", "T4", "G"} {
		h := hbook.NewH1D(512, 0, 4096)
		h.Annotation()["name"] = "adc-" + name
		h.Annotation()["title"] = "PMT " + name + " pulse height [ADC]"
		hs.adc[i] = h
	}
	return hs
}

func (hs *histos) fill(rec *event.Record) {
	hs.tof.Fill(float64(rec.TOF)*0.01, 1)
	for i, v := range rec.ADC {
		hs.adc[i].Fill(float64(v), 1)
	}
}

func (hs *histos) save(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	for _, h := range append([]*hbook.H1D{hs.tof}, hs.adc[:]...) {
		raw, err := h.MarshalYODA()
		if err != nil {
			return fmt.Errorf("could not marshal histogram %q: %w", h.Name(), err)
		}
		_, err = f.Write(raw)
		if err != nil {
			return fmt.Errorf("could not write histogram %q: %w", h.Name(), err)
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}

func process(w io.Writer, hs *histos, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	return dump(w, hs, bufio.NewReader(f))
}

func dump(w io.Writer, hs *histos, r io.Reader) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	dec := event.NewDecoder(r)
loop:
	for {
		var pkt event.Packet
		err := dec.Decode(&pkt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode packet: %w", err)
		}

		err = display(wbuf, hs, pkt)
		if err != nil {
			return err
		}
	}

	return nil
}

func display(w io.Writer, hs *histos, pkt event.Packet) error {
	switch pkt.Type {
	case event.TypeEvent, event.TypeEventDebug:
		var rec event.Record
		err := event.Unmarshal(pkt.Body, pkt.Type == event.TypeEventDebug, &rec)
		if err != nil {
			return fmt.Errorf("could not decode event: %w", err)
		}
		hs.fill(&rec)
		fmt.Fprintf(w, "event  run=%d trg=%d time=%d status=0x%02x tof=%+d adc=%v boards=%d\n",
			rec.Run, rec.Trigger, rec.Time, rec.Status, rec.TOF, rec.ADC, len(rec.Boards),
		)
		if dbg := rec.Debug; dbg != nil {
			fmt.Fprintf(w, "       tof-debug nA=%d nB=%d refA=%d refB=%d clkA=%d clkB=%d\n",
				dbg.NA, dbg.NB, dbg.RefA, dbg.RefB, dbg.ClkA, dbg.ClkB,
			)
		}
		for _, brd := range rec.Boards {
			fmt.Fprintf(w, "       board=%d hits=%x\n", brd.Board, brd.Hits)
		}

	case event.TypeHousekeeping:
		var hk event.Housekeeping
		err := hk.UnmarshalBinary(pkt.Body)
		if err != nil {
			return fmt.Errorf("could not decode housekeeping: %w", err)
		}
		fmt.Fprintf(w, "haus   run=%d triggers=%d dead=%d cmds=%d rates=%v live=%d%%\n",
			hk.Run, hk.Triggers, hk.Dead, hk.CmdCount, hk.Rates, hk.Live,
		)

	case event.TypeTkrHousekeep:
		var hk event.TkrHousekeeping
		err := hk.UnmarshalBinary(pkt.Body)
		if err != nil {
			return fmt.Errorf("could not decode tracker housekeeping: %w", err)
		}
		fmt.Fprintf(w, "trak   run=%d\n", hk.Run)
		for i, mon := range hk.Boards {
			fmt.Fprintf(w, "       board=%d %v\n", i, mon)
		}

	case event.TypeError:
		fmt.Fprintf(w, "error  %x\n", pkt.Body)

	default:
		if bytes.HasPrefix(pkt.Body, []byte("EOR")) {
			var eor event.EOR
			err := eor.UnmarshalBinary(pkt.Body)
			if err != nil {
				return fmt.Errorf("could not decode end-of-run: %w", err)
			}
			fmt.Fprintf(w, "eor    run=%d triggers=%d dead=%d busy=%d\n",
				eor.Run, eor.Triggers, eor.Dead, eor.Busy,
			)
			return nil
		}
		fmt.Fprintf(w, "reply  code=0x%02x echo=%x len=%d\n", pkt.Type, pkt.Echo, len(pkt.Body))
	}
	return nil
}
