// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-boot (re)starts the acquisition processes of the
// instrument and supervises them.
//
// The processes are listed in a boot file, one command line per line.
// Empty lines and lines starting with '#' are ignored:
//
//	# /etc/aesop/boot.txt
//	aesop-daq -cfg /etc/aesop/daq.toml
//	aesop-watch -dir /data/aesop
//
// The outputs of each process are written to $AESOP_LOGDIR/<name>.log.
// When one process stops, the others are killed.
package main // import "github.com/go-lpc/aesop/cmd/aesop-boot"

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var defaultCmds = [][]string{
	{"aesop-daq", "-cfg", "/etc/aesop/daq.toml"},
	{"aesop-watch", "-dir", "/data/aesop"},
}

func main() {
	var (
		fname  = flag.String("f", "", "path to boot file")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		dir    = flag.String("logdir", os.Getenv("AESOP_LOGDIR"), "directory of log files")
	)

	flag.Parse()

	log.SetPrefix("aesop-boot: ")
	log.SetFlags(0)

	cmds := defaultCmds
	if *fname != "" {
		f, err := os.Open(*fname)
		if err != nil {
			log.Fatalf("could not open boot file: %+v", err)
		}
		cmds, err = parseBoot(f)
		f.Close()
		if err != nil {
			log.Fatalf("could not parse boot file %q: %+v", *fname, err)
		}
	}

	for _, args := range cmds {
		name := filepath.Base(args[0])
		kill := exec.Command("killall", name)
		kill.Stderr = os.Stderr
		kill.Stdout = os.Stdout
		err := kill.Run()
		if err != nil {
			log.Printf("could not kill %q: %+v", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, *doMon, *doFreq, cmds, *dir)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// parseBoot reads the command lines of a boot file.
func parseBoot(r io.Reader) ([][]string, error) {
	var (
		cmds [][]string
		scan = bufio.NewScanner(r)
	)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, strings.Fields(line))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("could not read boot file: %w", err)
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("empty boot file")
	}
	return cmds, nil
}

func run(ctx context.Context, doMon bool, freq time.Duration, cmds [][]string, dir string) error {
	if dir == "" {
		dir = "/var/log/aesop"
	}

	grp, ctx := errgroup.WithContext(ctx)
	for i := range cmds {
		args := cmds[i]
		grp.Go(func() error {
			return start(ctx, args, dir, doMon, freq)
		})
	}

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot DAQ: %w", err)
	}
	return nil
}

// errStopped reports a process that exited on its own.
var errStopped = errors.New("process stopped")

// start runs a process until it exits or ctx is done.
func start(ctx context.Context, args []string, dir string, doMon bool, freq time.Duration) error {
	name := filepath.Base(args[0])
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %w", name, err)
		}
		<-errch
		log.Printf("killed %q", name)
		return nil
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
		return fmt.Errorf("%q exited: %w", name, errStopped)
	}
}
