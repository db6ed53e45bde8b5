// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var bauds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// Port is a serial port configured in raw 8N1 mode.
//
// Read waits at most 100ms for data and may return 0 bytes.
type Port struct {
	mu   sync.Mutex
	name string
	fd   int
}

// OpenPort opens the named serial device with the given baud rate.
func OpenPort(name string, baud int) (*Port, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, fmt.Errorf("hw: invalid baud rate %d", baud)
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hw: could not open serial port %q: %w", name, err)
	}

	err = setRaw(fd, speed)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("hw: could not configure serial port %q: %w", name, err)
	}

	return &Port{name: name, fd: fd}, nil
}

func setRaw(fd int, speed uint32) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("could not get termios: %w", err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 1

	err = unix.IoctlSetTermios(fd, unix.TCSETS, tio)
	if err != nil {
		return fmt.Errorf("could not set termios: %w", err)
	}
	return nil
}

func (p *Port) Read(data []byte) (int, error) {
	n, err := unix.Read(p.fd, data)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, nil
		}
		return 0, &os.PathError{Op: "read", Path: p.name, Err: err}
	}
	return n, nil
}

func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(data) {
		nn, err := unix.Write(p.fd, data[n:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return n, &os.PathError{Op: "write", Path: p.name, Err: err}
		}
		n += nn
	}
	return n, nil
}

// TxEmpty reports whether the output queue of the port is empty.
func (p *Port) TxEmpty() bool {
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCOUTQ)
	return err == nil && n == 0
}

// Close closes the serial port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

var (
	_ Serial = (*Port)(nil)
)
