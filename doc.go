// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aesop holds code for the AESOP-Lite event DAQ.
//
// The acquisition core lives in package daq. It is fed by the tracker
// link (package tracker), the triplicated command protocol (package
// cmdproto) and the TOF correlation engine (package tof), and emits
// records framed by package event.
package aesop // import "github.com/go-lpc/aesop"

import (
	"fmt"
	"runtime/debug"
)

// Firmware version reported by the version command.
const (
	MajorVersion = 28
	MinorVersion = 7
)

// Version returns the version of aesop and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/aesop"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
