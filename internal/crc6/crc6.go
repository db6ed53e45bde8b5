// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crc6 implements the 6-bit CRC computed by the tracker FPGAs
// over board hit lists.
package crc6 // import "github.com/go-lpc/aesop/internal/crc6"

// poly is the x^6+x^5+x^2+1 generator, MSB first.
var poly = [7]uint8{1, 1, 0, 0, 1, 0, 1}

// Checksum returns the CRC-6 of the first nbits bits of p, MSB first.
// The tracker includes an implicit leading start bit in its calculation,
// which is added back here.
func Checksum(nbits int, p []byte) uint8 {
	if nbits < 0 || nbits > 8*len(p) {
		return 0
	}
	n := nbits + 1
	bits := make([]uint8, n, n+6)
	bits[0] = 1
	for i := 0; i < nbits; i++ {
		bits[i+1] = (p[i/8] >> (7 - uint(i%8))) & 1
	}
	if n < 7 {
		// not enough bits for a single division step.
		bits = append(make([]uint8, 7-n), bits...)
		n = 7
	}

	for i := 0; i < n-6; i++ {
		if bits[i] == 0 {
			continue
		}
		for j, v := range poly {
			bits[i+j] ^= v
		}
	}

	var crc uint8
	for _, b := range bits[n-6:] {
		crc = crc<<1 | b
	}
	return crc
}

// Verify recomputes the CRC of a tracker hit list and compares it with
// the one embedded by the FPGA.
//
// The list ends with a '11' marker located in its final byte, preceded by
// the 6 CRC bits. Trailing bits after the marker are padding.
// Verify returns false when no marker can be found.
func Verify(hits []byte) bool {
	n := len(hits)
	if n < 2 {
		return false
	}
	last := hits[n-1]
	nbits := 8*n - 2
	for shift := uint(2); shift <= 8; shift++ {
		mask := uint8(0x03) << (shift - 2)
		if last&mask == mask {
			crcL := hits[n-2] << (8 - shift)
			crcR := last >> shift
			crc := (crcL | crcR) & 0x3F
			if nbits < 6 {
				return false
			}
			return Checksum(nbits-6, hits) == crc
		}
		nbits--
	}
	return false
}

// Append appends to dst the nbits first bits of p, followed by their CRC,
// the end-of-list marker and zero padding up to the next byte boundary.
//
// The marker must end up inside a single byte: nbits%8 must not be 1.
// Append panics otherwise.
func Append(dst []byte, nbits int, p []byte) []byte {
	if nbits%8 == 1 {
		panic("crc6: end-of-list marker would straddle a byte boundary")
	}
	crc := Checksum(nbits, p)
	total := nbits + 6 + 2
	out := make([]byte, (total+7)/8)
	set := func(i int, v uint8) {
		if v != 0 {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	for i := 0; i < nbits; i++ {
		set(i, (p[i/8]>>(7-uint(i%8)))&1)
	}
	for i := 0; i < 6; i++ {
		set(nbits+i, (crc>>(5-uint(i)))&1)
	}
	set(nbits+6, 1)
	set(nbits+7, 1)
	return append(dst, out...)
}
