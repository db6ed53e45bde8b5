// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"io"
)

// wbuf is a fixed-size output buffer.
type wbuf struct {
	p []byte
	c int
}

func (w *wbuf) Write(p []byte) (int, error) {
	if w.c+len(p) > len(w.p) {
		return 0, io.EOF
	}
	n := copy(w.p[w.c:], p)
	w.c += n
	return n, nil
}

func (w *wbuf) reset() { w.c = 0 }

func (w *wbuf) bytes() []byte { return w.p[:w.c] }
