// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"errors"
	"io"
	"testing"
)

func TestWBuff(t *testing.T) {
	w := &wbuf{
		p: make([]byte, 8),
	}

	n, err := w.Write(make([]byte, 6))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if got, want := n, 6; got != want {
		t.Fatalf("invalid write-len: got=%d, want=%d", got, want)
	}

	n, err = w.Write(make([]byte, 3))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("got=%+v, want=%+v", err, io.EOF)
	}
	if got, want := n, 0; got != want {
		t.Fatalf("got=%d, want=%d", got, want)
	}

	n, err = w.Write(make([]byte, 2))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if got, want := len(w.bytes()), len(w.p); got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	w.reset()
	if got, want := len(w.bytes()), 0; got != want {
		t.Fatalf("invalid len after reset: got=%d, want=%d", got, want)
	}
}
