// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/go-lpc/aesop/errlog"
)

func TestServerFail(t *testing.T) {
	dev, _ := newTestDevice(t, 0)
	err := Serve(":invalid", dev)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	dev, ins := newTestDevice(t, 0)

	srv, err := newServer("localhost:0", dev)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	errch := make(chan error, 1)
	go func() {
		errch <- srv.serve()
	}()
	defer func() {
		srv.close()
		<-errch
	}()

	conn, err := net.Dial("tcp", srv.ctl.Addr().String())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer conn.Close()

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)
	call := func(name string, args interface{}, data interface{}) string {
		t.Helper()
		req := struct {
			Name string      `json:"name"`
			Args interface{} `json:"args,omitempty"`
		}{name, args}
		err := enc.Encode(req)
		if err != nil {
			t.Fatalf("could not send %q request: %+v", name, err)
		}
		var rep struct {
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}
		err = dec.Decode(&rep)
		if err != nil {
			t.Fatalf("could not read %q reply: %+v", name, err)
		}
		if data != nil && rep.Msg == "ok" {
			err = json.Unmarshal(rep.Data, data)
			if err != nil {
				t.Fatalf("could not decode %q reply data: %+v", name, err)
			}
		}
		return rep.Msg
	}

	if msg := call("command", map[string]interface{}{"code": 0x01, "data": []int{1, 42}}, nil); msg != "ok" {
		t.Fatalf("invalid command reply: %q", msg)
	}
	if msg := call("command", map[string]interface{}{"code": 0x01, "data": []int{1, 256}}, nil); msg == "ok" {
		t.Fatalf("invalid data byte accepted")
	}
	if msg := call("command", nil, nil); msg == "ok" {
		t.Fatalf("command without arguments accepted")
	}
	if msg := call("unknown", nil, nil); msg == "ok" {
		t.Fatalf("unknown request accepted")
	}

	dev.Step()
	if got, want := dev.set.thrDAC[0], uint8(42); got != want {
		t.Fatalf("invalid threshold: got=%d, want=%d", got, want)
	}
	if got := ins.Output.Bytes(); len(got) != 0 {
		t.Fatalf("unexpected output: %x", got)
	}

	var st Status
	if msg := call("status", nil, &st); msg != "ok" {
		t.Fatalf("invalid status reply: %q", msg)
	}
	if got, want := st.Commands, uint16(1); got != want {
		t.Fatalf("invalid command count: got=%d, want=%d", got, want)
	}

	dev.elog.Add(errlog.TkrBadStatus, 1, 2)
	var ents []ErrorEntry
	if msg := call("errors", nil, &ents); msg != "ok" {
		t.Fatalf("invalid errors reply: %q", msg)
	}
	if got, want := ents, []ErrorEntry{{errlog.TkrBadStatus.String(), 1, 2}}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("invalid errors:\ngot= %+v\nwant=%+v", got, want)
	}
	if dev.elog.Len() != 0 {
		t.Fatalf("error log not drained")
	}

	if msg := call("quit", nil, nil); msg != "ok" {
		t.Fatalf("invalid quit reply: %q", msg)
	}
	var v interface{}
	err = dec.Decode(&v)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("connection not closed: %+v", err)
	}
}
