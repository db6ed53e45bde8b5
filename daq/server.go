// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"

	"github.com/go-lpc/aesop/cmdproto"
)

// server allows to control a device over a JSON connection.
type server struct {
	ctl net.Listener
	msg *log.Logger
	dev *Device
}

// Serve serves control connections to dev on addr.
//
// Requests are JSON objects {"name": ..., "args": ...}:
//   - "command" sends a command, args {"code": 7, "data": [1, 2]},
//   - "errors" drains the error log,
//   - "status" returns the device status,
//   - "quit" closes the connection.
func Serve(addr string, dev *Device) error {
	srv, err := newServer(addr, dev)
	if err != nil {
		return fmt.Errorf("daq: could not create server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, dev *Device) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create control server on %q: %w", addr, err)
	}

	srv := &server{
		ctl: ctl,
		msg: dev.msg,
		dev: dev,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("daq: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not serve %v: %+v", conn.RemoteAddr(), err)
			continue
		}
	}
}

// Request arguments of the "command" request.
type cmdArgs struct {
	Code uint8 `json:"code"`
	Data []int `json:"data"`
}

// ErrorEntry is an entry of the error log, as sent by the server.
type ErrorEntry struct {
	Code string `json:"code"`
	V0   uint8  `json:"v0"`
	V1   uint8  `json:"v1"`
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dec := json.NewDecoder(conn)
loop:
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}

		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode request: %+v", err)
			srv.reply(conn, err, nil)
			return fmt.Errorf("daq: could not decode request: %w", err)
		}

		switch strings.ToLower(req.Name) {
		case "command":
			if req.Args == nil {
				srv.reply(conn, fmt.Errorf("missing %q arguments", req.Name), nil)
				continue
			}
			var args cmdArgs
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, err, nil)
				continue
			}
			data := make([]byte, len(args.Data))
			for i, v := range args.Data {
				if v < 0 || v > 0xFF {
					err = fmt.Errorf("invalid data byte %d", v)
					break
				}
				data[i] = byte(v)
			}
			if err != nil {
				srv.reply(conn, err, nil)
				continue
			}
			raw, err := cmdproto.Encode(cmdproto.Selector, args.Code, data)
			if err != nil {
				srv.reply(conn, err, nil)
				continue
			}
			srv.dev.Inject(raw)
			srv.reply(conn, nil, nil)

		case "errors":
			ents := srv.dev.Errors()
			out := make([]ErrorEntry, len(ents))
			for i, e := range ents {
				out[i] = ErrorEntry{Code: e.Code.String(), V0: e.V0, V1: e.V1}
			}
			srv.reply(conn, nil, out)

		case "status":
			srv.reply(conn, nil, srv.dev.Status())

		case "quit":
			srv.reply(conn, nil, nil)
			break loop

		default:
			srv.msg.Printf("unknown request name=%q", req.Name)
			srv.reply(conn, fmt.Errorf("unknown request %q", req.Name), nil)
		}
	}

	return nil
}

func (srv *server) reply(conn net.Conn, err error, data interface{}) {
	rep := struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{"ok", data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
