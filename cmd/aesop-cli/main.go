// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-cli is an interactive console to the control server of
// an acquisition process.
//
// Usage:
//
//	$> aesop-cli -addr localhost:5555
//	aesop> cmd 0x07
//	aesop> start 42
//	aesop> status
//	aesop> errors
//	aesop> stop
//	aesop> quit
package main // import "github.com/go-lpc/aesop/cmd/aesop-cli"

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:5555", "address of the control server")
		hist = flag.String("hist", filepath.Join(os.TempDir(), ".aesop-cli.history"), "path to history file")
	)

	log.SetPrefix("aesop-cli: ")
	log.SetFlags(0)

	flag.Parse()

	cli, err := dial(*addr)
	if err != nil {
		log.Fatalf("could not connect to %q: %+v", *addr, err)
	}
	defer cli.close()

	err = repl(cli, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var cmds = []string{"cmd", "start", "stop", "status", "errors", "help", "quit"}

func repl(cli *client, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range cmds {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("aesop> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return cli.quit()
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := cli.eval(os.Stdout, line)
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

type client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func dial(addr string) (*client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

func (cli *client) close() error {
	return cli.conn.Close()
}

type cmdArgs struct {
	Code uint8 `json:"code"`
	Data []int `json:"data"`
}

// send sends a request and decodes the data of its reply into v.
func (cli *client) send(name string, args, v interface{}) error {
	req := struct {
		Name string      `json:"name"`
		Args interface{} `json:"args,omitempty"`
	}{name, args}
	err := cli.enc.Encode(req)
	if err != nil {
		return fmt.Errorf("could not send %q request: %w", name, err)
	}

	var rep struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	err = cli.dec.Decode(&rep)
	if err != nil {
		return fmt.Errorf("could not decode %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return fmt.Errorf("%q request failed: %s", name, rep.Msg)
	}
	if v == nil || len(rep.Data) == 0 {
		return nil
	}
	err = json.Unmarshal(rep.Data, v)
	if err != nil {
		return fmt.Errorf("could not decode %q reply data: %w", name, err)
	}
	return nil
}

func (cli *client) command(code uint8, data ...int) error {
	return cli.send("command", cmdArgs{Code: code, Data: data}, nil)
}

func (cli *client) quit() error {
	return cli.send("quit", nil, nil)
}

func parseBytes(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, s := range args {
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: %w", s, err)
		}
		out[i] = int(v)
	}
	return out, nil
}

// eval runs a console line and reports whether the session is over.
func (cli *client) eval(w io.Writer, line string) (bool, error) {
	toks := strings.Fields(line)
	switch strings.ToLower(toks[0]) {
	case "cmd":
		if len(toks) < 2 {
			return false, fmt.Errorf("usage: cmd CODE [DATA...]")
		}
		vs, err := parseBytes(toks[1:])
		if err != nil {
			return false, err
		}
		return false, cli.command(uint8(vs[0]), vs[1:]...)

	case "start":
		if len(toks) != 2 {
			return false, fmt.Errorf("usage: start RUN")
		}
		run, err := strconv.ParseUint(toks[1], 0, 16)
		if err != nil {
			return false, fmt.Errorf("invalid run number %q: %w", toks[1], err)
		}
		return false, cli.command(0x3C, int(run>>8), int(run&0xFF), 1, 0)

	case "stop":
		return false, cli.command(0x44)

	case "status":
		var st map[string]interface{}
		err := cli.send("status", nil, &st)
		if err != nil {
			return false, err
		}
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return false, fmt.Errorf("could not format status: %w", err)
		}
		fmt.Fprintf(w, "%s\n", out)
		return false, nil

	case "errors":
		var ents []struct {
			Code string `json:"code"`
			V0   uint8  `json:"v0"`
			V1   uint8  `json:"v1"`
		}
		err := cli.send("errors", nil, &ents)
		if err != nil {
			return false, err
		}
		for _, e := range ents {
			fmt.Fprintf(w, "%-24s 0x%02x 0x%02x\n", e.Code, e.V0, e.V1)
		}
		return false, nil

	case "help":
		fmt.Fprintf(w, "commands: %s\n", strings.Join(cmds, ", "))
		return false, nil

	case "quit", "exit":
		return true, cli.quit()

	default:
		return false, fmt.Errorf("unknown command %q", toks[0])
	}
}
