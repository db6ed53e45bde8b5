// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command aesop-sql fetches a tracker ASIC configuration from the
// condition database and writes it into a configuration memory image.
//
// Database credentials are read from the AESOP_DB_HOST, AESOP_DB_USER
// and AESOP_DB_PASS environment variables.
//
// Usage:
//
//	$> aesop-sql -o /var/lib/aesop/eeprom.bin [-cfg NAME]
package main // import "github.com/go-lpc/aesop/cmd/aesop-sql"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/aesop/conddb"
	"github.com/go-lpc/aesop/hw"
)

func main() {
	log.SetPrefix("aesop-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "aesop", "name of the condition database")
		name   = flag.String("cfg", "", "name of the ASIC configuration (default: from last run state)")
		oname  = flag.String("o", "", "path to the configuration memory image to write")
		dump   = flag.Bool("json", false, "display the configuration as JSON")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open condition db: %+v", err)
	}
	defer db.Close()

	cfg, err := fetch(context.Background(), db, *name)
	if err != nil {
		log.Fatalf("could not fetch configuration: %+v", err)
	}

	if *dump {
		err = display(os.Stdout, cfg)
		if err != nil {
			log.Fatalf("could not display configuration: %+v", err)
		}
	}

	if *oname != "" {
		err = writeImage(*oname, cfg)
		if err != nil {
			log.Fatalf("could not write configuration image: %+v", err)
		}
		log.Printf("configuration written to %q", *oname)
	}
}

func fetch(ctx context.Context, db *conddb.DB, name string) (conddb.Config, error) {
	if name == "" {
		state, err := db.LastRunState(ctx)
		if err != nil {
			return conddb.Config{}, fmt.Errorf("could not get last run state: %w", err)
		}
		log.Printf("run state: %q (boards=%d, map=%v, logic=0x%02x)",
			state.Name, state.Boards, state.BoardMap, state.Logic,
		)
		name = state.Name
	}

	cfg, err := db.Config(ctx, name)
	if err != nil {
		return cfg, fmt.Errorf("could not get ASIC configuration %q: %w", name, err)
	}
	log.Printf("configuration %q: reg=%x", name, cfg.Reg)
	return cfg, nil
}

func display(w io.Writer, cfg conddb.Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func writeImage(fname string, cfg conddb.Config) error {
	mem, err := hw.OpenEEPROM(fname)
	if err != nil {
		return err
	}
	defer mem.Close()

	err = conddb.WriteConfig(mem, cfg)
	if err != nil {
		return err
	}

	err = mem.Sync()
	if err != nil {
		return fmt.Errorf("could not sync configuration image: %w", err)
	}

	return mem.Close()
}
