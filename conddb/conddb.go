// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the tracker ASIC configuration,
// its persisted layout and the condition database it is fetched from.
package conddb // import "github.com/go-lpc/aesop/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var (
	host = getenv("AESOP_DB_HOST", "localhost")
	usr  = getenv("AESOP_DB_USER", "username")
	pwd  = getenv("AESOP_DB_PASS", "s3cr3t")

	drvName = "mysql"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// DB exposes convenience methods to retrieve the tracker configuration
// from the condition database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the condition database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastRunState returns the most recent tracker setup.
func (db *DB) LastRunState(ctx context.Context) (RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		state RunState
		bmap  string
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name, boards, board_map, tkr_logic FROM runstates ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return state, fmt.Errorf("conddb: could not query run state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&state.Name, &state.Boards, &bmap, &state.Logic)
		if err != nil {
			return state, fmt.Errorf("conddb: could not get run state value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("conddb: could not scan db for run state: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("conddb: context error while retrieving run state: %w", err)
	}

	state.BoardMap, err = parseBoardMap(bmap)
	if err != nil {
		return state, err
	}

	return state, nil
}

func parseBoardMap(s string) (BoardMap, error) {
	var m BoardMap
	if len(s) != len(m) {
		return m, fmt.Errorf("conddb: invalid board map %q", s)
	}
	for i := range m {
		m[i] = s[i] - 'A'
	}
	err := m.Validate()
	if err != nil {
		return m, err
	}
	return m, nil
}

// Config returns the ASIC configuration registered under name.
func (db *DB) Config(ctx context.Context, name string) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cfg Config

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT reg0, reg1, reg2 FROM tkrconfig WHERE name=?",
		name,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not query config register: %w", err)
	}
	n := 0
	for rows.Next() {
		err = rows.Scan(&cfg.Reg[0], &cfg.Reg[1], &cfg.Reg[2])
		if err != nil {
			rows.Close()
			return cfg, fmt.Errorf("conddb: could not scan config register: %w", err)
		}
		n++
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for config register: %w", err)
	}
	if n == 0 {
		return cfg, fmt.Errorf("conddb: no configuration %q", name)
	}

	rows, err = db.db.QueryContext(
		ctx,
		`
SELECT asics.board, asics.chip, asics.datmask, asics.trgmask, asics.threshold FROM asics
JOIN tkrconfig_asics ON asics.identifier=tkrconfig_asics.asic
JOIN tkrconfig       ON tkrconfig.identifier=tkrconfig_asics.tkrconfig
WHERE tkrconfig.name=?
`,
		name,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not run ASIC cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var (
			brd, chip uint8
			c         Chip
		)
		err = rows.Scan(&brd, &chip, &c.DataMask, &c.TrgMask, &c.Threshold)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not scan row %d for ASIC cfg: %w", i, err)
		}
		if brd >= NumPCB || chip >= NumASIC {
			return cfg, fmt.Errorf("conddb: invalid ASIC (board=%d, chip=%d) in row %d", brd, chip, i)
		}
		i++

		cfg.Chips[brd][chip] = c
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for ASIC cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving ASIC cfg: %w", err)
	}

	return cfg, nil
}
