// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver serving
// canned result sets.
package fakedb // import "github.com/go-lpc/aesop/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
)

var query struct {
	mu   sync.Mutex
	sets []Rows
	args [][]driver.Value
}

// Run runs f while the driver serves the given result sets, one per
// query, in order.
func Run(ctx context.Context, f func(ctx context.Context) error, sets ...Rows) error {
	query.mu.Lock()
	defer query.mu.Unlock()
	query.sets = sets
	query.args = nil
	defer func() {
		query.sets = nil
	}()

	return f(ctx)
}

// Args returns the arguments of the queries run by the last Run.
func Args() [][]driver.Value {
	return query.args
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("fakedb: transactions not supported")
}

type Stmt struct{}

func (stmt *Stmt) Close() error {
	return nil
}

func (stmt *Stmt) NumInput() int {
	return -1
}

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return nil, fmt.Errorf("fakedb: exec not supported")
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	query.args = append(query.args, args)
	if len(query.sets) == 0 {
		return nil, fmt.Errorf("fakedb: no result set left")
	}
	rows := query.sets[0]
	query.sets = query.sets[1:]
	return &rows, nil
}

// Rows is a canned result set.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
