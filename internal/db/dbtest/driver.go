// Package dbtest provides a scripted database/sql driver for service tests
// that need to control what the store returns statement by statement.
package dbtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Result is the scripted answer to one statement.
type Result struct {
	Columns      []string
	Rows         [][]driver.Value
	RowsAffected int64
	Err          error
}

// Responder builds the answer for the n-th call (starting at 1) of a route.
type Responder func(n int, args []driver.NamedValue) Result

type route struct {
	match string
	fn    Responder
	calls int
}

// Store routes statements to responders by substring, first match wins.
// BEGIN, COMMIT and ROLLBACK are logged but need no route.
type Store struct {
	mu     sync.Mutex
	routes []*route
	log    []string
}

func New() *Store {
	return &Store{}
}

func (s *Store) On(match string, fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, &route{match: match, fn: fn})
}

// DB returns a *sql.DB whose connections all talk to s.
func (s *Store) DB() *sql.DB {
	return sql.OpenDB(connector{store: s})
}

// Calls counts logged statements containing match.
func (s *Store) Calls(match string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.log {
		if strings.Contains(q, match) {
			n++
		}
	}
	return n
}

// Statements returns every logged statement in order.
func (s *Store) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *Store) answer(query string, args []driver.NamedValue) Result {
	s.mu.Lock()
	s.log = append(s.log, query)
	var hit *route
	for _, r := range s.routes {
		if strings.Contains(query, r.match) {
			hit = r
			break
		}
	}
	if hit == nil {
		s.mu.Unlock()
		return Result{Err: fmt.Errorf("dbtest: unexpected statement: %s", strings.Join(strings.Fields(query), " "))}
	}
	hit.calls++
	n := hit.calls
	s.mu.Unlock()
	return hit.fn(n, args)
}

func (s *Store) note(stmt string) {
	s.mu.Lock()
	s.log = append(s.log, stmt)
	s.mu.Unlock()
}

type connector struct {
	store *Store
}

func (c connector) Connect(context.Context) (driver.Conn, error) {
	return &conn{store: c.store}, nil
}

func (c connector) Driver() driver.Driver {
	return drv{store: c.store}
}

type drv struct {
	store *Store
}

func (d drv) Open(string) (driver.Conn, error) {
	return &conn{store: d.store}, nil
}

type conn struct {
	store *Store
}

var errNoPrepare = errors.New("dbtest: prepared statements are not supported")

func (c *conn) Prepare(string) (driver.Stmt, error) { return nil, errNoPrepare }
func (c *conn) Close() error                        { return nil }
func (c *conn) Begin() (driver.Tx, error)           { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.store.note("BEGIN")
	return tx{store: c.store}, nil
}

// CheckNamedValue passes every argument through unchanged.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res := c.store.answer(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{columns: res.Columns, data: res.Rows}, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res := c.store.answer(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return driver.RowsAffected(res.RowsAffected), nil
}

type tx struct {
	store *Store
}

func (t tx) Commit() error {
	t.store.note("COMMIT")
	return nil
}

func (t tx) Rollback() error {
	t.store.note("ROLLBACK")
	return nil
}

type rows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
