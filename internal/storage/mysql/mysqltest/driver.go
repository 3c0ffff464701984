// Package mysqltest provides a scripted database/sql driver for store tests.
// Each expected operation is queued up front and the driver fails on the
// first statement that does not match the script.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (o opType) String() string {
	switch o {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	}
	return "unknown"
}

// Op is one scripted driver call.
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
}

// WithError makes the operation fail with err.
func (o Op) WithError(err error) Op {
	o.err = err
	return o
}

// Result is returned by scripted Exec calls.
type Result struct {
	LastInsertID int64
	AffectedRows int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastInsertID, nil }
func (r Result) RowsAffected() (int64, error) { return r.AffectedRows, nil }

// Rows is returned by scripted Query calls.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Exec expects an exec of query. An empty query matches any statement.
func Exec(query string, result Result) Op { return Op{typ: opExec, query: query, result: result} }

// Query expects a query returning rows.
func Query(query string, rows Rows) Op { return Op{typ: opQuery, query: query, rows: rows} }

// Begin expects a transaction start.
func Begin() Op { return Op{typ: opBegin} }

// Commit expects a commit.
func Commit() Op { return Op{typ: opCommit} }

// Rollback expects a rollback.
func Rollback() Op { return Op{typ: opRollback} }

// Call records an executed statement and its arguments.
type Call struct {
	Query string
	Args  []any
}

// Driver replays a script.
type Driver struct {
	ops []Op
	idx int32

	mu    sync.Mutex
	calls []Call
}

var driverSeq atomic.Int32

// New registers a fresh driver for ops and opens a single-connection DB on it.
func New(t *testing.T, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed fails the test unless every scripted operation ran.
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Calls returns the statements executed so far.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string, args []driver.NamedValue) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, Normalize(query))
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s (%s)", op.typ, expected, Normalize(query))
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		want, got := Normalize(op.query), Normalize(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	if expected == opExec || expected == opQuery {
		values := make([]any, len(args))
		for i, a := range args {
			values[i] = a.Value
		}
		d.mu.Lock()
		d.calls = append(d.calls, Call{Query: Normalize(query), Args: values})
		d.mu.Unlock()
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]any
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	for i, v := range r.values[r.idx] {
		dest[i] = v
	}
	r.idx++
	return nil
}

// Normalize collapses whitespace so scripted SQL can be formatted freely.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
