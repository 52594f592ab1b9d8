package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tomyedwab/odbcbridge/bridge"
	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/types"
)

const driverName = "odbcbridge"

var (
	mu          sync.RWMutex
	environment *odbc.Environment
	scheduler   bridge.Scheduler
)

// SetEnvironment sets the environment and scheduler new connections use.
// It must be called before any connection is opened. A nil env selects
// the process environment created by odbc.InitOnce.
func SetEnvironment(env *odbc.Environment, queue bridge.Scheduler) {
	mu.Lock()
	defer mu.Unlock()
	environment, scheduler = env, queue
}

func init() {
	sql.Register(driverName, &Driver{})
}

// --- Driver implementation ---

// Driver is the database/sql driver.
type Driver struct{}

// Open returns a new connection for an ODBC connection string.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	return &connector{driver: d, connectionString: name}, nil
}

type connector struct {
	driver           *Driver
	connectionString string
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	mu.RLock()
	env, queue := environment, scheduler
	mu.RUnlock()
	if env == nil {
		env = odbc.Default()
	}
	if env == nil || queue == nil {
		return nil, fmt.Errorf("odbcbridge: no environment: call SetEnvironment or odbc.InitOnce first")
	}

	conn := &Conn{session: bridge.NewSession(env, queue, nil)}
	if err := conn.waitErr(ctx, func(done func(error)) {
		conn.session.Open(c.connectionString, done)
	}); err != nil {
		conn.session.Close(nil)
		return nil, fmt.Errorf("odbcbridge: open failed: %w", err)
	}
	return conn, nil
}

func (c *connector) Driver() driver.Driver {
	return c.driver
}

// --- Connection implementation ---

// Conn implements driver.Conn over one session.
type Conn struct {
	session *bridge.Session
	bad     atomic.Bool
	inTx    bool
}

type result[T any] struct {
	value T
	err   error
}

// wait blocks until the verb started by start completes or ctx is done.
// An abandoned verb keeps running, so the connection is marked bad.
func wait[T any](ctx context.Context, c *Conn, start func(func(T, error))) (T, error) {
	var zero T
	if c.bad.Load() {
		return zero, driver.ErrBadConn
	}
	ch := make(chan result[T], 1)
	start(func(v T, err error) { ch <- result[T]{v, err} })
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		c.bad.Store(true)
		return zero, ctx.Err()
	}
}

func (c *Conn) waitErr(ctx context.Context, start func(func(error))) error {
	_, err := wait(ctx, c, func(done func(struct{}, error)) {
		start(func(err error) { done(struct{}{}, err) })
	})
	return err
}

func (c *Conn) query(ctx context.Context, query string, args []driver.NamedValue) (types.Results, error) {
	params, err := namedValues(args)
	if err != nil {
		return types.Results{}, err
	}
	return wait(ctx, c, func(done func(types.Results, error)) {
		c.session.QueryRaw(query, params, nil, done)
	})
}

// Prepare returns a statement that is sent with its arguments on each
// execution.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.bad.Load() {
		return nil, driver.ErrBadConn
	}
	return &Stmt{conn: c, query: query}, nil
}

// Close disconnects. A bad connection is closed without waiting for the
// abandoned operation.
func (c *Conn) Close() error {
	if c.bad.Load() {
		c.session.Close(nil)
		return nil
	}
	ch := make(chan error, 1)
	c.session.Close(func(err error) { ch <- err })
	if err := <-ch; err != nil {
		return fmt.Errorf("odbcbridge: close failed: %w", err)
	}
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.ReadOnly {
		return nil, fmt.Errorf("odbcbridge: read-only transactions are not supported")
	}
	if sql.IsolationLevel(opts.Isolation) != sql.LevelDefault {
		return nil, fmt.Errorf("odbcbridge: isolation level %s is not supported", sql.IsolationLevel(opts.Isolation))
	}
	if c.inTx {
		return nil, fmt.Errorf("odbcbridge: transaction already active on this connection")
	}
	if err := c.waitErr(ctx, c.session.BeginTransaction); err != nil {
		return nil, err
	}
	c.inTx = true
	return &Tx{conn: c}, nil
}

func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	results, err := c.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return newRows(results), nil
}

func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	results, err := c.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return newResult(results), nil
}

// Ping reports whether the connection is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	if c.bad.Load() {
		return driver.ErrBadConn
	}
	return ctx.Err()
}

// ResetSession implements driver.SessionResetter.
func (c *Conn) ResetSession(ctx context.Context) error {
	if c.bad.Load() {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *Conn) IsValid() bool {
	return !c.bad.Load()
}

func namedValues(args []driver.NamedValue) ([]any, error) {
	params := make([]any, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, fmt.Errorf("odbcbridge: named parameter %q is not supported", arg.Name)
		}
		params[i] = arg.Value
	}
	return params, nil
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn  *Conn
	query string
}

func (s *Stmt) Close() error {
	return nil
}

// NumInput returns -1: placeholders are counted when arguments are
// interpolated.
func (s *Stmt) NumInput() int {
	return -1
}

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), toNamed(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), toNamed(args))
}

func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func toNamed(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Transaction implementation ---

// Tx implements the driver.Tx interface.
type Tx struct {
	conn *Conn
	done bool
}

var errTxDone = errors.New("odbcbridge: transaction already committed or rolled back")

func (t *Tx) Commit() error {
	return t.end(t.conn.session.Commit)
}

func (t *Tx) Rollback() error {
	return t.end(t.conn.session.Rollback)
}

func (t *Tx) end(verb func(func(error))) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.conn.inTx = false
	return t.conn.waitErr(context.Background(), verb)
}

// --- Result implementation ---

type execResult struct {
	rowsAffected int64
}

// newResult sums the counts of every result without columns.
func newResult(results types.Results) *execResult {
	r := &execResult{}
	for _, set := range results.Sets {
		if len(set.Meta) == 0 && set.RowCount > 0 {
			r.rowsAffected += set.RowCount
		}
	}
	return r
}

func (r *execResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("odbcbridge: LastInsertId is not supported")
}

func (r *execResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// rows implements driver.Rows over pre-fetched record sets. Results
// without columns are skipped.
type rows struct {
	sets []types.RecordSet
	set  int
	row  int
}

func newRows(results types.Results) *rows {
	r := &rows{}
	for _, set := range results.Sets {
		if len(set.Meta) > 0 {
			r.sets = append(r.sets, set)
		}
	}
	if len(r.sets) == 0 {
		r.sets = []types.RecordSet{{}}
	}
	return r
}

func (r *rows) current() *types.RecordSet {
	return &r.sets[r.set]
}

func (r *rows) Columns() []string {
	meta := r.current().Meta
	names := make([]string, len(meta))
	for i, m := range meta {
		names[i] = m.Name
	}
	return names
}

func (r *rows) Close() error {
	r.sets = []types.RecordSet{{}}
	r.set, r.row = 0, 0
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	set := r.current()
	if r.row >= len(set.Rows) {
		return io.EOF
	}
	row := set.Rows[r.row]
	if len(row) != len(dest) {
		return fmt.Errorf("odbcbridge: column count mismatch. Expected %d, got %d", len(dest), len(row))
	}
	for i, v := range row {
		dest[i] = driverValue(v)
	}
	r.row++
	return nil
}

// maxExactInteger is the largest magnitude below which every integer is
// exactly representable as a float64.
const maxExactInteger = 1 << 53

// driverValue converts a column value to a driver.Value. Whole numbers are
// reported as int64 so they scan into integer destinations; decimal
// columns still arrive as float64.
func driverValue(v interface{}) driver.Value {
	switch v := v.(type) {
	case types.Date:
		return v.Time()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) <= maxExactInteger {
			return int64(v)
		}
	}
	return v
}

func (r *rows) HasNextResultSet() bool {
	return r.set+1 < len(r.sets)
}

func (r *rows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.row = 0
	return nil
}

// ColumnTypeDatabaseTypeName returns the coarse column category.
func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return strings.ToUpper(r.current().Meta[index].Type)
}

func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	return r.current().Meta[index].Nullable, true
}
