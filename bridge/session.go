package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/types"
)

var ErrSessionClosed = errors.New("bridge: session is closed")

// Events streams the progress of a query. Every field is optional.
type Events struct {
	OnMeta   func(meta []types.ColumnMeta)
	OnRow    func(index int)
	OnColumn func(column int, data interface{}, more bool)
	OnDone   func()
	OnError  func(err error)
}

// Session runs the verbs of one connection strictly one after another and
// re-issues any verb the driver reports as still executing. Callbacks run
// on the scheduler's foreground goroutine, except for a failure to
// schedule the first step of a verb, which is reported on the calling
// goroutine.
type Session struct {
	conn   *Conn
	logger *slog.Logger

	mu      sync.Mutex
	pending []func(finish func())
	running bool
	closed  bool
}

// NewSession creates a session over a new, closed connection.
func NewSession(env *odbc.Environment, queue Scheduler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:   NewConn(env, queue, logger),
		logger: logger.With("component", "Session"),
	}
}

// enqueue appends a task to the FIFO and starts it if nothing is running.
// A task calls finish exactly once when its last callback has run.
func (s *Session) enqueue(task func(finish func())) error {
	return s.enqueueTask(task, false)
}

// enqueueTask appends a task; closing rejects every later task until the
// close fails.
func (s *Session) enqueueTask(task func(finish func()), closing bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = closing
	s.pending = append(s.pending, task)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.runNext()
	return nil
}

func (s *Session) runNext() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.running = false
		s.mu.Unlock()
		return
	}
	task := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	var once sync.Once
	task(func() { once.Do(s.runNext) })
}

// call issues verb until it completes, then passes the outcome to done.
func call[T any](verb func(Callback[T]) error, done func(T, error)) {
	var attempt Callback[T]
	attempt = func(completed bool, err error, payload T) {
		if err == nil && !completed {
			if err := verb(attempt); err != nil {
				var zero T
				done(zero, err)
			}
			return
		}
		done(payload, err)
	}
	if err := verb(attempt); err != nil {
		var zero T
		done(zero, err)
	}
}

// simple queues a verb without payload.
func (s *Session) simple(verb func(Callback[struct{}]) error, callback func(error)) {
	err := s.enqueue(func(finish func()) {
		call(verb, func(_ struct{}, err error) {
			if callback != nil {
				callback(err)
			}
			finish()
		})
	})
	if err != nil && callback != nil {
		callback(err)
	}
}

// Open connects the session.
func (s *Session) Open(connectionString string, callback func(error)) {
	s.simple(func(cb Callback[struct{}]) error {
		return s.conn.Open(connectionString, func(completed bool, err error, _ *Conn) {
			cb(completed, err, struct{}{})
		})
	}, callback)
}

// Close disconnects and releases the session. Verbs issued afterwards
// fail with ErrSessionClosed.
func (s *Session) Close(callback func(error)) {
	err := s.enqueueTask(func(finish func()) {
		call(s.conn.Close, func(_ struct{}, err error) {
			if err != nil {
				s.mu.Lock()
				s.closed = false
				s.mu.Unlock()
			} else {
				s.conn.Release()
			}
			if callback != nil {
				callback(err)
			}
			finish()
		})
	}, true)
	if err != nil && callback != nil {
		callback(err)
	}
}

func (s *Session) BeginTransaction(callback func(error)) {
	s.simple(s.conn.BeginTransaction, callback)
}

func (s *Session) Commit(callback func(error)) {
	s.simple(s.conn.Commit, callback)
}

func (s *Session) Rollback(callback func(error)) {
	s.simple(s.conn.Rollback, callback)
}

// QueryRaw executes query with params interpolated and reads every result
// set. Chunked values are concatenated. events may be nil.
func (s *Session) QueryRaw(query string, params []any, events *Events, callback func(types.Results, error)) {
	if events == nil {
		events = &Events{}
	}
	r := &reader{conn: s.conn, events: events, callback: callback}
	err := s.enqueue(func(finish func()) {
		r.finish = finish
		r.start(query, params)
	})
	if err != nil {
		r.fail(err)
	}
}

// Query runs QueryRaw and returns the rows of the first result set keyed
// by column name.
func (s *Session) Query(query string, params []any, callback func([]map[string]interface{}, error)) {
	s.QueryRaw(query, params, nil, func(results types.Results, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(nil, err)
			return
		}
		callback(Objectify(results.First()), nil)
	})
}

// Objectify turns rows into maps keyed by column name. Blank and repeated
// names become ColumnN (or ColumnN_k when that is taken too), N being the
// column index.
func Objectify(set types.RecordSet) []map[string]interface{} {
	names := make([]string, len(set.Meta))
	taken := make(map[string]bool, len(set.Meta))
	for i, meta := range set.Meta {
		name := meta.Name
		if name == "" || taken[name] {
			name = fmt.Sprintf("Column%d", i)
			for extra := 0; taken[name]; extra++ {
				name = fmt.Sprintf("Column%d_%d", i, extra)
			}
		}
		taken[name] = true
		names[i] = name
	}

	rows := make([]map[string]interface{}, 0, len(set.Rows))
	for _, row := range set.Rows {
		value := make(map[string]interface{}, len(names))
		for i, name := range names {
			value[name] = row[i]
		}
		rows = append(rows, value)
	}
	return rows
}

// reader drives one QueryRaw through execute, rows, columns and further
// result sets.
type reader struct {
	conn     *Conn
	events   *Events
	callback func(types.Results, error)
	finish   func()

	results types.Results
	meta    []types.ColumnMeta
	row     []interface{}
	rowIdx  int
	column  int
	partial bool
}

func (r *reader) start(query string, params []any) {
	query, err := Interpolate(query, params)
	if err != nil {
		r.fail(err)
		return
	}
	call(func(cb Callback[[]types.ColumnMeta]) error { return r.conn.Query(query, cb) },
		func(meta []types.ColumnMeta, err error) {
			if err != nil {
				r.fail(err)
				return
			}
			r.beginSet(meta)
		})
}

func (r *reader) beginSet(meta []types.ColumnMeta) {
	r.meta = meta
	r.results.Sets = append(r.results.Sets, types.RecordSet{
		Meta:     meta,
		Rows:     [][]interface{}{},
		RowCount: r.conn.RowCount(),
	})
	if r.events.OnMeta != nil {
		r.events.OnMeta(meta)
	}
	if len(meta) > 0 {
		r.readRow()
		return
	}
	r.nextResult()
}

func (r *reader) readRow() {
	call(r.conn.ReadRow, func(endOfRows bool, err error) {
		if err != nil {
			r.fail(err)
			return
		}
		if endOfRows {
			r.nextResult()
			return
		}
		if r.events.OnRow != nil {
			r.events.OnRow(r.rowIdx)
		}
		r.rowIdx++
		r.row = make([]interface{}, len(r.meta))
		set := &r.results.Sets[len(r.results.Sets)-1]
		set.Rows = append(set.Rows, r.row)
		r.column = 0
		r.partial = false
		r.readColumn()
	})
}

func (r *reader) readColumn() {
	call(func(cb Callback[types.ColumnData]) error { return r.conn.ReadColumn(r.column, cb) },
		func(data types.ColumnData, err error) {
			if err != nil {
				r.fail(err)
				return
			}
			if r.events.OnColumn != nil {
				r.events.OnColumn(r.column, data.Data, data.More)
			}
			r.row[r.column] = appendChunk(r.row[r.column], data.Data, r.partial)

			if data.More {
				r.partial = true
				r.readColumn()
				return
			}
			r.partial = false
			r.column++
			if r.column >= len(r.meta) {
				r.readRow()
				return
			}
			r.readColumn()
		})
}

func appendChunk(existing, chunk interface{}, partial bool) interface{} {
	if !partial {
		return chunk
	}
	switch prev := existing.(type) {
	case string:
		if s, ok := chunk.(string); ok {
			return prev + s
		}
	case []byte:
		if b, ok := chunk.([]byte); ok {
			return append(prev, b...)
		}
	}
	return chunk
}

func (r *reader) nextResult() {
	call(r.conn.ReadNextResult, func(next types.NextResult, err error) {
		if err != nil {
			r.fail(err)
			return
		}
		if next.EndOfResults {
			r.done()
			return
		}
		r.beginSet(next.Meta)
	})
}

func (r *reader) done() {
	if r.events.OnDone != nil {
		r.events.OnDone()
	}
	if r.callback != nil {
		r.callback(r.results, nil)
	}
	r.finish()
}

func (r *reader) fail(err error) {
	if r.events.OnError != nil {
		r.events.OnError(err)
	}
	if r.callback != nil {
		r.callback(r.results, err)
	}
	if r.finish != nil {
		r.finish()
	}
}

// QueryRaw opens a connection, reads every result set of query and closes
// the connection again.
func QueryRaw(env *odbc.Environment, queue Scheduler, connectionString, query string, params []any, callback func(types.Results, error)) {
	s := NewSession(env, queue, nil)
	var openErr error
	s.Open(connectionString, func(err error) { openErr = err })
	s.QueryRaw(query, params, nil, func(results types.Results, err error) {
		if openErr != nil {
			err = openErr
		}
		s.Close(func(closeErr error) {
			if err == nil {
				err = closeErr
			}
			if callback != nil {
				callback(results, err)
			}
		})
	})
}

// Query is QueryRaw with the first result set objectified.
func Query(env *odbc.Environment, queue Scheduler, connectionString, query string, params []any, callback func([]map[string]interface{}, error)) {
	QueryRaw(env, queue, connectionString, query, params, func(results types.Results, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(nil, err)
			return
		}
		callback(Objectify(results.First()), nil)
	})
}
