package bridge

import (
	"github.com/google/uuid"

	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/types"
)

// Callback receives the outcome of one operation. completed=false with a
// nil error means the driver is still working and the verb must be issued
// again.
type Callback[T any] func(completed bool, err error, payload T)

// Operation binds one state machine verb to the shape of its completion
// payload. It holds a reference to the connection until it completes.
type Operation[T any] struct {
	ID   string
	Kind string

	conn     *odbc.Connection
	invoke   func(*odbc.Connection) (bool, error)
	payload  func(*odbc.Connection) T
	callback Callback[T]

	result T
}

func newOperation[T any](kind string, conn *odbc.Connection, invoke func(*odbc.Connection) (bool, error), payload func(*odbc.Connection) T, callback Callback[T]) *Operation[T] {
	return &Operation[T]{
		ID:       uuid.NewString(),
		Kind:     kind,
		conn:     conn.Retain(),
		invoke:   invoke,
		payload:  payload,
		callback: callback,
	}
}

// InvokeBackground runs the verb. The payload is captured on the worker so
// the completion sees the state the verb left behind.
func (o *Operation[T]) InvokeBackground() (bool, error) {
	done, err := o.invoke(o.conn)
	if done && err == nil && o.payload != nil {
		o.result = o.payload(o.conn)
	}
	return done, err
}

// CompleteForeground delivers the outcome and drops the connection
// reference.
func (o *Operation[T]) CompleteForeground(done bool, err error) {
	defer o.conn.Release()
	if o.callback != nil {
		o.callback(done, err, o.result)
	}
}

// abandon drops the reference of an operation that was never scheduled.
func (o *Operation[T]) abandon() {
	o.conn.Release()
}

func NewOpenOperation(conn *odbc.Connection, connectionString string, payload func(*odbc.Connection) *Conn, callback Callback[*Conn]) *Operation[*Conn] {
	return newOperation("open", conn, func(c *odbc.Connection) (bool, error) {
		return c.TryOpen(connectionString)
	}, payload, callback)
}

func NewQueryOperation(conn *odbc.Connection, query string, callback Callback[[]types.ColumnMeta]) *Operation[[]types.ColumnMeta] {
	return newOperation("query", conn, func(c *odbc.Connection) (bool, error) {
		return c.TryExecute(query)
	}, (*odbc.Connection).Metadata, callback)
}

// NewReadRowOperation fetches the next row. The payload is the end of
// rows flag.
func NewReadRowOperation(conn *odbc.Connection, callback Callback[bool]) *Operation[bool] {
	return newOperation("readRow", conn, (*odbc.Connection).TryReadRow,
		(*odbc.Connection).EndOfRows, callback)
}

func NewReadColumnOperation(conn *odbc.Connection, column int, callback Callback[types.ColumnData]) *Operation[types.ColumnData] {
	return newOperation("readColumn", conn, func(c *odbc.Connection) (bool, error) {
		return c.TryReadColumn(column)
	}, (*odbc.Connection).ColumnValue, callback)
}

func NewReadNextResultOperation(conn *odbc.Connection, callback Callback[types.NextResult]) *Operation[types.NextResult] {
	return newOperation("readNextResult", conn, (*odbc.Connection).TryReadNextResult,
		func(c *odbc.Connection) types.NextResult {
			return types.NextResult{EndOfResults: c.EndOfResults(), Meta: c.Metadata()}
		}, callback)
}

func NewCloseOperation(conn *odbc.Connection, callback Callback[struct{}]) *Operation[struct{}] {
	return newOperation[struct{}]("close", conn, (*odbc.Connection).TryClose, nil, callback)
}

func NewBeginTransactionOperation(conn *odbc.Connection, callback Callback[struct{}]) *Operation[struct{}] {
	return newOperation[struct{}]("beginTransaction", conn, (*odbc.Connection).TryBeginTran, nil, callback)
}

func NewCommitOperation(conn *odbc.Connection, callback Callback[struct{}]) *Operation[struct{}] {
	return newOperation[struct{}]("commit", conn, func(c *odbc.Connection) (bool, error) {
		return c.TryEndTran(api.Commit)
	}, nil, callback)
}

func NewRollbackOperation(conn *odbc.Connection, callback Callback[struct{}]) *Operation[struct{}] {
	return newOperation[struct{}]("rollback", conn, func(c *odbc.Connection) (bool, error) {
		return c.TryEndTran(api.Rollback)
	}, nil, callback)
}
