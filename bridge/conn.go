package bridge

import (
	"log/slog"

	"github.com/tomyedwab/odbcbridge/dispatch"
	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/types"
)

// Scheduler accepts operations for background execution.
type Scheduler interface {
	Schedule(op dispatch.Operation) error
}

// Conn exposes each driver verb as one scheduled operation. A verb either
// returns a scheduling error synchronously or resolves its callback
// exactly once on the scheduler's foreground goroutine. Conn does not
// order verbs; callers issue one at a time (see Session).
type Conn struct {
	conn   *odbc.Connection
	queue  Scheduler
	logger *slog.Logger
}

// NewConn creates a closed connection under env.
func NewConn(env *odbc.Environment, queue Scheduler, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		conn:   odbc.NewConnection(env),
		queue:  queue,
		logger: logger.With("component", "Conn"),
	}
}

// Release drops the façade's reference. Handles are freed once every
// operation in flight has completed.
func (c *Conn) Release() {
	c.conn.Release()
}

// RowCount returns the row count of the current result, -1 when unknown.
func (c *Conn) RowCount() int64 {
	return c.conn.RowCount()
}

// schedule submits op, dropping its connection reference when the
// scheduler refuses it.
func schedule[T any](c *Conn, op *Operation[T]) error {
	c.logger.Debug("Scheduling operation", "op", op.Kind, "id", op.ID)
	if err := c.queue.Schedule(op); err != nil {
		op.abandon()
		c.logger.Warn("Failed to schedule operation", "op", op.Kind, "id", op.ID, "error", err)
		return err
	}
	return nil
}

// Open connects; the payload is c itself.
func (c *Conn) Open(connectionString string, callback Callback[*Conn]) error {
	return schedule(c, NewOpenOperation(c.conn, connectionString,
		func(*odbc.Connection) *Conn { return c }, callback))
}

// Query executes query; the payload is the metadata of the first result.
func (c *Conn) Query(query string, callback Callback[[]types.ColumnMeta]) error {
	return schedule(c, NewQueryOperation(c.conn, query, callback))
}

// ReadRow fetches the next row; the payload is true at the end of rows.
func (c *Conn) ReadRow(callback Callback[bool]) error {
	return schedule(c, NewReadRowOperation(c.conn, callback))
}

// ReadColumn reads column (zero-based) of the current row, one chunk at
// a time.
func (c *Conn) ReadColumn(column int, callback Callback[types.ColumnData]) error {
	return schedule(c, NewReadColumnOperation(c.conn, column, callback))
}

// ReadNextResult advances to the next result of the query.
func (c *Conn) ReadNextResult(callback Callback[types.NextResult]) error {
	return schedule(c, NewReadNextResultOperation(c.conn, callback))
}

// Close disconnects and frees the connection handle.
func (c *Conn) Close(callback Callback[struct{}]) error {
	return schedule(c, NewCloseOperation(c.conn, callback))
}

// BeginTransaction turns auto-commit off.
func (c *Conn) BeginTransaction(callback Callback[struct{}]) error {
	return schedule(c, NewBeginTransactionOperation(c.conn, callback))
}

// Commit commits the transaction and turns auto-commit back on.
func (c *Conn) Commit(callback Callback[struct{}]) error {
	return schedule(c, NewCommitOperation(c.conn, callback))
}

// Rollback rolls the transaction back and turns auto-commit back on.
func (c *Conn) Rollback(callback Callback[struct{}]) error {
	return schedule(c, NewRollbackOperation(c.conn, callback))
}
