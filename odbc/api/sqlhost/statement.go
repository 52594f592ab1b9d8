package sqlhost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

type statement struct {
	dbc   api.Handle
	async bool

	batch    []string
	next     int
	executed bool

	rows       *sqlx.Rows
	columns    []api.ColumnDescription
	rowCount   int64
	pending    []any
	hasPending bool
	exhausted  bool

	row   []any
	cells map[uint16]*cell
}

func (s *statement) closeCursor() {
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
	}
	s.columns = nil
	s.pending, s.hasPending = nil, false
	s.row, s.cells = nil, nil
	s.exhausted = false
}

func (h *Host) ExecDirect(stmt api.Handle, text string) api.Return {
	s := h.lookupStmt(stmt)
	if s == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLExecDirect", stmt) {
		return api.StillExecuting
	}
	h.begin(stmt)
	if s.rows != nil {
		return h.fail(stmt, "24000", "Invalid cursor state")
	}
	batch := splitBatch(text)
	if len(batch) == 0 {
		return h.fail(stmt, "42000", "Syntax error or access violation: empty statement")
	}
	c := h.lookupDbc(s.dbc)
	if c == nil || !c.connected() {
		return h.fail(stmt, "08003", "Connection not open")
	}

	s.batch, s.next, s.executed = batch, 0, true
	if err := h.runNext(stmt, s, c); err != nil {
		s.batch = nil
		return h.failErr(stmt, err)
	}
	return api.Success
}

// runNext runs the next statement of the batch and makes its outcome the
// current result.
func (h *Host) runNext(handle api.Handle, s *statement, c *connection) error {
	ctx := context.Background()
	query := s.batch[s.next]
	s.next++
	s.closeCursor()
	s.rowCount = -1

	ex, err := c.executor(ctx)
	if err != nil {
		return err
	}
	h.logger.Debug("Executing statement", "stmt", handle, "sql", query)

	if !returnsRows(query) {
		res, err := ex.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			s.rowCount = n
		}
		return nil
	}

	rows, err := ex.QueryxContext(ctx, query)
	if err != nil {
		return err
	}
	return s.openCursor(c.db.DriverName(), rows)
}

// openCursor describes the current result of rows, prefetching its first
// row so expression columns can be typed.
func (s *statement) openCursor(driverName string, rows *sqlx.Rows) error {
	cts, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return err
	}
	if len(cts) == 0 {
		return rows.Close()
	}
	if rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			_ = rows.Close()
			return err
		}
		s.pending, s.hasPending = values, true
	} else if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}

	s.columns = make([]api.ColumnDescription, len(cts))
	for i, ct := range cts {
		var first any
		if s.hasPending {
			first = s.pending[i]
		}
		s.columns[i] = describeColumn(driverName, ct, first, s.hasPending)
	}
	s.rows = rows
	return nil
}

func (h *Host) NumResultCols(stmt api.Handle) (int16, api.Return) {
	s := h.lookupStmt(stmt)
	if s == nil {
		return 0, api.InvalidHandle
	}
	if h.stillExecuting("SQLNumResultCols", stmt) {
		return 0, api.StillExecuting
	}
	h.begin(stmt)
	if !s.executed {
		return 0, h.fail(stmt, "HY010", "Function sequence error")
	}
	return int16(len(s.columns)), api.Success
}

func (h *Host) DescribeCol(stmt api.Handle, column uint16) (api.ColumnDescription, api.Return) {
	s := h.lookupStmt(stmt)
	if s == nil {
		return api.ColumnDescription{}, api.InvalidHandle
	}
	if h.stillExecuting("SQLDescribeCol", stmt) {
		return api.ColumnDescription{}, api.StillExecuting
	}
	h.begin(stmt)
	if column < 1 || int(column) > len(s.columns) {
		return api.ColumnDescription{}, h.fail(stmt, "07009", "Invalid descriptor index")
	}
	return s.columns[column-1], api.Success
}

func (h *Host) RowCount(stmt api.Handle) (int64, api.Return) {
	s := h.lookupStmt(stmt)
	if s == nil {
		return 0, api.InvalidHandle
	}
	if h.stillExecuting("SQLRowCount", stmt) {
		return 0, api.StillExecuting
	}
	h.begin(stmt)
	if !s.executed {
		return 0, h.fail(stmt, "HY010", "Function sequence error")
	}
	return s.rowCount, api.Success
}

func (h *Host) Fetch(stmt api.Handle) api.Return {
	s := h.lookupStmt(stmt)
	if s == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLFetch", stmt) {
		return api.StillExecuting
	}
	h.begin(stmt)
	if s.rows == nil {
		return h.fail(stmt, "24000", "Invalid cursor state")
	}
	s.row, s.cells = nil, nil
	if s.exhausted {
		return api.NoData
	}
	if s.hasPending {
		s.row = s.pending
		s.pending, s.hasPending = nil, false
		return api.Success
	}
	if !s.rows.Next() {
		s.exhausted = true
		if err := s.rows.Err(); err != nil {
			return h.failErr(stmt, err)
		}
		return api.NoData
	}
	values, err := s.rows.SliceScan()
	if err != nil {
		return h.failErr(stmt, err)
	}
	s.row = values
	return api.Success
}

func (h *Host) MoreResults(stmt api.Handle) api.Return {
	s := h.lookupStmt(stmt)
	if s == nil {
		return api.InvalidHandle
	}
	if h.stillExecuting("SQLMoreResults", stmt) {
		return api.StillExecuting
	}
	h.begin(stmt)
	c := h.lookupDbc(s.dbc)
	if c == nil || !c.connected() {
		return h.fail(stmt, "08003", "Connection not open")
	}

	// A single statement may carry several results (SQL Server batches);
	// after those the next statement of the split batch runs.
	if rows := s.rows; rows != nil {
		s.rows = nil
		if rows.NextResultSet() {
			s.closeCursor()
			s.rowCount = -1
			if err := s.openCursor(c.db.DriverName(), rows); err != nil {
				return h.failErr(stmt, err)
			}
			return api.Success
		}
		if err := rows.Close(); err != nil {
			s.closeCursor()
			return h.failErr(stmt, err)
		}
	}
	s.closeCursor()
	if s.next >= len(s.batch) {
		s.batch, s.next = nil, 0
		s.rowCount = -1
		return api.NoData
	}
	if err := h.runNext(stmt, s, c); err != nil {
		return h.failErr(stmt, err)
	}
	return api.Success
}

// stateFor maps a database error to an SQLSTATE and native error code.
func stateFor(err error) (string, int32) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		native := int32(sqliteErr.ExtendedCode)
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return "23000", native
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return "HYT00", native
		case sqlite3.ErrReadonly, sqlite3.ErrPerm, sqlite3.ErrAuth:
			return "42000", native
		case sqlite3.ErrError:
			msg := sqliteErr.Error()
			switch {
			case strings.Contains(msg, "no such table"):
				return "42S02", native
			case strings.Contains(msg, "no such column"):
				return "42S22", native
			case strings.Contains(msg, "already exists"):
				return "42S01", native
			}
			return "42000", native
		}
		return "HY000", native
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 2627, 2601, 547, 515:
			return "23000", msErr.Number
		case 208:
			return "42S02", msErr.Number
		case 207:
			return "42S22", msErr.Number
		case 2714:
			return "42S01", msErr.Number
		case 1205:
			return "40001", msErr.Number
		case 102, 105, 156, 170:
			return "42000", msErr.Number
		}
		return "HY000", msErr.Number
	}

	var odbcErr interface{ SQLState() string }
	if errors.As(err, &odbcErr) {
		return odbcErr.SQLState(), 0
	}
	return "HY000", 0
}

// stateError is a conversion failure carrying its own SQLSTATE.
type stateError struct {
	state   string
	message string
}

func (e *stateError) Error() string    { return e.message }
func (e *stateError) SQLState() string { return e.state }

func newStateError(state, format string, args ...any) error {
	return &stateError{state: state, message: fmt.Sprintf(format, args...)}
}
