package odbc

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unicode/utf16"

	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/types"
)

const (
	// Character reads return at most 2047 code units plus a terminator.
	textBufferSize = 2048 * 2
	// Binary reads return at most this many bytes.
	binaryBufferSize = 2048
	// Types without a dedicated decoder are read as text of this capacity.
	fallbackBufferSize = 8192 * 2
)

// ConnectionState is the lifecycle of the connection handle.
type ConnectionState int

const (
	Closed ConnectionState = iota
	Opening
	Open
)

func (s ConnectionState) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	default:
		return "Unknown"
	}
}

// ExecutionState is the phase of the current statement.
type ExecutionState int

const (
	Idle ExecutionState = iota
	Executing
	CountingColumns
	Metadata
	CountRows
	FetchRow
	NextResults
)

func (s ExecutionState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Executing:
		return "Executing"
	case CountingColumns:
		return "CountingColumns"
	case Metadata:
		return "Metadata"
	case CountRows:
		return "CountRows"
	case FetchRow:
		return "FetchRow"
	case NextResults:
		return "NextResults"
	default:
		return "Unknown"
	}
}

type endTranPhase int

const (
	endTranIdle endTranPhase = iota
	endTranRestoring
)

// Connection drives one ODBC connection and its statement through
// resumable steps. Every Try method returns done=false when the driver
// reported the call is still executing; the same method must then be
// invoked again and resumes where it stopped. A non-nil error finishes
// the call.
//
// A Connection is shared by reference count between its owner and the
// operations in flight against it; the handles are freed when the last
// reference is released.
type Connection struct {
	env  *Environment
	cli  api.API
	refs atomic.Int32

	mu              sync.Mutex
	connection      Handle
	statement       Handle
	connectionState ConnectionState
	executionState  ExecutionState
	resultset       *ResultSet
	endOfResults    bool

	// column is the next column to describe in the Metadata phase.
	column int
	// advancing is set while a next result is being described.
	advancing    bool
	endTranPhase endTranPhase

	// A high surrogate that ended the previous text chunk of carryColumn.
	carry       uint16
	carryColumn int
}

// NewConnection creates a closed connection holding one reference.
func NewConnection(env *Environment) *Connection {
	c := &Connection{
		env:        env,
		cli:        env.API(),
		connection: newHandle(api.HandleDbc),
		statement:  newHandle(api.HandleStmt),
	}
	c.refs.Store(1)
	return c
}

// Retain adds a reference.
func (c *Connection) Retain() *Connection {
	c.refs.Add(1)
	return c
}

// Release drops a reference. The last release frees the handles.
func (c *Connection) Release() {
	if c.refs.Add(-1) != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statement.Free()
	if c.connectionState == Open {
		c.cli.Disconnect(c.connection.Native())
	}
	c.connection.Free()
	c.connectionState = Closed
	c.resetExecution()
}

func (c *Connection) resetExecution() {
	c.executionState = Idle
	c.resultset = nil
	c.advancing = false
	c.carry = 0
}

// discardStatement frees the statement and forgets its result.
func (c *Connection) discardStatement() {
	c.statement.Free()
	c.resetExecution()
}

// TryOpen allocates the connection handle and connects with
// connectionString. It is only valid on a closed connection; a failed
// connect leaves the connection Opening until TryClose.
func (c *Connection) TryOpen(connectionString string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectionState == Closed {
		local := newHandle(api.HandleDbc)
		if err := local.Alloc(c.cli, &c.env.handle); err != nil {
			return false, err
		}
		c.connection = local.Take()
		c.connectionState = Opening
	}

	if c.connectionState != Opening {
		return false, NewInvalidStateError("attempt to open a connection that is not closed")
	}

	ret := c.cli.DriverConnect(c.connection.Native(), connectionString)
	if ret == api.StillExecuting {
		return false, nil
	}
	if !ret.Succeeded() {
		return false, c.connection.Diagnose()
	}
	c.connectionState = Open
	return true, nil
}

// TryClose frees the statement, disconnects and frees the connection
// handle. Closing a closed connection succeeds.
func (c *Connection) TryClose() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.connectionState {
	case Closed:
		return true, nil
	case Opening:
		// The connect never succeeded, so there is nothing to disconnect.
		c.discardStatement()
		c.connection.Free()
		c.connectionState = Closed
		return true, nil
	}

	c.statement.Free()
	ret := c.cli.Disconnect(c.connection.Native())
	if ret == api.StillExecuting {
		return false, nil
	}
	if !ret.Succeeded() {
		return false, c.connection.Diagnose()
	}
	c.connection.Free()
	c.connectionState = Closed
	c.resetExecution()
	c.endTranPhase = endTranIdle
	return true, nil
}

// TryExecute runs query on a new statement and describes the first
// result. A result still being read is discarded first.
func (c *Connection) TryExecute(query string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectionState != Open {
		return false, NewInvalidStateError("unable to execute a query on a connection that is not open")
	}
	// A result left open by a previous query is abandoned.
	if c.executionState == FetchRow || c.executionState == NextResults {
		c.discardStatement()
	}
	c.advancing = false

	if c.executionState == Idle {
		if err := c.statement.Alloc(c.cli, &c.connection); err != nil {
			return false, err
		}
		// Optional; drivers without async support simply run synchronously.
		c.cli.SetStmtAttr(c.statement.Native(), api.AttrAsyncEnable, api.AsyncEnableOn)
		c.executionState = Executing
	}

	if c.executionState == Executing {
		c.endOfResults = false
		ret := c.cli.ExecDirect(c.statement.Native(), query)
		if ret == api.StillExecuting {
			return false, nil
		}
		if ret != api.NoData && !ret.Succeeded() {
			err := c.statement.Diagnose()
			c.discardStatement()
			return false, err
		}
		c.executionState = CountingColumns
	}

	done, err := c.describeResult()
	if err != nil {
		c.discardStatement()
	}
	return done, err
}

// describeResult runs the phases after execution: counting and describing
// the columns and reading the row count.
func (c *Connection) describeResult() (bool, error) {
	if c.executionState == CountingColumns {
		columns, ret := c.cli.NumResultCols(c.statement.Native())
		if ret == api.StillExecuting {
			return false, nil
		}
		if !ret.Succeeded() {
			return false, c.statement.Diagnose()
		}
		c.resultset = newResultSet(int(columns))
		c.column = 0
		c.executionState = Metadata
	}

	if c.executionState == Metadata {
		for c.column < c.resultset.ColumnCount() {
			desc, ret := c.cli.DescribeCol(c.statement.Native(), uint16(c.column+1))
			if ret == api.StillExecuting {
				return false, nil
			}
			if !ret.Succeeded() {
				return false, c.statement.Diagnose()
			}
			*c.resultset.Metadata(c.column) = ColumnDefinition{
				Name:          desc.Name,
				Size:          desc.ColumnSize,
				DataType:      desc.DataType,
				DecimalDigits: desc.DecimalDigits,
				Nullable:      desc.Nullable,
			}
			c.column++
		}
		c.executionState = CountRows
	}

	if c.executionState == CountRows {
		rowCount, ret := c.cli.RowCount(c.statement.Native())
		if ret == api.StillExecuting {
			return false, nil
		}
		if !ret.Succeeded() {
			return false, c.statement.Diagnose()
		}
		c.resultset.rowCount = rowCount
		if c.resultset.ColumnCount() > 0 {
			c.executionState = FetchRow
		} else {
			c.executionState = NextResults
		}
		return true, nil
	}

	return false, NewInvalidStateError("the connection is in an invalid state")
}

// TryReadRow fetches the next row of the current result. At the end of
// the rows EndOfRows reports true and the connection waits for
// TryReadNextResult.
func (c *Connection) TryReadRow() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.executionState != FetchRow {
		return false, NewInvalidStateError("the connection is in an invalid state")
	}

	ret := c.cli.Fetch(c.statement.Native())
	if ret == api.StillExecuting {
		return false, nil
	}
	c.carry = 0
	if ret == api.NoData {
		c.resultset.endOfRows = true
		c.executionState = NextResults
		return true, nil
	}
	c.resultset.endOfRows = false
	if !ret.Succeeded() {
		return false, c.statement.Diagnose()
	}
	return true, nil
}

// TryReadColumn decodes the column at index (0-based) of the current row
// into the result set. Text and binary values larger than one read are
// returned in chunks; read the same index again while the value reports
// More.
func (c *Connection) TryReadColumn(index int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.executionState != FetchRow {
		return false, NewInvalidStateError("the connection is in an invalid state")
	}
	if index < 0 || index >= c.resultset.ColumnCount() {
		return false, NewInvalidStateError(fmt.Sprintf("column index %d is out of range for %d columns", index, c.resultset.ColumnCount()))
	}

	column := uint16(index + 1)
	switch c.resultset.Metadata(index).DataType {
	case api.SQL_CHAR, api.SQL_VARCHAR, api.SQL_LONGVARCHAR,
		api.SQL_WCHAR, api.SQL_WVARCHAR, api.SQL_WLONGVARCHAR:
		return c.readText(index, column, textBufferSize)

	case api.SQL_BIT:
		return c.readInteger(column, func(v int32) Column { return BooleanColumn(v != 0) })

	case api.SQL_SMALLINT, api.SQL_TINYINT, api.SQL_INTEGER:
		return c.readInteger(column, func(v int32) Column { return IntegerColumn(int64(v)) })

	case api.SQL_DECIMAL, api.SQL_NUMERIC, api.SQL_REAL, api.SQL_FLOAT,
		api.SQL_DOUBLE, api.SQL_BIGINT:
		return c.readNumber(column)

	case api.SQL_BINARY, api.SQL_VARBINARY, api.SQL_LONGVARBINARY:
		return c.readBinary(column)

	case api.SQL_TYPE_TIMESTAMP, api.SQL_TYPE_DATE, api.SQL_DATETIME, api.SQL_TIMESTAMP:
		return c.readTimestamp(column, false)

	case api.SQL_SS_TIMESTAMPOFFSET:
		return c.readTimestamp(column, true)
	}
	return c.readText(index, column, fallbackBufferSize)
}

// getData reads into buf and reports whether the result was null and
// whether the driver truncated it.
func (c *Connection) getData(column uint16, ctype api.CType, buf []byte) (done bool, indicator int64, truncated bool, err error) {
	indicator, ret := c.cli.GetData(c.statement.Native(), column, ctype, buf)
	if ret == api.StillExecuting {
		return false, 0, false, nil
	}
	if !ret.Succeeded() {
		return false, 0, false, c.statement.Diagnose()
	}
	if ret == api.SuccessWithInfo && indicator != api.NullData {
		state, err := c.statement.diagState()
		if err != nil {
			return false, 0, false, err
		}
		truncated = state == api.StateTruncated
	}
	return true, indicator, truncated, nil
}

func (c *Connection) readText(index int, column uint16, size int) (bool, error) {
	buf := make([]byte, size)
	done, indicator, more, err := c.getData(column, api.CWChar, buf)
	if !done || err != nil {
		return done, err
	}
	if indicator == api.NullData {
		c.carry = 0
		c.resultset.SetColumn(NullColumn())
		return true, nil
	}

	n := (len(buf) - 2) / 2
	if !more && indicator >= 0 && int(indicator/2) < n {
		n = int(indicator / 2)
	}
	units := make([]uint16, 0, n+1)
	if c.carry != 0 && c.carryColumn == index {
		units = append(units, c.carry)
	}
	c.carry = 0
	for i := 0; i < n; i++ {
		u := binary.NativeEndian.Uint16(buf[2*i:])
		if u == 0 && indicator == api.NoTotal {
			break
		}
		units = append(units, u)
	}
	// A pair split across chunks is completed by the next read.
	if more && len(units) > 0 && utf16.IsSurrogate(rune(units[len(units)-1])) && units[len(units)-1] < 0xDC00 {
		c.carry = units[len(units)-1]
		c.carryColumn = index
		units = units[:len(units)-1]
	}
	c.resultset.SetColumn(TextColumn(string(utf16.Decode(units)), more))
	return true, nil
}

func (c *Connection) readInteger(column uint16, wrap func(int32) Column) (bool, error) {
	buf := make([]byte, 4)
	done, indicator, _, err := c.getData(column, api.CSLong, buf)
	if !done || err != nil {
		return done, err
	}
	if indicator == api.NullData {
		c.resultset.SetColumn(NullColumn())
		return true, nil
	}
	c.resultset.SetColumn(wrap(int32(binary.NativeEndian.Uint32(buf))))
	return true, nil
}

func (c *Connection) readNumber(column uint16) (bool, error) {
	buf := make([]byte, 8)
	done, indicator, _, err := c.getData(column, api.CDouble, buf)
	if !done || err != nil {
		return done, err
	}
	if indicator == api.NullData {
		c.resultset.SetColumn(NullColumn())
		return true, nil
	}
	c.resultset.SetColumn(NumberColumn(math.Float64frombits(binary.NativeEndian.Uint64(buf))))
	return true, nil
}

func (c *Connection) readBinary(column uint16) (bool, error) {
	buf := make([]byte, binaryBufferSize)
	done, indicator, more, err := c.getData(column, api.CBinary, buf)
	if !done || err != nil {
		return done, err
	}
	if indicator == api.NullData {
		c.resultset.SetColumn(NullColumn())
		return true, nil
	}
	amount := len(buf)
	if !more && indicator >= 0 && int(indicator) < amount {
		amount = int(indicator)
	}
	c.resultset.SetColumn(BinaryColumn(buf[:amount:amount], more))
	return true, nil
}

func (c *Connection) readTimestamp(column uint16, withOffset bool) (bool, error) {
	ctype, size := api.CTypeTimestamp, api.TimestampStructSize
	if withOffset {
		ctype, size = api.CSSTimestampOffset, api.TimestampOffsetStructSize
	}
	buf := make([]byte, size)
	done, indicator, _, err := c.getData(column, ctype, buf)
	if !done || err != nil {
		return done, err
	}
	if indicator == api.NullData {
		c.resultset.SetColumn(NullColumn())
		return true, nil
	}

	var ts api.TimestampOffsetStruct
	if withOffset {
		ts, err = api.DecodeTimestampOffset(buf)
	} else {
		ts.TimestampStruct, err = api.DecodeTimestamp(buf)
	}
	if err != nil {
		return false, err
	}
	date, err := timestampToDate(ts.TimestampStruct, ts.TimezoneHour, ts.TimezoneMinute)
	if err != nil {
		return false, err
	}
	c.resultset.SetColumn(TimestampColumn(date))
	return true, nil
}

// TryReadNextResult advances to the next result of the statement and
// describes it. When there is none the statement is freed and
// EndOfResults reports true.
func (c *Connection) TryReadNextResult() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.advancing {
		return c.finishAdvance()
	}
	if c.executionState != NextResults {
		return false, NewInvalidStateError("the connection is in an invalid state")
	}

	ret := c.cli.MoreResults(c.statement.Native())
	if ret == api.StillExecuting {
		return false, nil
	}
	if ret == api.NoData {
		c.endOfResults = true
		c.discardStatement()
		return true, nil
	}
	if !ret.Succeeded() {
		return false, c.statement.Diagnose()
	}

	c.endOfResults = false
	c.executionState = CountingColumns
	c.advancing = true
	return c.finishAdvance()
}

func (c *Connection) finishAdvance() (bool, error) {
	done, err := c.describeResult()
	if err != nil {
		c.discardStatement()
		return false, err
	}
	if done {
		c.advancing = false
	}
	return done, nil
}

// TryBeginTran turns auto-commit off.
func (c *Connection) TryBeginTran() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectionState != Open {
		return false, NewInvalidStateError("unable to begin a transaction on a connection that is not open")
	}
	ret := c.cli.SetConnectAttr(c.connection.Native(), api.AttrAutocommit, api.AutocommitOff)
	if ret == api.StillExecuting {
		return false, nil
	}
	if !ret.Succeeded() {
		return false, c.connection.Diagnose()
	}
	return true, nil
}

// TryEndTran commits or rolls back (api.Commit or api.Rollback) and puts
// the connection back in auto-commit mode. A call resumed after the
// transaction ended only restores auto-commit.
func (c *Connection) TryEndTran(completion int16) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectionState != Open {
		return false, NewInvalidStateError("unable to end a transaction on a connection that is not open")
	}

	if c.endTranPhase == endTranIdle {
		ret := c.cli.EndTran(api.HandleDbc, c.connection.Native(), completion)
		if ret == api.StillExecuting {
			return false, nil
		}
		if !ret.Succeeded() {
			return false, c.connection.Diagnose()
		}
		c.endTranPhase = endTranRestoring
	}

	ret := c.cli.SetConnectAttr(c.connection.Native(), api.AttrAutocommit, api.AutocommitOn)
	if ret == api.StillExecuting {
		return false, nil
	}
	c.endTranPhase = endTranIdle
	if !ret.Succeeded() {
		return false, c.connection.Diagnose()
	}
	return true, nil
}

// --- Completion payload accessors ---

func (c *Connection) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionState
}

func (c *Connection) ExecutionState() ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executionState
}

// Metadata returns the description of the current result, empty when
// there is none.
func (c *Connection) Metadata() []types.ColumnMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resultset == nil {
		return []types.ColumnMeta{}
	}
	return c.resultset.Meta()
}

func (c *Connection) EndOfRows() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultset == nil || c.resultset.EndOfRows()
}

func (c *Connection) EndOfResults() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endOfResults
}

// ColumnValue returns the most recently read column.
func (c *Connection) ColumnValue() types.ColumnData {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resultset == nil {
		return types.ColumnData{}
	}
	col := c.resultset.Column()
	return types.ColumnData{Data: col.ToValue(), More: col.More()}
}

// RowCount returns the affected or row count of the current result, -1
// when unknown.
func (c *Connection) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resultset == nil {
		return -1
	}
	return c.resultset.RowCount()
}

func (c *Connection) ColumnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resultset == nil {
		return 0
	}
	return c.resultset.ColumnCount()
}
