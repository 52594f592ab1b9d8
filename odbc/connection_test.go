package odbc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/odbc/api/sqlhost"
	"github.com/tomyedwab/odbcbridge/types"
)

func newTestEnvironment(t *testing.T, opts sqlhost.Options) *Environment {
	t.Helper()
	env, err := NewEnvironment(sqlhost.New(opts), EnvironmentOptions{})
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	t.Cleanup(env.Close)
	return env
}

// run re-invokes step until it reports done, like the dispatcher's
// callers do.
func run(t *testing.T, step func() (bool, error)) {
	t.Helper()
	for i := 0; i < 100; i++ {
		done, err := step()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if done {
			return
		}
	}
	t.Fatal("step never completed")
}

func openTestConnection(t *testing.T, env *Environment, connectionString string) *Connection {
	t.Helper()
	c := NewConnection(env)
	run(t, func() (bool, error) { return c.TryOpen(connectionString) })
	t.Cleanup(func() {
		run(t, c.TryClose)
		c.Release()
	})
	return c
}

func memoryConnection(t *testing.T) *Connection {
	return openTestConnection(t, newTestEnvironment(t, sqlhost.Options{}), "Driver=SQLite3;Database=:memory:")
}

func execute(t *testing.T, c *Connection, query string) {
	t.Helper()
	run(t, func() (bool, error) { return c.TryExecute(query) })
}

// readValue reads a column to completion, concatenating chunks.
func readValue(t *testing.T, c *Connection, index int) (interface{}, int) {
	t.Helper()
	var text strings.Builder
	var bin bytes.Buffer
	chunks := 0
	for {
		run(t, func() (bool, error) { return c.TryReadColumn(index) })
		chunks++
		value := c.ColumnValue()
		switch v := value.Data.(type) {
		case string:
			text.WriteString(v)
			if !value.More {
				return text.String(), chunks
			}
		case []byte:
			bin.Write(v)
			if !value.More {
				return bin.Bytes(), chunks
			}
		default:
			if value.More {
				t.Fatalf("unexpected more flag on %T", v)
			}
			return v, chunks
		}
	}
}

func TestSelectOneScenario(t *testing.T) {
	c := memoryConnection(t)
	if c.ConnectionState() != Open {
		t.Fatalf("expected open connection, got %s", c.ConnectionState())
	}

	execute(t, c, "SELECT 1 AS x")
	meta := c.Metadata()
	want := []types.ColumnMeta{{Name: "x", Size: 10, Nullable: false, Type: types.TypeNumber}}
	if len(meta) != 1 || meta[0] != want[0] {
		t.Fatalf("expected %+v, got %+v", want, meta)
	}
	if c.ExecutionState() != FetchRow {
		t.Fatalf("expected FetchRow, got %s", c.ExecutionState())
	}

	run(t, c.TryReadRow)
	if c.EndOfRows() {
		t.Fatal("expected a row")
	}
	run(t, func() (bool, error) { return c.TryReadColumn(0) })
	if got := c.ColumnValue(); got.Data != int64(1) || got.More {
		t.Fatalf("expected {1 false}, got %+v", got)
	}

	run(t, c.TryReadRow)
	if !c.EndOfRows() {
		t.Fatal("expected end of rows")
	}
	if c.ExecutionState() != NextResults {
		t.Fatalf("expected NextResults, got %s", c.ExecutionState())
	}
}

func TestInvalidStates(t *testing.T) {
	env := newTestEnvironment(t, sqlhost.Options{})
	c := NewConnection(env)
	defer c.Release()

	if _, err := c.TryExecute("SELECT 1"); !IsInvalidStateError(err) {
		t.Errorf("execute before open: expected invalid state, got %v", err)
	}
	for _, index := range []int{-1, 0, 1, 10} {
		if _, err := c.TryReadColumn(index); !IsInvalidStateError(err) {
			t.Errorf("read column %d before execute: expected invalid state, got %v", index, err)
		}
	}
	if _, err := c.TryReadRow(); !IsInvalidStateError(err) {
		t.Errorf("read row before execute: expected invalid state, got %v", err)
	}
	if _, err := c.TryReadNextResult(); !IsInvalidStateError(err) {
		t.Errorf("next result before execute: expected invalid state, got %v", err)
	}
	if _, err := c.TryBeginTran(); !IsInvalidStateError(err) {
		t.Errorf("begin before open: expected invalid state, got %v", err)
	}

	run(t, func() (bool, error) { return c.TryOpen("Database=:memory:") })
	if _, err := c.TryOpen("Database=:memory:"); !IsInvalidStateError(err) {
		t.Errorf("second open: expected invalid state, got %v", err)
	}

	execute(t, c, "SELECT 1 AS x")
	run(t, c.TryReadRow)
	if _, err := c.TryReadColumn(1); !IsInvalidStateError(err) {
		t.Errorf("out of range column: expected invalid state, got %v", err)
	}
	if _, err := c.TryReadNextResult(); !IsInvalidStateError(err) {
		t.Errorf("next result while rows remain: expected invalid state, got %v", err)
	}
	run(t, c.TryClose)
}

func TestCloseTwice(t *testing.T) {
	env := newTestEnvironment(t, sqlhost.Options{})
	c := NewConnection(env)
	defer c.Release()

	run(t, c.TryClose)
	run(t, func() (bool, error) { return c.TryOpen("Database=:memory:") })
	execute(t, c, "SELECT 1")
	run(t, c.TryClose)
	run(t, c.TryClose)
	if c.ConnectionState() != Closed {
		t.Errorf("expected closed, got %s", c.ConnectionState())
	}
	if c.ExecutionState() != Idle || len(c.Metadata()) != 0 {
		t.Errorf("expected no result after close")
	}
}

func TestOpenFailure(t *testing.T) {
	env := newTestEnvironment(t, sqlhost.Options{})
	c := NewConnection(env)
	defer c.Release()

	_, err := c.TryOpen("Driver=Unknown")
	if !IsNativeError(err) || SQLState(err) != "IM002" {
		t.Fatalf("expected IM002, got %v", err)
	}
	if c.ConnectionState() != Opening {
		t.Errorf("expected Opening after a failed connect, got %s", c.ConnectionState())
	}
	run(t, c.TryClose)
	if c.ConnectionState() != Closed {
		t.Errorf("expected closed, got %s", c.ConnectionState())
	}
}

func TestExecuteFailureResets(t *testing.T) {
	c := memoryConnection(t)

	_, err := c.TryExecute("SELECT * FROM missing")
	if SQLState(err) != "42S02" {
		t.Fatalf("expected 42S02, got %v", err)
	}
	if c.ExecutionState() != Idle {
		t.Errorf("expected Idle after failure, got %s", c.ExecutionState())
	}
	execute(t, c, "SELECT 2 AS y")
	if meta := c.Metadata(); len(meta) != 1 || meta[0].Name != "y" {
		t.Errorf("expected recovery, got %+v", meta)
	}
}

func TestExecuteDiscardsOpenResult(t *testing.T) {
	c := memoryConnection(t)

	execute(t, c, "SELECT 1 AS a UNION ALL SELECT 2")
	run(t, c.TryReadRow)
	execute(t, c, "SELECT 'b' AS b")
	run(t, c.TryReadRow)
	if v, _ := readValue(t, c, 0); v != "b" {
		t.Errorf("expected the new result, got %v", v)
	}
}

func TestReadColumnTypes(t *testing.T) {
	c := memoryConnection(t)
	execute(t, c, `CREATE TABLE typed (
		i INTEGER, r REAL, s VARCHAR(20), b BLOB, f BIT, ts DATETIME, n INTEGER,
		big INT, dto DATETIMEOFFSET, g UNIQUEIDENTIFIER, tm TIME
	)`)
	execute(t, c, `INSERT INTO typed VALUES (42, 2.5, 'héllo', x'00ff', 1, '2024-02-29 12:34:56.789', NULL,
		5000000000, '2024-01-01 10:00:00.1234567-05:30', '6F9619FF-8B86-D011-B42D-00C04FC964FF', '12:34:56')`)
	execute(t, c, "SELECT i, r, s, b, f, ts, n, big, dto, g, tm FROM typed")
	run(t, c.TryReadRow)

	want := []interface{}{
		float64(42), // sqlite INTEGER is reported as BIGINT and read as a number
		2.5,
		"héllo",
		[]byte{0x00, 0xff},
		true,
		types.Date{Millis: 1709210096789},
		nil,
		float64(5000000000),
		types.Date{Millis: 1704123000123, Nanos: 456700}, // 15:30 UTC
		"6F9619FF-8B86-D011-B42D-00C04FC964FF",
		"12:34:56",
	}
	for i, w := range want {
		got, _ := readValue(t, c, i)
		switch w := w.(type) {
		case []byte:
			if b, ok := got.([]byte); !ok || !bytes.Equal(b, w) {
				t.Errorf("column %d: expected %v, got %v", i, w, got)
			}
		default:
			if got != w {
				t.Errorf("column %d: expected %v (%T), got %v (%T)", i, w, w, got, got)
			}
		}
	}
}

func TestNullForEveryType(t *testing.T) {
	c := memoryConnection(t)
	execute(t, c, `CREATE TABLE nulls (i INTEGER, r REAL, s TEXT, b BLOB, f BIT, ts DATETIME, small SMALLINT,
		dto DATETIMEOFFSET, g UNIQUEIDENTIFIER, tm TIME)`)
	execute(t, c, "INSERT INTO nulls VALUES (NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL)")
	execute(t, c, "SELECT * FROM nulls")
	run(t, c.TryReadRow)
	for i := 0; i < c.ColumnCount(); i++ {
		run(t, func() (bool, error) { return c.TryReadColumn(i) })
		if got := c.ColumnValue(); got.Data != nil || got.More {
			t.Errorf("column %d: expected null, got %+v", i, got)
		}
	}
}

func TestChunkedText(t *testing.T) {
	c := memoryConnection(t)
	execute(t, c, "SELECT replace(hex(zeroblob(2500)), '0', 'a') AS long")
	run(t, c.TryReadRow)

	got, chunks := readValue(t, c, 0)
	if got != strings.Repeat("a", 5000) {
		t.Errorf("expected 5000 characters, got %d", len(got.(string)))
	}
	if chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", chunks)
	}
}

func TestChunkedTextKeepsSurrogatePairs(t *testing.T) {
	c := memoryConnection(t)
	// The pair at code units 2046..2047 straddles the first chunk.
	value := strings.Repeat("😀", 2000)
	execute(t, c, "CREATE TABLE emoji (s TEXT)")
	execute(t, c, fmt.Sprintf("INSERT INTO emoji VALUES ('%s')", value))
	execute(t, c, "SELECT s FROM emoji")
	run(t, c.TryReadRow)

	got, _ := readValue(t, c, 0)
	if got != value {
		t.Errorf("expected the value to survive chunking intact")
	}
}

func TestChunkedBinary(t *testing.T) {
	c := memoryConnection(t)
	value := make([]byte, 5000)
	for i := range value {
		value[i] = byte(i % 251)
	}
	execute(t, c, "CREATE TABLE blobs (b BLOB)")
	execute(t, c, fmt.Sprintf("INSERT INTO blobs VALUES (x'%s')", hex.EncodeToString(value)))
	execute(t, c, "SELECT b FROM blobs")
	run(t, c.TryReadRow)

	got, chunks := readValue(t, c, 0)
	if !bytes.Equal(got.([]byte), value) {
		t.Errorf("expected %d bytes back, got %d", len(value), len(got.([]byte)))
	}
	if chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", chunks)
	}
}

func TestMultipleResultSets(t *testing.T) {
	c := memoryConnection(t)
	execute(t, c, "SELECT 1 AS first; SELECT 'two' AS second, 3 AS third")
	if meta := c.Metadata(); len(meta) != 1 || meta[0].Name != "first" {
		t.Fatalf("unexpected first metadata %+v", meta)
	}
	run(t, c.TryReadRow)
	run(t, c.TryReadRow)
	if !c.EndOfRows() {
		t.Fatal("expected end of rows")
	}

	run(t, c.TryReadNextResult)
	if c.EndOfResults() {
		t.Fatal("expected a second result")
	}
	meta := c.Metadata()
	if len(meta) != 2 || meta[0].Name != "second" || meta[0].Type != types.TypeText || meta[1].Name != "third" {
		t.Fatalf("unexpected second metadata %+v", meta)
	}
	run(t, c.TryReadRow)
	if v, _ := readValue(t, c, 0); v != "two" {
		t.Errorf("expected two, got %v", v)
	}
	run(t, c.TryReadRow)

	run(t, c.TryReadNextResult)
	if !c.EndOfResults() {
		t.Fatal("expected end of results")
	}
	if c.ExecutionState() != Idle || len(c.Metadata()) != 0 {
		t.Errorf("expected statement to be released, state %s", c.ExecutionState())
	}
}

func TestRowCountForUpdates(t *testing.T) {
	c := memoryConnection(t)
	execute(t, c, "CREATE TABLE counted (v INTEGER)")
	execute(t, c, "INSERT INTO counted VALUES (1), (2), (3)")
	if c.RowCount() != 3 || c.ColumnCount() != 0 {
		t.Errorf("expected 3 affected rows and no columns, got %d / %d", c.RowCount(), c.ColumnCount())
	}
	if c.ExecutionState() != NextResults {
		t.Errorf("expected NextResults for a statement without columns, got %s", c.ExecutionState())
	}
	run(t, c.TryReadNextResult)
	if !c.EndOfResults() {
		t.Error("expected end of results")
	}
}

func countRows(t *testing.T, c *Connection, table string) int64 {
	t.Helper()
	execute(t, c, "SELECT COUNT(*) AS n FROM "+table)
	run(t, c.TryReadRow)
	v, _ := readValue(t, c, 0)
	n, ok := v.(int64)
	if !ok {
		t.Fatalf("expected integer count, got %T", v)
	}
	return n
}

func TestTransactions(t *testing.T) {
	tests := []struct {
		name       string
		completion int16
		want       int64
	}{
		{"rollback", api.Rollback, 0},
		{"commit", api.Commit, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvironment(t, sqlhost.Options{})
			cs := "Driver=SQLite3;Database=" + filepath.Join(t.TempDir(), "tx.db")
			c := openTestConnection(t, env, cs)
			execute(t, c, "CREATE TABLE items (v INTEGER)")

			run(t, c.TryBeginTran)
			execute(t, c, "INSERT INTO items VALUES (1)")
			run(t, func() (bool, error) { return c.TryEndTran(tt.completion) })

			other := openTestConnection(t, env, cs)
			if got := countRows(t, other, "items"); got != tt.want {
				t.Errorf("expected %d rows, got %d", tt.want, got)
			}
		})
	}
}

func TestResumesAfterStillExecuting(t *testing.T) {
	calls := map[string]int{}
	env := newTestEnvironment(t, sqlhost.Options{StillExecuting: func(call string, _ api.Handle) bool {
		calls[call]++
		// Every call reports pending once before running.
		return calls[call]%2 == 1
	}})
	c := NewConnection(env)
	defer c.Release()

	pending := 0
	step := func(f func() (bool, error)) {
		t.Helper()
		for {
			done, err := f()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if done {
				return
			}
			pending++
		}
	}
	step(func() (bool, error) { return c.TryOpen("Database=:memory:") })
	step(func() (bool, error) { return c.TryExecute("SELECT 1 AS a, 'x' AS b") })
	if meta := c.Metadata(); len(meta) != 2 || meta[1].Name != "b" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	step(c.TryReadRow)
	step(func() (bool, error) { return c.TryReadColumn(1) })
	if got := c.ColumnValue(); got.Data != "x" {
		t.Errorf("expected x, got %+v", got)
	}
	step(c.TryBeginTran)
	step(func() (bool, error) { return c.TryEndTran(api.Commit) })
	step(c.TryClose)

	if calls["SQLExecDirect"] != 2 || calls["SQLDescribeCol"] != 4 {
		t.Errorf("expected each call to run once after pending, got %v", calls)
	}
	if pending == 0 {
		t.Error("expected pending steps")
	}
}

func TestReleaseFreesHandles(t *testing.T) {
	env := newTestEnvironment(t, sqlhost.Options{})
	c := NewConnection(env)
	run(t, func() (bool, error) { return c.TryOpen("Database=:memory:") })
	execute(t, c, "SELECT 1")

	op := c.Retain()
	c.Release()
	if c.ConnectionState() != Open {
		t.Fatal("expected connection to survive while referenced")
	}
	op.Release()
	if c.ConnectionState() != Closed {
		t.Errorf("expected last release to close, got %s", c.ConnectionState())
	}
}
