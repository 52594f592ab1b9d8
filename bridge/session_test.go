package bridge

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomyedwab/odbcbridge/dispatch"
	"github.com/tomyedwab/odbcbridge/odbc"
	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/odbc/api/sqlhost"
	"github.com/tomyedwab/odbcbridge/types"
)

func newTestStack(t *testing.T, opts sqlhost.Options) (*odbc.Environment, *dispatch.Queue) {
	t.Helper()
	env, err := odbc.NewEnvironment(sqlhost.New(opts), odbc.EnvironmentOptions{})
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	q := dispatch.New(dispatch.Config{Workers: 2})
	t.Cleanup(func() {
		q.Close()
		env.Close()
	})
	return env, q
}

func await[T any](t *testing.T, start func(func(T, error))) (T, error) {
	t.Helper()
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) { ch <- result{v, err} })
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero, nil
	}
}

func awaitErr(t *testing.T, start func(func(error))) error {
	t.Helper()
	_, err := await(t, func(done func(struct{}, error)) {
		start(func(err error) { done(struct{}{}, err) })
	})
	return err
}

func openSession(t *testing.T, env *odbc.Environment, q *dispatch.Queue, connectionString string) *Session {
	t.Helper()
	s := NewSession(env, q, nil)
	if err := awaitErr(t, func(done func(error)) { s.Open(connectionString, done) }); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		awaitErr(t, func(done func(error)) { s.Close(done) })
	})
	return s
}

func queryRaw(t *testing.T, s *Session, query string, params ...any) (types.Results, error) {
	t.Helper()
	return await(t, func(done func(types.Results, error)) { s.QueryRaw(query, params, nil, done) })
}

func TestSessionQueryRaw(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := openSession(t, env, q, "Driver=SQLite3;Database=:memory:")

	results, err := queryRaw(t, s, `CREATE TABLE people (id INTEGER, name TEXT);
		INSERT INTO people VALUES (1, 'ada'), (2, 'grace');
		SELECT id, name FROM people ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results.Sets) != 3 {
		t.Fatalf("expected 3 record sets, got %d", len(results.Sets))
	}
	if results.Sets[1].RowCount != 2 || len(results.Sets[1].Meta) != 0 {
		t.Errorf("expected the insert to report 2 rows, got %+v", results.Sets[1])
	}
	rows := results.Sets[2].Rows
	if len(rows) != 2 || rows[0][0] != float64(1) || rows[1][1] != "grace" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestSessionQueryObjectifies(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := openSession(t, env, q, "Database=:memory:")

	rows, err := await(t, func(done func([]map[string]interface{}, error)) {
		s.Query("SELECT 1 AS a, 2 AS a, 3 AS ''", nil, done)
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	want := map[string]interface{}{"a": int64(1), "Column1": int64(2), "Column2": int64(3)}
	for k, v := range want {
		if rows[0][k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, rows[0][k])
		}
	}
}

func TestObjectifyCollisions(t *testing.T) {
	set := types.RecordSet{
		Meta: []types.ColumnMeta{{Name: "Column1"}, {Name: "Column1"}, {Name: ""}},
		Rows: [][]interface{}{{"x", "y", "z"}},
	}
	rows := Objectify(set)
	if rows[0]["Column1"] != "x" || rows[0]["Column1_0"] != "y" || rows[0]["Column2"] != "z" {
		t.Errorf("unexpected names %v", rows[0])
	}
}

func TestSessionEvents(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := openSession(t, env, q, "Database=:memory:")

	var log []string
	events := &Events{
		OnMeta: func(meta []types.ColumnMeta) { log = append(log, "meta") },
		OnRow:  func(index int) { log = append(log, "row") },
		OnColumn: func(column int, data interface{}, more bool) {
			if more {
				log = append(log, "more")
			} else {
				log = append(log, "column")
			}
		},
		OnDone:  func() { log = append(log, "done") },
		OnError: func(err error) { log = append(log, "error") },
	}
	results, err := await(t, func(done func(types.Results, error)) {
		s.QueryRaw("SELECT replace(hex(zeroblob(1500)), '0', 'x') AS long, 7 AS n", nil, events, done)
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := strings.Join(log, ","); got != "meta,row,more,column,column,done" {
		t.Errorf("unexpected events %s", got)
	}
	if v := results.First().Rows[0][0].(string); v != strings.Repeat("x", 3000) {
		t.Errorf("expected chunks to be concatenated, got %d characters", len(v))
	}
}

func TestSessionErrors(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := openSession(t, env, q, "Database=:memory:")

	var reported error
	_, err := await(t, func(done func(types.Results, error)) {
		s.QueryRaw("SELECT * FROM missing", nil, &Events{OnError: func(err error) { reported = err }}, done)
	})
	if odbc.SQLState(err) != "42S02" || reported != err {
		t.Fatalf("expected 42S02 reported to both, got %v / %v", err, reported)
	}

	if _, err := queryRaw(t, s, "SELECT ?", 1, 2); !errors.Is(err, ErrParameterCount) {
		t.Errorf("expected parameter count error, got %v", err)
	}

	// The session keeps working after failures.
	results, err := queryRaw(t, s, "SELECT ? AS v", "ok")
	if err != nil || results.First().Rows[0][0] != "ok" {
		t.Errorf("expected recovery, got %v %v", results, err)
	}
}

func TestSessionSerializesVerbs(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := openSession(t, env, q, "Database=:memory:")

	const n = 10
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		s.QueryRaw("SELECT ? AS i", []any{i}, nil, func(results types.Results, err error) {
			if err != nil {
				t.Errorf("query %d: %v", i, err)
			}
			order <- int(results.First().Rows[0][0].(int64))
		})
	}
	for want := 0; want < n; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("expected query %d to finish next, got %d", want, got)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestSessionTransactions(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	cs := "Driver=SQLite3;Database=" + filepath.Join(t.TempDir(), "tx.db")
	s := openSession(t, env, q, cs)
	if _, err := queryRaw(t, s, "CREATE TABLE items (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, step := range []struct {
		end  func(func(error))
		want int64
	}{
		{s.Rollback, 0},
		{s.Commit, 1},
	} {
		if err := awaitErr(t, s.BeginTransaction); err != nil {
			t.Fatalf("begin: %v", err)
		}
		if _, err := queryRaw(t, s, "INSERT INTO items VALUES (?)", 1); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := awaitErr(t, step.end); err != nil {
			t.Fatalf("end: %v", err)
		}

		results, err := await(t, func(done func(types.Results, error)) {
			QueryRaw(env, q, cs, "SELECT COUNT(*) AS n FROM items", nil, done)
		})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if got := results.First().Rows[0][0]; got != step.want {
			t.Errorf("expected %d rows, got %v", step.want, got)
		}
	}
}

func TestSessionReissuesPendingVerbs(t *testing.T) {
	calls := map[string]int{}
	env, q := newTestStack(t, sqlhost.Options{StillExecuting: func(call string, _ api.Handle) bool {
		calls[call]++
		return calls[call]%2 == 1
	}})
	s := openSession(t, env, q, "Database=:memory:")

	results, err := queryRaw(t, s, "SELECT 'a' AS x UNION ALL SELECT 'b'")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	rows := results.First().Rows
	if len(rows) != 2 || rows[0][0] != "a" || rows[1][0] != "b" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestSessionClosed(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	s := NewSession(env, q, nil)
	if err := awaitErr(t, func(done func(error)) { s.Open("Database=:memory:", done) }); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := awaitErr(t, func(done func(error)) { s.Close(done) }); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := awaitErr(t, func(done func(error)) { s.Close(done) }); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected closed session error, got %v", err)
	}
	if _, err := queryRaw(t, s, "SELECT 1"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected closed session error, got %v", err)
	}
}

func TestOneShotQuery(t *testing.T) {
	env, q := newTestStack(t, sqlhost.Options{})
	rows, err := await(t, func(done func([]map[string]interface{}, error)) {
		Query(env, q, "Database=:memory:", "SELECT ? AS greeting", []any{"hi"}, done)
	})
	if err != nil || len(rows) != 1 || rows[0]["greeting"] != "hi" {
		t.Errorf("unexpected result %v %v", rows, err)
	}

	_, err = await(t, func(done func([]map[string]interface{}, error)) {
		Query(env, q, "Driver=Unknown", "SELECT 1", nil, done)
	})
	if odbc.SQLState(err) != "IM002" {
		t.Errorf("expected the open failure, got %v", err)
	}
}
