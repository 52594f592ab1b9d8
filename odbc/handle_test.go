package odbc

import (
	"testing"

	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/odbc/api/sqlhost"
)

func TestHandleFreeIsIdempotent(t *testing.T) {
	h := newHandle(api.HandleEnv)
	h.Free()
	if h.Allocated() {
		t.Fatal("expected unallocated handle")
	}

	cli := sqlhost.New(sqlhost.Options{})
	if err := h.Alloc(cli, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if !h.Allocated() {
		t.Fatal("expected allocated handle")
	}
	h.Free()
	h.Free()
	if h.Allocated() {
		t.Fatal("expected handle to be released")
	}
}

func TestHandleTake(t *testing.T) {
	cli := sqlhost.New(sqlhost.Options{})
	src := newHandle(api.HandleEnv)
	if err := src.Alloc(cli, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	native := src.Native()

	dst := src.Take()
	if src.Allocated() {
		t.Error("expected source to be emptied")
	}
	if dst.Native() != native || dst.Kind() != api.HandleEnv {
		t.Errorf("expected moved handle %v, got %v (%s)", native, dst.Native(), dst.Kind())
	}
	src.Free()
	if ret := cli.SetEnvAttr(dst.Native(), api.AttrODBCVersion, api.OVODBC3); ret != api.Success {
		t.Errorf("expected moved handle to stay valid, got %s", ret)
	}
	dst.Free()
}

func TestHandleAllocFailure(t *testing.T) {
	cli := sqlhost.New(sqlhost.Options{})
	env := newHandle(api.HandleEnv)
	if err := env.Alloc(cli, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer env.Free()
	dbc := newHandle(api.HandleDbc)
	if err := dbc.Alloc(cli, &env); err != nil {
		t.Fatalf("alloc dbc: %v", err)
	}
	defer dbc.Free()

	// A statement needs a connected connection.
	stmt := newHandle(api.HandleStmt)
	err := stmt.Alloc(cli, &dbc)
	if !IsHandleAllocationError(err) {
		t.Fatalf("expected handle allocation error, got %v", err)
	}
	if stmt.Allocated() {
		t.Error("expected no handle after a failed allocation")
	}
	if got := SQLState(err); got != "" {
		t.Errorf("expected no state on the allocation error itself, got %q", got)
	}
}

func TestHandleDiagnose(t *testing.T) {
	cli := sqlhost.New(sqlhost.Options{})
	env := newHandle(api.HandleEnv)
	if err := env.Alloc(cli, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer env.Free()
	dbc := newHandle(api.HandleDbc)
	if err := dbc.Alloc(cli, &env); err != nil {
		t.Fatalf("alloc dbc: %v", err)
	}
	defer dbc.Free()

	if ret := cli.DriverConnect(dbc.Native(), "Driver=Nope"); ret.Succeeded() {
		t.Fatal("expected connect to fail")
	}
	err := dbc.Diagnose()
	if !IsNativeError(err) {
		t.Fatalf("expected native error, got %v", err)
	}
	if SQLState(err) != "IM002" {
		t.Errorf("expected IM002, got %q (%v)", SQLState(err), err)
	}

	empty := newHandle(api.HandleStmt)
	if err := empty.Diagnose(); !IsInvalidStateError(err) {
		t.Errorf("expected invalid state for an unallocated handle, got %v", err)
	}
}
