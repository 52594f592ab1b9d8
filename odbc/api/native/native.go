// Package native binds the platform ODBC driver manager (unixODBC,
// iODBC or odbc32.dll) without cgo.
package native

import (
	"fmt"
	"runtime"
	"unicode/utf16"

	"github.com/ebitengine/purego"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

const (
	describeNameLength = 256
	diagMessageLength  = 1024
	connectOutLength   = 1024
)

// Driver is a loaded driver manager. It satisfies api.API.
type Driver struct {
	library string

	sqlAllocHandle    func(kind int16, parent uintptr, out *uintptr) int16
	sqlFreeHandle     func(kind int16, h uintptr) int16
	sqlSetEnvAttr     func(env uintptr, attr int32, value uintptr, length int32) int16
	sqlSetConnectAttr func(dbc uintptr, attr int32, value uintptr, length int32) int16
	sqlSetStmtAttr    func(stmt uintptr, attr int32, value uintptr, length int32) int16
	sqlDriverConnect  func(dbc uintptr, hwnd uintptr, in *uint16, inLen int16, out *uint16, outMax int16, outLen *int16, completion uint16) int16
	sqlDisconnect     func(dbc uintptr) int16
	sqlEndTran        func(kind int16, h uintptr, completion int16) int16
	sqlExecDirect     func(stmt uintptr, text *uint16, length int32) int16
	sqlNumResultCols  func(stmt uintptr, count *int16) int16
	sqlDescribeCol    func(stmt uintptr, column uint16, name *uint16, nameMax int16, nameLen *int16, dataType *int16, size *uint, digits *int16, nullable *int16) int16
	sqlRowCount       func(stmt uintptr, count *int) int16
	sqlFetch          func(stmt uintptr) int16
	sqlGetData        func(stmt uintptr, column uint16, ctype int16, buf *byte, bufLen int, indicator *int) int16
	sqlMoreResults    func(stmt uintptr) int16
	sqlGetDiagRec     func(kind int16, h uintptr, record int16, state *uint16, native *int32, message *uint16, messageMax int16, messageLen *int16) int16
}

var _ api.API = (*Driver)(nil)

// Open loads the driver manager library. An empty name selects the
// platform default.
func Open(library string) (*Driver, error) {
	if library == "" {
		library = defaultLibrary
	}
	handle, err := openLibrary(library)
	if err != nil {
		return nil, fmt.Errorf("native: failed to load %s: %w", library, err)
	}
	d := &Driver{library: library}
	if err := d.register(handle); err != nil {
		return nil, fmt.Errorf("native: %s: %w", library, err)
	}
	return d, nil
}

// Library returns the name the driver manager was loaded from.
func (d *Driver) Library() string {
	return d.library
}

func (d *Driver) register(handle uintptr) (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("missing entry point: %v", r)
		}
	}()
	purego.RegisterLibFunc(&d.sqlAllocHandle, handle, "SQLAllocHandle")
	purego.RegisterLibFunc(&d.sqlFreeHandle, handle, "SQLFreeHandle")
	purego.RegisterLibFunc(&d.sqlSetEnvAttr, handle, "SQLSetEnvAttr")
	purego.RegisterLibFunc(&d.sqlSetConnectAttr, handle, "SQLSetConnectAttrW")
	purego.RegisterLibFunc(&d.sqlSetStmtAttr, handle, "SQLSetStmtAttrW")
	purego.RegisterLibFunc(&d.sqlDriverConnect, handle, "SQLDriverConnectW")
	purego.RegisterLibFunc(&d.sqlDisconnect, handle, "SQLDisconnect")
	purego.RegisterLibFunc(&d.sqlEndTran, handle, "SQLEndTran")
	purego.RegisterLibFunc(&d.sqlExecDirect, handle, "SQLExecDirectW")
	purego.RegisterLibFunc(&d.sqlNumResultCols, handle, "SQLNumResultCols")
	purego.RegisterLibFunc(&d.sqlDescribeCol, handle, "SQLDescribeColW")
	purego.RegisterLibFunc(&d.sqlRowCount, handle, "SQLRowCount")
	purego.RegisterLibFunc(&d.sqlFetch, handle, "SQLFetch")
	purego.RegisterLibFunc(&d.sqlGetData, handle, "SQLGetData")
	purego.RegisterLibFunc(&d.sqlMoreResults, handle, "SQLMoreResults")
	purego.RegisterLibFunc(&d.sqlGetDiagRec, handle, "SQLGetDiagRecW")
	return nil
}

func (d *Driver) AllocHandle(kind api.HandleType, parent api.Handle) (api.Handle, api.Return) {
	var out uintptr
	ret := d.sqlAllocHandle(int16(kind), uintptr(parent), &out)
	return api.Handle(out), api.Return(ret)
}

func (d *Driver) FreeHandle(kind api.HandleType, h api.Handle) api.Return {
	return api.Return(d.sqlFreeHandle(int16(kind), uintptr(h)))
}

func (d *Driver) SetEnvAttr(env api.Handle, attr int32, value uintptr) api.Return {
	return api.Return(d.sqlSetEnvAttr(uintptr(env), attr, value, 0))
}

func (d *Driver) SetConnectAttr(dbc api.Handle, attr int32, value uintptr) api.Return {
	return api.Return(d.sqlSetConnectAttr(uintptr(dbc), attr, value, 0))
}

func (d *Driver) SetStmtAttr(stmt api.Handle, attr int32, value uintptr) api.Return {
	return api.Return(d.sqlSetStmtAttr(uintptr(stmt), attr, value, 0))
}

func (d *Driver) DriverConnect(dbc api.Handle, connectionString string) api.Return {
	in := encodeWide(connectionString)
	out := make([]uint16, connectOutLength)
	var outLen int16
	// SQL_DRIVER_NOPROMPT
	ret := d.sqlDriverConnect(uintptr(dbc), 0, &in[0], int16(len(in)-1), &out[0], int16(len(out)), &outLen, 0)
	runtime.KeepAlive(in)
	return api.Return(ret)
}

func (d *Driver) Disconnect(dbc api.Handle) api.Return {
	return api.Return(d.sqlDisconnect(uintptr(dbc)))
}

func (d *Driver) EndTran(kind api.HandleType, h api.Handle, completion int16) api.Return {
	return api.Return(d.sqlEndTran(int16(kind), uintptr(h), completion))
}

func (d *Driver) ExecDirect(stmt api.Handle, text string) api.Return {
	w := encodeWide(text)
	ret := d.sqlExecDirect(uintptr(stmt), &w[0], int32(len(w)-1))
	runtime.KeepAlive(w)
	return api.Return(ret)
}

func (d *Driver) NumResultCols(stmt api.Handle) (int16, api.Return) {
	var n int16
	ret := d.sqlNumResultCols(uintptr(stmt), &n)
	return n, api.Return(ret)
}

func (d *Driver) DescribeCol(stmt api.Handle, column uint16) (api.ColumnDescription, api.Return) {
	name := make([]uint16, describeNameLength)
	for {
		var (
			nameLen  int16
			dataType int16
			size     uint
			digits   int16
			nullable int16
		)
		ret := api.Return(d.sqlDescribeCol(uintptr(stmt), column, &name[0], int16(len(name)), &nameLen, &dataType, &size, &digits, &nullable))
		if !ret.Succeeded() {
			return api.ColumnDescription{}, ret
		}
		// Truncated names are described again with a buffer that fits.
		if int(nameLen) >= len(name) {
			name = make([]uint16, int(nameLen)+1)
			continue
		}
		return api.ColumnDescription{
			Name:          decodeWide(name[:nameLen]),
			DataType:      dataType,
			ColumnSize:    uint64(size),
			DecimalDigits: digits,
			Nullable:      nullable,
		}, ret
	}
}

func (d *Driver) RowCount(stmt api.Handle) (int64, api.Return) {
	var n int
	ret := d.sqlRowCount(uintptr(stmt), &n)
	return int64(n), api.Return(ret)
}

func (d *Driver) Fetch(stmt api.Handle) api.Return {
	return api.Return(d.sqlFetch(uintptr(stmt)))
}

func (d *Driver) GetData(stmt api.Handle, column uint16, ctype api.CType, buf []byte) (int64, api.Return) {
	var indicator int
	var ptr *byte
	if len(buf) > 0 {
		ptr = &buf[0]
	}
	ret := d.sqlGetData(uintptr(stmt), column, int16(ctype), ptr, len(buf), &indicator)
	runtime.KeepAlive(buf)
	return int64(indicator), api.Return(ret)
}

func (d *Driver) MoreResults(stmt api.Handle) api.Return {
	return api.Return(d.sqlMoreResults(uintptr(stmt)))
}

func (d *Driver) GetDiagRec(kind api.HandleType, h api.Handle, record int16) (api.DiagRecord, api.Return) {
	state := make([]uint16, 6)
	message := make([]uint16, diagMessageLength)
	var native int32
	var messageLen int16
	ret := api.Return(d.sqlGetDiagRec(int16(kind), uintptr(h), record, &state[0], &native, &message[0], int16(len(message)), &messageLen))
	if !ret.Succeeded() {
		return api.DiagRecord{}, ret
	}
	if int(messageLen) >= len(message) {
		messageLen = int16(len(message) - 1)
	}
	return api.DiagRecord{
		State:      decodeWide(state[:5]),
		NativeCode: native,
		Message:    decodeWide(message[:messageLen]),
	}, ret
}

// encodeWide returns s as NUL-terminated UTF-16.
func encodeWide(s string) []uint16 {
	return append(utf16.Encode([]rune(s)), 0)
}

func decodeWide(w []uint16) string {
	for i, c := range w {
		if c == 0 {
			w = w[:i]
			break
		}
	}
	return string(utf16.Decode(w))
}
