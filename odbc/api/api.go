// Package api describes the subset of the ODBC call-level interface the
// bridge drives. Implementations either bind a real driver manager
// (package native) or emulate one in-process (package sqlhost).
package api

import (
	"encoding/binary"
	"fmt"
)

// API is one driver manager. Every method maps to a single native entry
// point and reports its outcome as a Return code; diagnostic text is only
// available through GetDiagRec.
type API interface {
	AllocHandle(kind HandleType, parent Handle) (Handle, Return)
	FreeHandle(kind HandleType, h Handle) Return

	SetEnvAttr(env Handle, attr int32, value uintptr) Return
	SetConnectAttr(dbc Handle, attr int32, value uintptr) Return
	SetStmtAttr(stmt Handle, attr int32, value uintptr) Return

	DriverConnect(dbc Handle, connectionString string) Return
	Disconnect(dbc Handle) Return
	EndTran(kind HandleType, h Handle, completion int16) Return

	ExecDirect(stmt Handle, text string) Return
	NumResultCols(stmt Handle) (int16, Return)
	// DescribeCol describes the 1-based column, including its full name.
	DescribeCol(stmt Handle, column uint16) (ColumnDescription, Return)
	RowCount(stmt Handle) (int64, Return)
	Fetch(stmt Handle) Return
	// GetData copies (part of) the 1-based column of the current row into
	// buf converted to ctype and returns the length indicator.
	GetData(stmt Handle, column uint16, ctype CType, buf []byte) (int64, Return)
	MoreResults(stmt Handle) Return

	GetDiagRec(kind HandleType, h Handle, record int16) (DiagRecord, Return)
}

// DecodeTimestamp reads a SQL_TIMESTAMP_STRUCT from buf.
func DecodeTimestamp(buf []byte) (TimestampStruct, error) {
	if len(buf) < TimestampStructSize {
		return TimestampStruct{}, fmt.Errorf("timestamp buffer too short: %d bytes", len(buf))
	}
	e := binary.NativeEndian
	return TimestampStruct{
		Year:     int16(e.Uint16(buf[0:])),
		Month:    e.Uint16(buf[2:]),
		Day:      e.Uint16(buf[4:]),
		Hour:     e.Uint16(buf[6:]),
		Minute:   e.Uint16(buf[8:]),
		Second:   e.Uint16(buf[10:]),
		Fraction: e.Uint32(buf[12:]),
	}, nil
}

// EncodeTimestamp writes ts as a SQL_TIMESTAMP_STRUCT into buf.
func EncodeTimestamp(buf []byte, ts TimestampStruct) error {
	if len(buf) < TimestampStructSize {
		return fmt.Errorf("timestamp buffer too short: %d bytes", len(buf))
	}
	e := binary.NativeEndian
	e.PutUint16(buf[0:], uint16(ts.Year))
	e.PutUint16(buf[2:], ts.Month)
	e.PutUint16(buf[4:], ts.Day)
	e.PutUint16(buf[6:], ts.Hour)
	e.PutUint16(buf[8:], ts.Minute)
	e.PutUint16(buf[10:], ts.Second)
	e.PutUint32(buf[12:], ts.Fraction)
	return nil
}

// DecodeTimestampOffset reads a SQL_SS_TIMESTAMPOFFSET_STRUCT from buf.
func DecodeTimestampOffset(buf []byte) (TimestampOffsetStruct, error) {
	if len(buf) < TimestampOffsetStructSize {
		return TimestampOffsetStruct{}, fmt.Errorf("timestamp offset buffer too short: %d bytes", len(buf))
	}
	ts, err := DecodeTimestamp(buf)
	if err != nil {
		return TimestampOffsetStruct{}, err
	}
	e := binary.NativeEndian
	return TimestampOffsetStruct{
		TimestampStruct: ts,
		TimezoneHour:    int16(e.Uint16(buf[16:])),
		TimezoneMinute:  int16(e.Uint16(buf[18:])),
	}, nil
}

// EncodeTimestampOffset writes ts as a SQL_SS_TIMESTAMPOFFSET_STRUCT into buf.
func EncodeTimestampOffset(buf []byte, ts TimestampOffsetStruct) error {
	if len(buf) < TimestampOffsetStructSize {
		return fmt.Errorf("timestamp offset buffer too short: %d bytes", len(buf))
	}
	if err := EncodeTimestamp(buf, ts.TimestampStruct); err != nil {
		return err
	}
	e := binary.NativeEndian
	e.PutUint16(buf[16:], uint16(ts.TimezoneHour))
	e.PutUint16(buf[18:], uint16(ts.TimezoneMinute))
	return nil
}
