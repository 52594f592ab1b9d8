package api

// Handle is an opaque handle value issued by a driver manager.
type Handle uintptr

// NullHandle is the absent handle. SetEnvAttr on NullHandle sets
// process-level attributes such as connection pooling.
const NullHandle Handle = 0

// HandleType identifies the kind of a handle.
type HandleType int16

const (
	HandleEnv  HandleType = 1
	HandleDbc  HandleType = 2
	HandleStmt HandleType = 3
)

func (t HandleType) String() string {
	switch t {
	case HandleEnv:
		return "environment"
	case HandleDbc:
		return "connection"
	case HandleStmt:
		return "statement"
	default:
		return "unknown"
	}
}

// Return is the SQLRETURN code of a call.
type Return int16

const (
	Success         Return = 0
	SuccessWithInfo Return = 1
	StillExecuting  Return = 2
	NeedData        Return = 99
	NoData          Return = 100
	Error           Return = -1
	InvalidHandle   Return = -2
)

// Succeeded mirrors the SQL_SUCCEEDED macro.
func (r Return) Succeeded() bool {
	return r == Success || r == SuccessWithInfo
}

func (r Return) String() string {
	switch r {
	case Success:
		return "SQL_SUCCESS"
	case SuccessWithInfo:
		return "SQL_SUCCESS_WITH_INFO"
	case StillExecuting:
		return "SQL_STILL_EXECUTING"
	case NeedData:
		return "SQL_NEED_DATA"
	case NoData:
		return "SQL_NO_DATA"
	case Error:
		return "SQL_ERROR"
	case InvalidHandle:
		return "SQL_INVALID_HANDLE"
	default:
		return "SQLRETURN(?)"
	}
}

// SQL data type codes reported by DescribeCol.
const (
	SQL_UNKNOWN_TYPE       int16 = 0
	SQL_CHAR               int16 = 1
	SQL_NUMERIC            int16 = 2
	SQL_DECIMAL            int16 = 3
	SQL_INTEGER            int16 = 4
	SQL_SMALLINT           int16 = 5
	SQL_FLOAT              int16 = 6
	SQL_REAL               int16 = 7
	SQL_DOUBLE             int16 = 8
	SQL_DATETIME           int16 = 9
	SQL_TIME               int16 = 10
	SQL_TIMESTAMP          int16 = 11
	SQL_VARCHAR            int16 = 12
	SQL_TYPE_DATE          int16 = 91
	SQL_TYPE_TIME          int16 = 92
	SQL_TYPE_TIMESTAMP     int16 = 93
	SQL_LONGVARCHAR        int16 = -1
	SQL_BINARY             int16 = -2
	SQL_VARBINARY          int16 = -3
	SQL_LONGVARBINARY      int16 = -4
	SQL_BIGINT             int16 = -5
	SQL_TINYINT            int16 = -6
	SQL_BIT                int16 = -7
	SQL_WCHAR              int16 = -8
	SQL_WVARCHAR           int16 = -9
	SQL_WLONGVARCHAR       int16 = -10
	SQL_GUID               int16 = -11
	SQL_SS_TIMESTAMPOFFSET int16 = -155
)

// CType is the C buffer type requested from GetData.
type CType int16

const (
	CChar              CType = 1
	CSLong             CType = -16
	CDouble            CType = 8
	CBinary            CType = -2
	CWChar             CType = -8
	CTypeTimestamp     CType = 93
	CSSTimestampOffset CType = 0x4001
)

// Indicator values returned by GetData.
const (
	NullData int64 = -1
	NoTotal  int64 = -4
)

// Nullability reported by DescribeCol.
const (
	NoNulls         int16 = 0
	Nullable        int16 = 1
	NullableUnknown int16 = 2
)

// Environment attributes.
const (
	AttrODBCVersion       int32 = 200
	AttrConnectionPooling int32 = 201
	AttrCPMatch           int32 = 202
)

const (
	OVODBC3        uintptr = 3
	CPOff          uintptr = 0
	CPOnePerDriver uintptr = 1
	CPOnePerHEnv   uintptr = 2
	CPStrictMatch  uintptr = 0
	CPRelaxedMatch uintptr = 1
)

// Connection attributes.
const (
	AttrAutocommit int32 = 102
	AutocommitOff  uintptr = 0
	AutocommitOn   uintptr = 1
)

// Statement attributes.
const (
	AttrAsyncEnable int32 = 4
	AsyncEnableOff  uintptr = 0
	AsyncEnableOn   uintptr = 1
)

// EndTran completion types.
const (
	Commit   int16 = 0
	Rollback int16 = 1
)

// Diagnostic states the core inspects.
const (
	StateTruncated = "01004"
)

// ColumnDescription is the result of DescribeCol.
type ColumnDescription struct {
	Name          string
	DataType      int16
	ColumnSize    uint64
	DecimalDigits int16
	Nullable      int16
}

// DiagRecord is one diagnostic record of a handle.
type DiagRecord struct {
	State      string
	NativeCode int32
	Message    string
}

// TimestampStruct mirrors SQL_TIMESTAMP_STRUCT.
type TimestampStruct struct {
	Year     int16
	Month    uint16
	Day      uint16
	Hour     uint16
	Minute   uint16
	Second   uint16
	Fraction uint32 // nanoseconds
}

// TimestampOffsetStruct mirrors SQL_SS_TIMESTAMPOFFSET_STRUCT.
type TimestampOffsetStruct struct {
	TimestampStruct
	TimezoneHour   int16
	TimezoneMinute int16
}

const (
	TimestampStructSize       = 16
	TimestampOffsetStructSize = 20
)
