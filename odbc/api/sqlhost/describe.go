package sqlhost

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

// describeColumn maps a database/sql column to an ODBC description. A
// column without a declared type (an expression) is inferred from the
// first value of the result, or nil when the result has no rows.
func describeColumn(driverName string, ct *sql.ColumnType, first any, haveFirst bool) api.ColumnDescription {
	desc := api.ColumnDescription{
		Name:     ct.Name(),
		Nullable: api.NullableUnknown,
	}
	decl := strings.ToUpper(strings.TrimSpace(ct.DatabaseTypeName()))
	if decl == "" {
		return inferColumn(desc, first, haveFirst)
	}

	desc.DataType, desc.ColumnSize = declaredType(driverName, decl)
	if length, ok := ct.Length(); ok && length > 0 && length < math.MaxInt32 {
		desc.ColumnSize = uint64(length)
	}
	if precision, scale, ok := ct.DecimalSize(); ok {
		desc.ColumnSize = uint64(precision)
		desc.DecimalDigits = int16(scale)
	}
	if nullable, ok := ct.Nullable(); ok {
		desc.Nullable = api.NoNulls
		if nullable {
			desc.Nullable = api.Nullable
		}
	}
	return desc
}

func inferColumn(desc api.ColumnDescription, first any, haveFirst bool) api.ColumnDescription {
	desc.DataType, desc.ColumnSize = api.SQL_WVARCHAR, 0
	if !haveFirst {
		return desc
	}
	desc.Nullable = api.NoNulls
	switch v := first.(type) {
	case nil:
		desc.Nullable = api.Nullable
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			desc.DataType, desc.ColumnSize = api.SQL_INTEGER, 10
		} else {
			desc.DataType, desc.ColumnSize = api.SQL_BIGINT, 19
		}
	case float64:
		desc.DataType, desc.ColumnSize = api.SQL_DOUBLE, 15
	case bool:
		desc.DataType, desc.ColumnSize = api.SQL_BIT, 1
	case []byte:
		desc.DataType, desc.ColumnSize = api.SQL_VARBINARY, uint64(len(v))
	case string:
		desc.ColumnSize = uint64(len([]rune(v)))
	case time.Time:
		desc.DataType, desc.ColumnSize = api.SQL_TYPE_TIMESTAMP, 23
	}
	return desc
}

// declaredType maps a declared column type name to a wire type code and
// a default column size.
func declaredType(driverName, decl string) (int16, uint64) {
	base, _, _ := strings.Cut(decl, "(")
	base = strings.TrimSpace(base)
	size := declaredLength(decl)

	switch base {
	case "INTEGER", "INT", "MEDIUMINT", "SMALLINT", "INT2", "TINYINT":
		// sqlite integers are 64-bit regardless of the declared name.
		if driverName == driverSQLite {
			return api.SQL_BIGINT, 19
		}
	}

	switch base {
	case "INTEGER", "INT", "MEDIUMINT":
		return api.SQL_INTEGER, 10
	case "BIGINT", "INT8":
		return api.SQL_BIGINT, 19
	case "SMALLINT", "INT2":
		return api.SQL_SMALLINT, 5
	case "TINYINT":
		return api.SQL_TINYINT, 3
	case "BIT", "BOOL", "BOOLEAN":
		return api.SQL_BIT, 1
	case "REAL":
		if driverName == driverSQLite {
			return api.SQL_DOUBLE, 15
		}
		return api.SQL_REAL, 7
	case "FLOAT":
		return api.SQL_FLOAT, 15
	case "DOUBLE", "DOUBLE PRECISION":
		return api.SQL_DOUBLE, 15
	case "DECIMAL", "MONEY", "SMALLMONEY":
		return api.SQL_DECIMAL, orDefault(size, 18)
	case "NUMERIC":
		return api.SQL_NUMERIC, orDefault(size, 18)
	case "CHAR", "CHARACTER":
		return api.SQL_CHAR, orDefault(size, 1)
	case "NCHAR":
		return api.SQL_WCHAR, orDefault(size, 1)
	case "VARCHAR", "VARYING CHARACTER":
		return api.SQL_VARCHAR, size
	case "NVARCHAR", "NATIVE CHARACTER":
		return api.SQL_WVARCHAR, size
	case "TEXT", "CLOB":
		if driverName == driverSQLite {
			return api.SQL_WLONGVARCHAR, 0
		}
		return api.SQL_LONGVARCHAR, 0
	case "NTEXT", "XML":
		return api.SQL_WLONGVARCHAR, 0
	case "BINARY":
		return api.SQL_BINARY, size
	case "VARBINARY":
		return api.SQL_VARBINARY, size
	case "BLOB", "IMAGE":
		return api.SQL_LONGVARBINARY, 0
	case "DATE":
		return api.SQL_TYPE_DATE, 10
	case "TIME":
		return api.SQL_TYPE_TIME, 8
	case "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP":
		return api.SQL_TYPE_TIMESTAMP, 23
	case "DATETIMEOFFSET":
		return api.SQL_SS_TIMESTAMPOFFSET, 34
	case "UNIQUEIDENTIFIER":
		return api.SQL_GUID, 36
	}
	return api.SQL_WVARCHAR, size
}

func declaredLength(decl string) uint64 {
	_, rest, ok := strings.Cut(decl, "(")
	if !ok {
		return 0
	}
	rest, _, _ = strings.Cut(rest, ")")
	rest, _, _ = strings.Cut(rest, ",")
	n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func isBinaryType(t int16) bool {
	switch t {
	case api.SQL_BINARY, api.SQL_VARBINARY, api.SQL_LONGVARBINARY:
		return true
	}
	return false
}
