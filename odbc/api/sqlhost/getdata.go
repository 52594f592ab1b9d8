package sqlhost

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/tomyedwab/odbcbridge/odbc/api"
)

// cell is the converted representation of one column of the current row
// and how much of it has been returned.
type cell struct {
	ctype  api.CType
	data   []byte
	offset int
	done   bool
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC3339Nano,
}

func (h *Host) GetData(stmt api.Handle, column uint16, ctype api.CType, buf []byte) (int64, api.Return) {
	s := h.lookupStmt(stmt)
	if s == nil {
		return 0, api.InvalidHandle
	}
	if h.stillExecuting("SQLGetData", stmt) {
		return 0, api.StillExecuting
	}
	h.begin(stmt)
	if s.row == nil {
		return 0, h.fail(stmt, "24000", "Invalid cursor state")
	}
	if column < 1 || int(column) > len(s.row) {
		return 0, h.fail(stmt, "07009", "Invalid descriptor index")
	}

	value := s.row[column-1]
	if value == nil {
		return api.NullData, api.Success
	}
	dataType := s.columns[column-1].DataType

	switch ctype {
	case api.CSLong:
		n, err := toInt32(value)
		if err != nil {
			return 0, h.failErr(stmt, err)
		}
		if len(buf) < 4 {
			return 0, h.fail(stmt, "HY090", "Invalid string or buffer length")
		}
		binary.NativeEndian.PutUint32(buf, uint32(n))
		return 4, api.Success

	case api.CDouble:
		f, err := toFloat64(value)
		if err != nil {
			return 0, h.failErr(stmt, err)
		}
		if len(buf) < 8 {
			return 0, h.fail(stmt, "HY090", "Invalid string or buffer length")
		}
		binary.NativeEndian.PutUint64(buf, math.Float64bits(f))
		return 8, api.Success

	case api.CTypeTimestamp:
		t, err := toTime(value)
		if err != nil {
			return 0, h.failErr(stmt, err)
		}
		if err := api.EncodeTimestamp(buf, timestampStruct(t)); err != nil {
			return 0, h.fail(stmt, "HY090", err.Error())
		}
		return api.TimestampStructSize, api.Success

	case api.CSSTimestampOffset:
		t, err := toTime(value)
		if err != nil {
			return 0, h.failErr(stmt, err)
		}
		_, offset := t.Zone()
		ts := api.TimestampOffsetStruct{
			TimestampStruct: timestampStruct(t),
			TimezoneHour:    int16(offset / 3600),
			TimezoneMinute:  int16((offset % 3600) / 60),
		}
		if err := api.EncodeTimestampOffset(buf, ts); err != nil {
			return 0, h.fail(stmt, "HY090", err.Error())
		}
		return api.TimestampOffsetStructSize, api.Success

	case api.CWChar, api.CChar, api.CBinary:
		return h.getChunk(stmt, s, column, ctype, value, dataType, buf)
	}
	return 0, h.fail(stmt, "HY003", "Invalid application buffer type")
}

// getChunk returns the next piece of a variable-length value. Character
// buffers reserve room for a terminator; the indicator is the number of
// bytes still available before this call.
func (h *Host) getChunk(stmt api.Handle, s *statement, column uint16, ctype api.CType, value any, dataType int16, buf []byte) (int64, api.Return) {
	if s.cells == nil {
		s.cells = make(map[uint16]*cell)
	}
	c, ok := s.cells[column]
	if !ok || c.ctype != ctype {
		c = &cell{ctype: ctype, data: convertVariable(value, dataType, ctype)}
		s.cells[column] = c
	}
	if c.done {
		return 0, api.NoData
	}

	unit, terminator := 1, 0
	switch ctype {
	case api.CWChar:
		unit, terminator = 2, 2
	case api.CChar:
		terminator = 1
	}
	capacity := len(buf) - terminator
	if capacity < 0 {
		return 0, h.fail(stmt, "HY090", "Invalid string or buffer length")
	}
	capacity -= capacity % unit

	remaining := len(c.data) - c.offset
	n := min(remaining, capacity)
	copy(buf, c.data[c.offset:c.offset+n])
	for i := 0; i < terminator; i++ {
		buf[n+i] = 0
	}
	c.offset += n
	if n < remaining {
		return int64(remaining), h.warn(stmt, api.StateTruncated, "String data, right truncated")
	}
	c.done = true
	return int64(remaining), api.Success
}

func convertVariable(value any, dataType int16, ctype api.CType) []byte {
	if ctype == api.CBinary {
		switch v := value.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		}
		return []byte(textOf(value, dataType))
	}
	text := textOf(value, dataType)
	if ctype == api.CChar {
		return []byte(text)
	}
	units := utf16.Encode([]rune(text))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.NativeEndian.PutUint16(out[2*i:], u)
	}
	return out
}

// textOf renders a value the way a driver converts it to character data.
func textOf(value any, dataType int16) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		if isBinaryType(dataType) {
			return strings.ToUpper(hex.EncodeToString(v))
		}
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		switch dataType {
		case api.SQL_TYPE_DATE:
			return v.Format(time.DateOnly)
		case api.SQL_TYPE_TIME:
			return v.Format(time.TimeOnly)
		case api.SQL_SS_TIMESTAMPOFFSET:
			return v.Format("2006-01-02 15:04:05.0000000 -07:00")
		}
		return v.Format("2006-01-02 15:04:05.000")
	}
	return ""
}

func toInt32(value any) (int32, error) {
	var n int64
	switch v := value.(type) {
	case int64:
		n = v
	case bool:
		if v {
			n = 1
		}
	case float64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, newStateError("22003", "Numeric value out of range")
		}
		n = int64(v)
	case string, []byte:
		text := strings.TrimSpace(textOf(v, api.SQL_VARCHAR))
		parsed, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(text, 64)
			if ferr != nil {
				return 0, newStateError("22018", "Invalid character value for cast specification")
			}
			if f < math.MinInt32 || f > math.MaxInt32 {
				return 0, newStateError("22003", "Numeric value out of range")
			}
			parsed = int64(f)
		}
		n = parsed
	default:
		return 0, newStateError("07006", "Restricted data type attribute violation")
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, newStateError("22003", "Numeric value out of range")
	}
	return int32(n), nil
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(textOf(v, api.SQL_VARCHAR)), 64)
		if err != nil {
			return 0, newStateError("22018", "Invalid character value for cast specification")
		}
		return f, nil
	}
	return 0, newStateError("07006", "Restricted data type attribute violation")
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string, []byte:
		text := strings.TrimSpace(textOf(v, api.SQL_VARCHAR))
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t, nil
			}
		}
		return time.Time{}, newStateError("22018", "Invalid character value for cast specification")
	}
	return time.Time{}, newStateError("07006", "Restricted data type attribute violation")
}

// timestampStruct breaks t down in its own location.
func timestampStruct(t time.Time) api.TimestampStruct {
	return api.TimestampStruct{
		Year:     int16(t.Year()),
		Month:    uint16(t.Month()),
		Day:      uint16(t.Day()),
		Hour:     uint16(t.Hour()),
		Minute:   uint16(t.Minute()),
		Second:   uint16(t.Second()),
		Fraction: uint32(t.Nanosecond()),
	}
}
