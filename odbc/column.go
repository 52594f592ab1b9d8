package odbc

import "github.com/tomyedwab/odbcbridge/types"

// ColumnKind identifies the variant held by a Column.
type ColumnKind int

const (
	ColumnNull ColumnKind = iota
	ColumnText
	ColumnBinary
	ColumnInteger
	ColumnNumber
	ColumnBoolean
	ColumnTimestamp
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnNull:
		return "null"
	case ColumnText:
		return "text"
	case ColumnBinary:
		return "binary"
	case ColumnInteger:
		return "integer"
	case ColumnNumber:
		return "number"
	case ColumnBoolean:
		return "boolean"
	case ColumnTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column is one decoded column value. Only the field matching Kind is
// meaningful.
type Column struct {
	Kind ColumnKind

	text      string
	binary    []byte
	integer   int64
	number    float64
	boolean   bool
	timestamp types.Date
	more      bool
}

// NullColumn is an SQL NULL of any type.
func NullColumn() Column {
	return Column{Kind: ColumnNull}
}

// TextColumn is one chunk of a text value; more is set when further
// chunks follow.
func TextColumn(s string, more bool) Column {
	return Column{Kind: ColumnText, text: s, more: more}
}

// BinaryColumn is one chunk of a binary value.
func BinaryColumn(b []byte, more bool) Column {
	return Column{Kind: ColumnBinary, binary: b, more: more}
}

// IntegerColumn holds a value read as a 32-bit integer.
func IntegerColumn(n int64) Column {
	return Column{Kind: ColumnInteger, integer: n}
}

// NumberColumn holds a value read as a double.
func NumberColumn(f float64) Column {
	return Column{Kind: ColumnNumber, number: f}
}

// BooleanColumn holds a BIT value.
func BooleanColumn(b bool) Column {
	return Column{Kind: ColumnBoolean, boolean: b}
}

// TimestampColumn holds a timestamp normalized to UTC.
func TimestampColumn(d types.Date) Column {
	return Column{Kind: ColumnTimestamp, timestamp: d}
}

// More reports whether part of a text or binary value is still pending.
func (c Column) More() bool {
	switch c.Kind {
	case ColumnText, ColumnBinary:
		return c.more
	}
	return false
}

// ToValue converts the column to a plain Go value: string, []byte, int64,
// float64, bool, types.Date or nil.
func (c Column) ToValue() interface{} {
	switch c.Kind {
	case ColumnText:
		return c.text
	case ColumnBinary:
		return c.binary
	case ColumnInteger:
		return c.integer
	case ColumnNumber:
		return c.number
	case ColumnBoolean:
		return c.boolean
	case ColumnTimestamp:
		return c.timestamp
	}
	return nil
}
