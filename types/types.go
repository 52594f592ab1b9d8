package types

import (
	"math"
	"time"
)

// --- Completion payloads delivered to callers ---

// ColumnMeta describes one column of a result set.
type ColumnMeta struct {
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	Nullable bool   `json:"nullable"`
	Type     string `json:"type"` // "text", "number" or "binary"
}

// Coarse column categories reported in ColumnMeta.Type.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeBinary = "binary"
)

// ColumnData is the payload of a column read. More is set when the value
// was too large for one read and the same column must be read again.
type ColumnData struct {
	Data interface{} `json:"data"`
	More bool        `json:"more"`
}

// NextResult is the payload of advancing to the next result set.
type NextResult struct {
	EndOfResults bool         `json:"endOfResults"`
	Meta         []ColumnMeta `json:"meta"`
}

// Date is a timestamp as milliseconds since the Unix epoch in UTC, with
// the sub-millisecond part of the fraction kept separately.
type Date struct {
	Millis float64 `json:"millis"`
	Nanos  int32   `json:"nanos"` // remainder below one millisecond
}

// Time converts d to a time.Time in UTC.
func (d Date) Time() time.Time {
	ms := math.Floor(d.Millis)
	return time.UnixMilli(int64(ms)).Add(time.Duration(d.Nanos)).UTC()
}

// --- Aggregated results ---

// RecordSet is one fully read result set. Rows hold concatenated column
// values; RowCount is the driver's affected/row count (-1 when unknown).
type RecordSet struct {
	Meta     []ColumnMeta    `json:"meta"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int64           `json:"rowCount"`
}

// Results holds every result set produced by one query.
type Results struct {
	Sets []RecordSet `json:"sets"`
}

// First returns the first record set, or an empty one.
func (r *Results) First() RecordSet {
	if len(r.Sets) == 0 {
		return RecordSet{RowCount: -1}
	}
	return r.Sets[0]
}
