package odbc

import (
	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/types"
)

// ColumnDefinition is the description of one result column.
type ColumnDefinition struct {
	Name          string
	Size          uint64
	DataType      int16
	DecimalDigits int16
	Nullable      int16
}

// ResultSet holds the description of the current result and the most
// recently read column value. Earlier values are not retained.
type ResultSet struct {
	metadata  []ColumnDefinition
	rowCount  int64
	endOfRows bool
	column    Column
}

func newResultSet(columns int) *ResultSet {
	return &ResultSet{
		metadata: make([]ColumnDefinition, columns),
		rowCount: -1,
		column:   NullColumn(),
	}
}

func (r *ResultSet) ColumnCount() int {
	return len(r.metadata)
}

func (r *ResultSet) Metadata(i int) *ColumnDefinition {
	return &r.metadata[i]
}

func (r *ResultSet) SetColumn(c Column) {
	r.column = c
}

func (r *ResultSet) Column() Column {
	return r.column
}

func (r *ResultSet) RowCount() int64 {
	return r.rowCount
}

func (r *ResultSet) EndOfRows() bool {
	return r.endOfRows
}

// Meta converts the column descriptions to their external form.
func (r *ResultSet) Meta() []types.ColumnMeta {
	meta := make([]types.ColumnMeta, len(r.metadata))
	for i, def := range r.metadata {
		meta[i] = types.ColumnMeta{
			Name:     def.Name,
			Size:     def.Size,
			Nullable: def.Nullable != api.NoNulls,
			Type:     classify(def.DataType),
		}
	}
	return meta
}

// classify maps a wire type code to one of the coarse categories of
// ColumnMeta.Type.
func classify(dataType int16) string {
	switch dataType {
	case api.SQL_CHAR, api.SQL_VARCHAR, api.SQL_LONGVARCHAR,
		api.SQL_WCHAR, api.SQL_WVARCHAR, api.SQL_WLONGVARCHAR:
		return types.TypeText
	case api.SQL_SMALLINT, api.SQL_BIT, api.SQL_TINYINT, api.SQL_INTEGER,
		api.SQL_DECIMAL, api.SQL_NUMERIC, api.SQL_REAL, api.SQL_FLOAT,
		api.SQL_DOUBLE, api.SQL_BIGINT:
		return types.TypeNumber
	}
	return types.TypeBinary
}
