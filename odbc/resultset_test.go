package odbc

import (
	"bytes"
	"testing"

	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		dataType int16
		want     string
	}{
		{api.SQL_CHAR, types.TypeText},
		{api.SQL_WVARCHAR, types.TypeText},
		{api.SQL_WLONGVARCHAR, types.TypeText},
		{api.SQL_BIT, types.TypeNumber},
		{api.SQL_INTEGER, types.TypeNumber},
		{api.SQL_BIGINT, types.TypeNumber},
		{api.SQL_DECIMAL, types.TypeNumber},
		{api.SQL_DOUBLE, types.TypeNumber},
		{api.SQL_VARBINARY, types.TypeBinary},
		{api.SQL_TYPE_TIMESTAMP, types.TypeBinary},
		{api.SQL_GUID, types.TypeBinary},
		{api.SQL_UNKNOWN_TYPE, types.TypeBinary},
	}
	for _, tt := range tests {
		if got := classify(tt.dataType); got != tt.want {
			t.Errorf("classify(%d): expected %q, got %q", tt.dataType, tt.want, got)
		}
	}
}

func TestResultSetMeta(t *testing.T) {
	rs := newResultSet(3)
	if rs.RowCount() != -1 {
		t.Errorf("expected unknown row count, got %d", rs.RowCount())
	}
	if rs.Column().Kind != ColumnNull {
		t.Errorf("expected a null column before any read, got %s", rs.Column().Kind)
	}
	*rs.Metadata(0) = ColumnDefinition{Name: "id", Size: 10, DataType: api.SQL_INTEGER, Nullable: api.NoNulls}
	*rs.Metadata(1) = ColumnDefinition{Name: "name", Size: 40, DataType: api.SQL_WVARCHAR, Nullable: api.Nullable}
	*rs.Metadata(2) = ColumnDefinition{Name: "blob", DataType: api.SQL_VARBINARY, Nullable: api.NullableUnknown}

	meta := rs.Meta()
	want := []types.ColumnMeta{
		{Name: "id", Size: 10, Nullable: false, Type: types.TypeNumber},
		{Name: "name", Size: 40, Nullable: true, Type: types.TypeText},
		{Name: "blob", Size: 0, Nullable: true, Type: types.TypeBinary},
	}
	if len(meta) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(meta))
	}
	for i := range want {
		if meta[i] != want[i] {
			t.Errorf("column %d: expected %+v, got %+v", i, want[i], meta[i])
		}
	}
}

func TestColumnValues(t *testing.T) {
	date := types.Date{Millis: 86_400_000, Nanos: 5}
	tests := []struct {
		name  string
		col   Column
		value interface{}
		more  bool
	}{
		{"null", NullColumn(), nil, false},
		{"text", TextColumn("abc", true), "abc", true},
		{"integer", IntegerColumn(-7), int64(-7), false},
		{"number", NumberColumn(2.5), 2.5, false},
		{"boolean", BooleanColumn(true), true, false},
		{"timestamp", TimestampColumn(date), date, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.col.ToValue(); got != tt.value {
				t.Errorf("expected %v, got %v", tt.value, got)
			}
			if tt.col.More() != tt.more {
				t.Errorf("expected more=%v", tt.more)
			}
		})
	}

	bin := BinaryColumn([]byte{1, 2}, true)
	if got, ok := bin.ToValue().([]byte); !ok || !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("expected binary value, got %v", bin.ToValue())
	}
	if !bin.More() {
		t.Error("expected binary more flag")
	}
}
