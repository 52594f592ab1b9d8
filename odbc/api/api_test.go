package api

import "testing"

func TestTimestampRoundTrip(t *testing.T) {
	buf := make([]byte, TimestampOffsetStructSize)
	want := TimestampOffsetStruct{
		TimestampStruct: TimestampStruct{Year: 2000, Month: 2, Day: 29, Hour: 23, Minute: 59, Second: 58, Fraction: 123456789},
		TimezoneHour:    -5,
		TimezoneMinute:  -30,
	}
	if err := EncodeTimestampOffset(buf, want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTimestampOffset(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestDecodeTimestampShortBuffer(t *testing.T) {
	if _, err := DecodeTimestamp(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestReturnSucceeded(t *testing.T) {
	tests := []struct {
		ret  Return
		want bool
	}{
		{Success, true},
		{SuccessWithInfo, true},
		{StillExecuting, false},
		{NoData, false},
		{Error, false},
		{InvalidHandle, false},
	}
	for _, tt := range tests {
		if got := tt.ret.Succeeded(); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.ret, tt.want, got)
		}
	}
}
