package odbc

import (
	"fmt"

	"github.com/tomyedwab/odbcbridge/odbc/api"
	"github.com/tomyedwab/odbcbridge/types"
)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
	nsPerMs     = 1_000_000
)

// Days before the first of each month in a common year.
var daysBeforeMonth = [12]int64{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isLeapYear(y int64) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// daysFromYear is the number of days from 1970-01-01 to January 1st of y
// on the proleptic Gregorian calendar.
func daysFromYear(y int64) int64 {
	return 365*(y-1970) + floorDiv(y-1969, 4) - floorDiv(y-1901, 100) + floorDiv(y-1601, 400)
}

func daysFromDate(y, m, d int64) int64 {
	day := daysFromYear(y) + daysBeforeMonth[m-1]
	if m > 2 && isLeapYear(y) {
		day++
	}
	return day + d - 1
}

// timestampToDate converts a broken-down timestamp at the given UTC
// offset to epoch milliseconds in UTC. The whole milliseconds of the
// fraction fold into Millis; the remainder is kept in Nanos.
func timestampToDate(ts api.TimestampStruct, tzHour, tzMinute int16) (types.Date, error) {
	if ts.Month < 1 || ts.Month > 12 {
		return types.Date{}, NewInvalidStateError(fmt.Sprintf("invalid timestamp month %d", ts.Month))
	}
	day := daysFromDate(int64(ts.Year), int64(ts.Month), int64(ts.Day))
	ms := day*msPerDay +
		int64(ts.Hour)*msPerHour +
		int64(ts.Minute)*msPerMinute +
		int64(ts.Second)*msPerSecond +
		int64(ts.Fraction/nsPerMs)
	ms -= (int64(tzHour)*60 + int64(tzMinute)) * msPerMinute
	return types.Date{
		Millis: float64(ms),
		Nanos:  int32(ts.Fraction % nsPerMs),
	}, nil
}
