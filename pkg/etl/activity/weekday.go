package activity

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/duckdb/duckdb-go/v2"
)

// WeekdayFunc is the name the weekday scalar function is registered under.
const WeekdayFunc = "weekday_name"

// weekdayNames is indexed by day of week counted from Monday.
var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayName returns the English name of the weekday of t's calendar date.
func WeekdayName(t time.Time) string {
	y, m, d := t.Date()
	days := daysFromCivil(y, int(m), d)
	// 1970-01-01 was a Thursday, index 3.
	idx := (days + 3) % 7
	if idx < 0 {
		idx += 7
	}
	return weekdayNames[idx]
}

// daysFromCivil returns the number of days between 1970-01-01 and the given proleptic Gregorian date.
func daysFromCivil(y, m, d int) int {
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	mp := (m + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// Registrar registers scalar functions with a compute session.
type Registrar interface {
	RegisterScalarFunc(name string, fn duckdb.ScalarFunc) error
}

// RegisterFunctions registers the scalar functions the activity queries depend on. It must be
// called once per session before Process.
func RegisterFunctions(r Registrar) error {
	return r.RegisterScalarFunc(WeekdayFunc, weekdayFunc{})
}

type weekdayFunc struct{}

func (weekdayFunc) Config() duckdb.ScalarFuncConfig {
	tsInfo, err := duckdb.NewTypeInfo(duckdb.TYPE_TIMESTAMP)
	if err != nil {
		panic(err)
	}
	varcharInfo, err := duckdb.NewTypeInfo(duckdb.TYPE_VARCHAR)
	if err != nil {
		panic(err)
	}
	return duckdb.ScalarFuncConfig{
		InputTypeInfos: []duckdb.TypeInfo{tsInfo},
		ResultTypeInfo: varcharInfo,
	}
}

func (weekdayFunc) Executor() duckdb.ScalarFuncExecutor {
	return duckdb.ScalarFuncExecutor{RowExecutor: weekdayRow}
}

func weekdayRow(values []driver.Value) (any, error) {
	t, ok := values[0].(time.Time)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected argument type %T", WeekdayFunc, values[0])
	}
	return WeekdayName(t), nil
}
