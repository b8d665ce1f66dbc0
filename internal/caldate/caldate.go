// Package caldate provides a calendar date without time or zone, the unit
// in which availability is counted and stays are expressed.
package caldate

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Layout is the wire and storage representation (YYYY-MM-DD).
const Layout = "2006-01-02"

// Date is a proleptic Gregorian calendar date. The zero value is not a valid
// date and reports IsZero.
type Date struct {
	year  int
	month time.Month
	day   int
}

// New returns the date for y-m-d, normalizing overflow the way time.Date does.
func New(year int, month time.Month, day int) Date {
	return Of(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Of returns the calendar date of t in t's own location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}
}

// Today returns the current UTC date according to now.
func Today(now func() time.Time) Date {
	return Of(now().UTC())
}

// Parse parses a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("caldate: parse %q: expected YYYY-MM-DD", s)
	}
	return Of(t), nil
}

// MustParse is Parse that panics on error, for constants and tests.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Year returns the year component.
func (d Date) Year() int { return d.year }

// Month returns the month component.
func (d Date) Month() time.Month { return d.month }

// Day returns the day-of-month component.
func (d Date) Day() int { return d.day }

// IsZero reports whether d is the zero value.
func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC at the start of d.
func (d Date) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns d shifted by n days (n may be negative).
func (d Date) AddDays(n int) Date {
	return New(d.year, d.month, d.day+n)
}

const secondsPerDay = 24 * 60 * 60

// DaysUntil returns the number of nights in the half-open range [d, end),
// rounded up to whole days. It is zero or negative when end is not after d.
// Counted in Unix seconds; a time.Duration saturates past ~292 years.
func (d Date) DaysUntil(end Date) int {
	secs := end.Time().Unix() - d.Time().Unix()
	days := secs / secondsPerDay
	if secs%secondsPerDay > 0 {
		days++
	}
	return int(days)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after other.
func (d Date) Compare(other Date) int {
	switch {
	case d.year != other.year:
		return cmpInt(d.year, other.year)
	case d.month != other.month:
		return cmpInt(int(d.month), int(other.month))
	default:
		return cmpInt(d.day, other.day)
	}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

// Equal reports whether d and other are the same day.
func (d Date) Equal(other Date) bool { return d == other }

// Span lists every date in [start, end) in ascending order.
func Span(start, end Date) []Date {
	n := start.DaysUntil(end)
	if n <= 0 {
		return nil
	}
	out := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.AddDays(i))
	}
	return out
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(Layout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// zero Date.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer so dates can be bound to DATE columns.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Time(), nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Of(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(firstTen(v)))
	case []byte:
		return d.UnmarshalText([]byte(firstTen(string(v))))
	default:
		return fmt.Errorf("caldate: cannot scan %T", src)
	}
}

func firstTen(s string) string {
	if len(s) > len(Layout) {
		return s[:len(Layout)]
	}
	return s
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
