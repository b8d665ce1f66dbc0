package caldate

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseAndString(t *testing.T) {
	d, err := Parse("2026-01-20")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Year() != 2026 || d.Month() != time.January || d.Day() != 20 {
		t.Fatalf("unexpected components %v", d)
	}
	if d.String() != "2026-01-20" {
		t.Fatalf("unexpected string %q", d.String())
	}
	for _, bad := range []string{"", "2026-1-20", "20-01-2026", "2026-02-30", "2026-01-20T00:00:00Z"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
	}{
		{"2026-01-20", "2026-01-22", 2},
		{"2026-01-20", "2026-01-20", 0},
		{"2026-01-22", "2026-01-20", -2},
		{"2026-02-27", "2026-03-02", 3},
		{"2028-02-28", "2028-03-01", 2},
		{"2026-12-31", "2027-01-01", 1},
		{"1900-01-01", "2300-01-01", 146097},
		{"2300-01-01", "1900-01-01", -146097},
		{"0001-01-01", "9999-12-31", 3652058},
	}
	for _, tc := range cases {
		got := MustParse(tc.start).DaysUntil(MustParse(tc.end))
		if got != tc.want {
			t.Fatalf("%s..%s: expected %d, got %d", tc.start, tc.end, tc.want, got)
		}
	}
}

func TestSpanAcrossCenturies(t *testing.T) {
	start := MustParse("1900-01-01")
	span := Span(start, MustParse("2300-01-01"))
	if len(span) != 146097 {
		t.Fatalf("expected 146097 days, got %d", len(span))
	}
	if last := span[len(span)-1].String(); last != "2299-12-31" {
		t.Fatalf("expected last day 2299-12-31, got %s", last)
	}
}

func TestSpanIsHalfOpen(t *testing.T) {
	span := Span(MustParse("2026-01-20"), MustParse("2026-01-22"))
	if len(span) != 2 || span[0].String() != "2026-01-20" || span[1].String() != "2026-01-21" {
		t.Fatalf("unexpected span %v", span)
	}
	if Span(MustParse("2026-01-22"), MustParse("2026-01-22")) != nil {
		t.Fatal("expected empty span")
	}
}

func TestCompare(t *testing.T) {
	a := MustParse("2026-01-20")
	b := a.AddDays(1)
	if !a.Before(b) || !b.After(a) || a.After(b) || !a.Equal(MustParse("2026-01-20")) {
		t.Fatal("unexpected ordering")
	}
	if MustParse("2025-12-31").Compare(MustParse("2026-01-01")) != -1 {
		t.Fatal("expected year boundary ordering")
	}
}

func TestOfUsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	ts := time.Date(2026, 1, 20, 23, 30, 0, 0, time.UTC).In(loc)
	if got := Of(ts).String(); got != "2026-01-21" {
		t.Fatalf("expected local calendar day, got %s", got)
	}
}

func TestJSONAndScan(t *testing.T) {
	type payload struct {
		CheckIn Date `json:"check_in"`
	}
	var p payload
	if err := json.Unmarshal([]byte(`{"check_in":"2026-01-20"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"check_in":"2026-01-20"}` {
		t.Fatalf("unexpected json %s", out)
	}
	if err := json.Unmarshal([]byte(`{"check_in":"tomorrow"}`), &p); err == nil {
		t.Fatal("expected invalid date to fail")
	}

	var d Date
	if err := d.Scan(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)); err != nil || d.String() != "2026-01-20" {
		t.Fatalf("scan time: %v %v", d, err)
	}
	if err := d.Scan([]byte("2026-01-21T00:00:00Z")); err != nil || d.String() != "2026-01-21" {
		t.Fatalf("scan bytes: %v %v", d, err)
	}
	if err := d.Scan(42); err == nil {
		t.Fatal("expected scan of int to fail")
	}
	v, err := MustParse("2026-01-20").Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if tv, ok := v.(time.Time); !ok || !tv.Equal(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected driver value %v", v)
	}
}

func TestTodayUsesUTC(t *testing.T) {
	loc := time.FixedZone("east", 10*60*60)
	now := func() time.Time { return time.Date(2026, 3, 2, 5, 0, 0, 0, loc) }
	if got := Today(now); got != New(2026, 3, 1) {
		t.Fatalf("expected 2026-03-01, got %s", got)
	}
}
