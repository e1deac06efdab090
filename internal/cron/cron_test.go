package cron

import (
	"testing"
	"time"
)

func mustUTC(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestParseFieldSets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		expr    string
		want    []int
		notWant []int
		field   func(*Expression) fieldValues
	}{
		{
			name: "step minutes", expr: "*/15 * * * *",
			want: []int{0, 15, 30, 45}, notWant: []int{5, 59},
			field: func(e *Expression) fieldValues { return e.minutes },
		},
		{
			name: "hour range", expr: "0 9-17 * * *",
			want: []int{9, 13, 17}, notWant: []int{8, 18},
			field: func(e *Expression) fieldValues { return e.hours },
		},
		{
			name: "weekend list", expr: "0 0 * * 0,6",
			want: []int{0, 6}, notWant: []int{1, 5},
			field: func(e *Expression) fieldValues { return e.daysOfWeek },
		},
		{
			name: "range with step", expr: "1-10/2 * * * *",
			want: []int{1, 3, 5, 7, 9}, notWant: []int{2, 10},
			field: func(e *Expression) fieldValues { return e.minutes },
		},
		{
			name: "value base step", expr: "5/20 * * * *",
			want: []int{5, 25, 45}, notWant: []int{0, 20},
			field: func(e *Expression) fieldValues { return e.minutes },
		},
		{
			name: "mixed list", expr: "0,30-32,50 * * * *",
			want: []int{0, 30, 31, 32, 50}, notWant: []int{29, 33},
			field: func(e *Expression) fieldValues { return e.minutes },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			f := tt.field(e)
			for _, v := range tt.want {
				if !f.contains(v) {
					t.Fatalf("%q: expected %d in set %v", tt.expr, v, f.values)
				}
			}
			for _, v := range tt.notWant {
				if f.contains(v) {
					t.Fatalf("%q: did not expect %d in set %v", tt.expr, v, f.values)
				}
			}
		})
	}
}

func TestParseWildcardFlags(t *testing.T) {
	t.Parallel()
	e := MustParse("* * * * *")
	if !e.minutes.wildcard || !e.hours.wildcard || !e.daysOfMonth.wildcard || !e.months.wildcard || !e.daysOfWeek.wildcard {
		t.Fatal("expected all fields to be wildcards")
	}
	e = MustParse("0 * * * *")
	if e.minutes.wildcard {
		t.Fatal("minute field should not be a wildcard")
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "* 25 * * *"},
		{"month out of range", "* * * 13 *"},
		{"weekday out of range", "* * * * 7"},
		{"zero step", "*/0 * * * *"},
		{"negative step", "*/-5 * * * *"},
		{"inverted range", "* 17-9 * * *"},
		{"garbage value", "x * * * *"},
		{"empty expression", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.expr)
			}
			var pe *ParseError
			if !asParseError(err, &pe) {
				t.Fatalf("Parse(%q) error %T, want *ParseError", tt.expr, err)
			}
		})
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestMatches(t *testing.T) {
	t.Parallel()
	e := MustParse("30 14 * * *")
	if !e.Matches(mustUTC(2024, time.January, 15, 14, 30)) {
		t.Fatal("expected 14:30 to match")
	}
	if e.Matches(mustUTC(2024, time.January, 15, 14, 31)) {
		t.Fatal("14:31 should not match")
	}
}

func TestMatchesDayFieldRule(t *testing.T) {
	t.Parallel()

	// 2024-01-15 is a Monday (weekday 1).
	monday15th := mustUTC(2024, time.January, 15, 0, 0)
	tuesday16th := mustUTC(2024, time.January, 16, 0, 0)

	// Neither day field is a wildcard: AND.
	and := MustParse("0 0 15 * 1")
	if !and.Matches(monday15th) {
		t.Fatal("AND rule: day 15 and Monday should match")
	}
	if and.Matches(tuesday16th) {
		t.Fatal("AND rule: Tuesday the 16th should not match")
	}

	// Day-of-week is a wildcard: day-of-month alone decides.
	domOnly := MustParse("0 0 15 * *")
	if !domOnly.Matches(monday15th) || domOnly.Matches(tuesday16th) {
		t.Fatal("wildcard dow: only the 15th should match")
	}

	// Day-of-month is a wildcard: day-of-week alone decides.
	dowOnly := MustParse("0 0 * * 1")
	if !dowOnly.Matches(monday15th) || dowOnly.Matches(tuesday16th) {
		t.Fatal("wildcard dom: only Mondays should match")
	}
	monday22nd := mustUTC(2024, time.January, 22, 0, 0)
	if !dowOnly.Matches(monday22nd) {
		t.Fatal("wildcard dom: every Monday should match")
	}
}

func TestNextHourly(t *testing.T) {
	t.Parallel()
	e := MustParse("0 * * * *")
	next, ok := e.Next(mustUTC(2024, time.January, 15, 14, 30))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := mustUTC(2024, time.January, 15, 15, 0); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestNextStrictlyIncreasingAndMatching(t *testing.T) {
	t.Parallel()
	exprs := []string{"*/15 * * * *", "0 9-17 * * 1-5", "30 2 1 * *", "0 0 * * 0,6"}
	for _, raw := range exprs {
		e := MustParse(raw)
		cur := mustUTC(2024, time.February, 28, 23, 45)
		for i := 0; i < 20; i++ {
			next, ok := e.Next(cur)
			if !ok {
				t.Fatalf("%q: no occurrence after %v", raw, cur)
			}
			if !next.After(cur) {
				t.Fatalf("%q: Next(%v) = %v is not strictly after", raw, cur, next)
			}
			if !e.Matches(next) {
				t.Fatalf("%q: Next returned non-matching %v", raw, next)
			}
			if next.Second() != 0 || next.Nanosecond() != 0 {
				t.Fatalf("%q: Next returned sub-minute precision %v", raw, next)
			}
			cur = next
		}
	}
}

func TestNextJumpsAcrossMonthBoundary(t *testing.T) {
	t.Parallel()
	// Only valid in March; asking from January must jump months, not scan.
	e := MustParse("0 12 1 3 *")
	next, ok := e.Next(mustUTC(2024, time.January, 10, 0, 0))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := mustUTC(2024, time.March, 1, 12, 0); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestNextRollsIntoNextYear(t *testing.T) {
	t.Parallel()
	e := MustParse("0 0 1 1 *")
	next, ok := e.Next(mustUTC(2024, time.June, 1, 0, 0))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := mustUTC(2025, time.January, 1, 0, 0); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestNextImpossibleDateExhausts(t *testing.T) {
	t.Parallel()
	// February 30th never exists; the search bound must kick in.
	e := MustParse("0 0 30 2 *")
	if _, ok := e.Next(mustUTC(2024, time.January, 1, 0, 0)); ok {
		t.Fatal("expected no occurrence for Feb 30")
	}
}

func TestNextDayRuleAnd(t *testing.T) {
	t.Parallel()
	// Neither day field is a wildcard, so both must match: the next
	// 15th that is also a Monday after Jan 1 2024 is Jan 15 2024.
	and := MustParse("0 0 15 * 1")
	next, ok := and.Next(mustUTC(2024, time.January, 1, 0, 0))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := mustUTC(2024, time.January, 15, 0, 0); !next.Equal(want) {
		t.Fatalf("AND rule Next = %v, want %v", next, want)
	}
	// After that, the next 15th that is a Monday is Apr 15 2024.
	next2, ok := and.Next(next)
	if !ok {
		t.Fatal("expected a second occurrence")
	}
	if want := mustUTC(2024, time.April, 15, 0, 0); !next2.Equal(want) {
		t.Fatalf("AND rule second Next = %v, want %v", next2, want)
	}
}

func TestBetween(t *testing.T) {
	t.Parallel()
	e := MustParse("0 * * * *")
	start := mustUTC(2024, time.January, 15, 10, 30)
	end := mustUTC(2024, time.January, 15, 13, 0)

	got := e.Between(start, end)
	want := []time.Time{
		mustUTC(2024, time.January, 15, 11, 0),
		mustUTC(2024, time.January, 15, 12, 0),
		mustUTC(2024, time.January, 15, 13, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("Between returned %d occurrences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("Between[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	if got := MustParse("* * * * *").Describe(); got != "every minute" {
		t.Fatalf("Describe = %q", got)
	}
	if got := MustParse("*/5 * * * *").Describe(); got != "cron: */5 * * * *" {
		t.Fatalf("Describe = %q", got)
	}
}
