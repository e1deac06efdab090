package cron

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseError describes a rejected cron expression.
type ParseError struct {
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %s", e.Expression, e.Reason)
}

// Expression is a parsed 5-field cron expression.
type Expression struct {
	text string

	minutes     fieldValues
	hours       fieldValues
	daysOfMonth fieldValues
	months      fieldValues
	daysOfWeek  fieldValues
}

// fieldValues is the resolved value set for one field, kept sorted.
// A successful parse never leaves it empty.
type fieldValues struct {
	values   []int
	wildcard bool
}

func (f fieldValues) contains(v int) bool {
	i := sort.SearchInts(f.values, v)
	return i < len(f.values) && f.values[i] == v
}

// next returns the smallest allowed value >= v.
func (f fieldValues) next(v int) (int, bool) {
	i := sort.SearchInts(f.values, v)
	if i == len(f.values) {
		return 0, false
	}
	return f.values[i], true
}

func (f fieldValues) first() int { return f.values[0] }

// Parse parses a whitespace-separated 5-field cron expression.
func Parse(expr string) (*Expression, error) {
	text := strings.TrimSpace(expr)
	fields := strings.Fields(text)
	if len(fields) != 5 {
		return nil, &ParseError{Expression: text, Reason: "expected 5 fields (minute hour day month weekday)"}
	}

	fail := func(reason string) (*Expression, error) {
		return nil, &ParseError{Expression: text, Reason: reason}
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return fail("minute field: " + err.Error())
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return fail("hour field: " + err.Error())
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return fail("day-of-month field: " + err.Error())
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return fail("month field: " + err.Error())
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return fail("day-of-week field: " + err.Error())
	}

	return &Expression{
		text:        text,
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: dom,
		months:      months,
		daysOfWeek:  dow,
	}, nil
}

// MustParse parses a known-good expression and panics on error.
// Intended for package-level presets and tests.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func parseField(s string, min, max int) (fieldValues, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		vals := make([]int, 0, max-min+1)
		for v := min; v <= max; v++ {
			vals = append(vals, v)
		}
		return fieldValues{values: vals, wildcard: true}, nil
	}

	set := map[int]struct{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.Contains(part, "/"):
			base, stepStr, _ := strings.Cut(part, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil {
				return fieldValues{}, fmt.Errorf("invalid step in %q", part)
			}
			if step <= 0 {
				return fieldValues{}, fmt.Errorf("step must be positive in %q", part)
			}

			var lo, hi int
			switch {
			case base == "*":
				lo, hi = min, max
			case strings.Contains(base, "-"):
				lo, hi, err = parseRange(base, min, max)
				if err != nil {
					return fieldValues{}, err
				}
			default:
				lo, err = strconv.Atoi(base)
				if err != nil {
					return fieldValues{}, fmt.Errorf("invalid value %q", base)
				}
				if lo < min || lo > max {
					return fieldValues{}, fmt.Errorf("value %d out of range %d-%d in %q", lo, min, max, part)
				}
				hi = max
			}
			for v := lo; v <= hi; v += step {
				set[v] = struct{}{}
			}

		case strings.Contains(part, "-"):
			lo, hi, err := parseRange(part, min, max)
			if err != nil {
				return fieldValues{}, err
			}
			for v := lo; v <= hi; v++ {
				set[v] = struct{}{}
			}

		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return fieldValues{}, fmt.Errorf("invalid value %q", part)
			}
			if v < min || v > max {
				return fieldValues{}, fmt.Errorf("value %d out of range %d-%d", v, min, max)
			}
			set[v] = struct{}{}
		}
	}

	if len(set) == 0 {
		return fieldValues{}, fmt.Errorf("no values in %q", s)
	}
	vals := make([]int, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Ints(vals)
	return fieldValues{values: vals}, nil
}

func parseRange(s string, min, max int) (int, int, error) {
	loStr, hiStr, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(loStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start in %q", s)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(hiStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end in %q", s)
	}
	if lo < min || hi > max || lo > hi {
		return 0, 0, fmt.Errorf("range %q out of bounds %d-%d", s, min, max)
	}
	return lo, hi, nil
}

// String returns the original expression text.
func (e *Expression) String() string { return e.text }

// dayOK applies the day-field rule: a wildcard field defers to the
// other one; when neither is a wildcard, both must match.
func (e *Expression) dayOK(t time.Time) bool {
	domMatch := e.daysOfMonth.contains(t.Day())
	dowMatch := e.daysOfWeek.contains(int(t.Weekday()))
	switch {
	case e.daysOfMonth.wildcard && e.daysOfWeek.wildcard:
		return true
	case e.daysOfMonth.wildcard:
		return dowMatch
	case e.daysOfWeek.wildcard:
		return domMatch
	default:
		return domMatch && dowMatch
	}
}

// Matches reports whether t (truncated to the minute, in UTC) satisfies
// the expression.
func (e *Expression) Matches(t time.Time) bool {
	t = t.UTC()
	return e.minutes.contains(t.Minute()) &&
		e.hours.contains(t.Hour()) &&
		e.months.contains(int(t.Month())) &&
		e.dayOK(t)
}

// Roughly four years of minutes; bounds the Next search so impossible
// combinations (e.g. Feb 30) terminate.
const maxSearchIterations = 366 * 24 * 60 * 4

// Next returns the first matching moment strictly after t, with seconds
// zeroed. ok is false when no occurrence exists within the search bound.
func (e *Expression) Next(after time.Time) (next time.Time, ok bool) {
	t := after.UTC().Add(time.Minute)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)

	for i := 0; i < maxSearchIterations; i++ {
		if !e.months.contains(int(t.Month())) {
			if m, ok := e.months.next(int(t.Month())); ok {
				t = advanceToMonth(t, time.Month(m))
			} else {
				t = time.Date(t.Year()+1, time.Month(e.months.first()), 1, 0, 0, 0, 0, time.UTC)
			}
			continue
		}

		if !e.dayOK(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}

		if !e.hours.contains(t.Hour()) {
			if h, ok := e.hours.next(t.Hour()); ok {
				t = time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, time.UTC)
			} else {
				t = time.Date(t.Year(), t.Month(), t.Day(), e.hours.first(), 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			}
			continue
		}

		if !e.minutes.contains(t.Minute()) {
			if m, ok := e.minutes.next(t.Minute()); ok {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, time.UTC)
			} else {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), e.minutes.first(), 0, 0, time.UTC).Add(time.Hour)
			}
			continue
		}

		return t, true
	}

	return time.Time{}, false
}

// advanceToMonth moves t to the first minute of the given month,
// rolling into next year when the month is not ahead of t's.
func advanceToMonth(t time.Time, month time.Month) time.Time {
	year := t.Year()
	if month <= t.Month() {
		year++
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Between returns all occurrences strictly after start and at or before
// end, in ascending order.
func (e *Expression) Between(start, end time.Time) []time.Time {
	var out []time.Time
	cur := start
	for {
		next, ok := e.Next(cur)
		if !ok || next.After(end) {
			return out
		}
		out = append(out, next)
		cur = next
	}
}

// Describe returns a short human-readable summary for common patterns.
func (e *Expression) Describe() string {
	switch e.text {
	case "* * * * *":
		return "every minute"
	case "0 * * * *":
		return "every hour"
	case "0 0 * * *":
		return "daily at midnight"
	case "0 0 * * 0":
		return "weekly on Sunday"
	case "0 0 1 * *":
		return "monthly on the 1st"
	}
	return "cron: " + e.text
}
