package cron

import "testing"

func TestPresets(t *testing.T) {
	t.Parallel()
	if got := EveryMinute().String(); got != "* * * * *" {
		t.Fatalf("EveryMinute = %q", got)
	}
	if got := Hourly().String(); got != "0 * * * *" {
		t.Fatalf("Hourly = %q", got)
	}
	if got := Daily().String(); got != "0 0 * * *" {
		t.Fatalf("Daily = %q", got)
	}
	if got := Weekly().String(); got != "0 0 * * 0" {
		t.Fatalf("Weekly = %q", got)
	}
	if got := Monthly().String(); got != "0 0 1 * *" {
		t.Fatalf("Monthly = %q", got)
	}

	e, err := DailyAt(9)
	if err != nil {
		t.Fatalf("DailyAt(9): %v", err)
	}
	if got := e.String(); got != "0 9 * * *" {
		t.Fatalf("DailyAt(9) = %q", got)
	}

	e, err = WeekdaysAt(18)
	if err != nil {
		t.Fatalf("WeekdaysAt(18): %v", err)
	}
	if got := e.String(); got != "0 18 * * 1-5" {
		t.Fatalf("WeekdaysAt(18) = %q", got)
	}

	e, err = EveryNMinutes(5)
	if err != nil {
		t.Fatalf("EveryNMinutes(5): %v", err)
	}
	if got := e.String(); got != "*/5 * * * *" {
		t.Fatalf("EveryNMinutes(5) = %q", got)
	}

	e, err = EveryNHours(6)
	if err != nil {
		t.Fatalf("EveryNHours(6): %v", err)
	}
	if !e.hours.contains(0) || !e.hours.contains(6) || !e.hours.contains(12) || !e.hours.contains(18) {
		t.Fatalf("EveryNHours(6) hours = %v", e.hours.values)
	}
}

func TestPresetArgumentValidation(t *testing.T) {
	t.Parallel()
	if _, err := DailyAt(24); err == nil {
		t.Fatal("DailyAt(24) should fail")
	}
	if _, err := EveryNMinutes(0); err == nil {
		t.Fatal("EveryNMinutes(0) should fail")
	}
}
