package cron

import "fmt"

// Convenience constructors for common schedules. All are thin wrappers
// over Parse; the ones taking arguments return Parse's error when the
// argument is out of the field's domain.

// EveryMinute runs every minute.
func EveryMinute() *Expression { return MustParse("* * * * *") }

// Hourly runs at minute 0 of every hour.
func Hourly() *Expression { return MustParse("0 * * * *") }

// Daily runs at midnight.
func Daily() *Expression { return MustParse("0 0 * * *") }

// DailyAt runs every day at the given hour.
func DailyAt(hour int) (*Expression, error) {
	return Parse(fmt.Sprintf("0 %d * * *", hour))
}

// Weekly runs on Sunday at midnight.
func Weekly() *Expression { return MustParse("0 0 * * 0") }

// Monthly runs on the 1st at midnight.
func Monthly() *Expression { return MustParse("0 0 1 * *") }

// WeekdaysAt runs Monday through Friday at the given hour.
func WeekdaysAt(hour int) (*Expression, error) {
	return Parse(fmt.Sprintf("0 %d * * 1-5", hour))
}

// EveryNMinutes runs every n minutes within the hour.
func EveryNMinutes(n int) (*Expression, error) {
	return Parse(fmt.Sprintf("*/%d * * * *", n))
}

// EveryNHours runs at minute 0 every n hours within the day.
func EveryNHours(n int) (*Expression, error) {
	return Parse(fmt.Sprintf("0 */%d * * *", n))
}
