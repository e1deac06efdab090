// Package cron evaluates standard 5-field cron expressions.
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12)
//	│ │ │ │ ┌───────────── day of week (0-6, Sunday=0)
//	│ │ │ │ │
//	* * * * *
//
// Supported tokens per field: "*", comma lists, "a-b" ranges, and
// "base/step" steps where base is "*", a value, or a range. All
// evaluation happens in UTC at minute granularity.
//
// # Day fields
//
// Day-of-month and day-of-week are combined as follows: a wildcard
// field defers to the other field; when neither is a wildcard, both
// must match. Matches and Next apply the same rule.
package cron
