package util

import (
	"time"
)

func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func IsWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// PreviousBusinessDay is the last weekday strictly before t. Exchange
// holidays are not modeled.
func PreviousBusinessDay(t time.Time) time.Time {
	d := DateOnly(t).AddDate(0, 0, -1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextBusinessDay is the first weekday strictly after t.
func NextBusinessDay(t time.Time) time.Time {
	d := DateOnly(t).AddDate(0, 0, 1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TradingDaysToCalendarDays converts a bar count to a calendar lookback
// with a week of padding.
func TradingDaysToCalendarDays(bars int) int {
	return (bars*365+251)/252 + 7
}
