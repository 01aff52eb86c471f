// Package timegrid holds the pure slot and date arithmetic every other
// component builds on. One date layout and one clock layout are canonical;
// anything crossing a package boundary is normalized to them first.
package timegrid

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the single canonical date form used as a lookup key
	// throughout the service.
	DateLayout = "2006-01-02"

	ClockLayout = "15:04"

	minutesPerDay = 24 * 60
)

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseClock returns minutes since midnight for an "HH:MM" string.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddMinutes adds minutes to an "HH:MM" clock string, wrapping past midnight.
func AddMinutes(clock string, minutes int) (string, error) {
	m, err := ParseClock(clock)
	if err != nil {
		return "", err
	}
	return formatClock(m + minutes), nil
}

// Slots lists every slot start from start to end inclusive, stepped by
// stepMinutes. An empty list is returned when end precedes start or the step
// is not positive.
func Slots(start, end string, stepMinutes int) ([]string, error) {
	if stepMinutes <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", stepMinutes)
	}
	from, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return nil, err
	}

	var slots []string
	for m := from; m <= to; m += stepMinutes {
		slots = append(slots, formatClock(m))
	}
	return slots, nil
}

// WeekdayIndex converts Go's Sunday-origin weekday to the canonical
// Monday=0..Sunday=6 encoding used by Schedule.AvailableDays.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// DateRange lists every canonical date from from to to inclusive.
func DateRange(from, to string) ([]string, error) {
	start, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, nil
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, FormatDate(d))
	}
	return dates, nil
}
