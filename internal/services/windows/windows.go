// Package windows partitions a trailing span of days into month-aligned
// reporting windows.
package windows

import (
	"time"

	"ospoolreport/internal/domain"
)

// Generate returns the windows covering the days before now, newest first.
// Every window starts on the anchor day (the day of month of now), clipped to
// 30 in 30-day months and to 28 in February. Clipping is not leap-year aware.
func Generate(now time.Time, days int) []domain.TimeWindow {
	if days <= 0 {
		return nil
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	anchor := end.Day()
	stop := end.AddDate(0, 0, -days)

	var out []domain.TimeWindow
	for end.After(stop) {
		start := previousMonth(end, anchor)
		out = append(out, domain.TimeWindow{Start: start, End: end})
		end = start
	}
	return out
}

func previousMonth(t time.Time, anchor int) time.Time {
	year, month := t.Year(), t.Month()-1
	if month < time.January {
		month = time.December
		year--
	}
	day := anchor
	switch month {
	case time.April, time.June, time.September, time.November:
		if day > 30 {
			day = 30
		}
	case time.February:
		if day > 28 {
			day = 28
		}
	}
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
