package engine

import (
	"fmt"
	"time"

	"swapline/internal/domain"
)

const Day = 24 * time.Hour

// Age is the time elapsed from since to now, never negative.
func Age(since, now time.Time) time.Duration {
	if now.Before(since) {
		return 0
	}
	return now.Sub(since)
}

// DaysElapsed counts whole days from since to now.
func DaysElapsed(since, now time.Time) int {
	return int(Age(since, now) / Day)
}

// AtLeastDays reports whether since is at least days whole days before now.
func AtLeastDays(since, now time.Time, days int) bool {
	return Age(since, now) >= time.Duration(days)*Day
}

// Cutoff is the newest timestamp that is already at least after old at now.
func Cutoff(now time.Time, after time.Duration) time.Time {
	return now.Add(-after)
}

// RecurrenceInterval returns the window length of a supported recurrence.
func RecurrenceInterval(r domain.Recurrence) (time.Duration, bool) {
	switch r {
	case domain.RecurrenceDaily:
		return Day, true
	case domain.RecurrenceWeekly:
		return 7 * Day, true
	default:
		return 0, false
	}
}

// PeriodKey names the recurrence window containing start: the UTC date for
// daily templates, the ISO week for weekly ones.
func PeriodKey(r domain.Recurrence, start time.Time) string {
	start = start.UTC()
	switch r {
	case domain.RecurrenceWeekly:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return start.Format("2006-01-02")
	}
}
