package engine

import (
	"testing"
	"time"

	"swapline/internal/domain"
)

func TestAtLeastDaysBoundaries(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		since time.Time
		days  int
		want  bool
	}{
		{now.Add(-3 * Day), 3, true},
		{now.Add(-3*Day + time.Second), 3, false},
		{now.Add(-14 * Day), 14, true},
		{now.Add(time.Hour), 0, true},
		{now.Add(time.Hour), 1, false},
	}
	for i, tc := range cases {
		if got := AtLeastDays(tc.since, now, tc.days); got != tc.want {
			t.Fatalf("case %d: AtLeastDays = %v, want %v", i, got, tc.want)
		}
	}
	if DaysElapsed(now.Add(-8*Day-time.Hour), now) != 8 {
		t.Fatalf("DaysElapsed rounding")
	}
	if Age(now.Add(time.Hour), now) != 0 {
		t.Fatalf("future timestamps have zero age")
	}
	if !Cutoff(now, time.Hour).Equal(now.Add(-time.Hour)) {
		t.Fatalf("cutoff")
	}
}

func TestRecurrenceIntervalAndPeriodKey(t *testing.T) {
	if d, ok := RecurrenceInterval(domain.RecurrenceDaily); !ok || d != Day {
		t.Fatalf("daily interval %v", d)
	}
	if d, ok := RecurrenceInterval(domain.RecurrenceWeekly); !ok || d != 7*Day {
		t.Fatalf("weekly interval %v", d)
	}
	if _, ok := RecurrenceInterval("monthly"); ok {
		t.Fatalf("monthly must be unsupported")
	}
	start := time.Date(2024, 12, 30, 9, 0, 0, 0, time.UTC)
	if got := PeriodKey(domain.RecurrenceWeekly, start); got != "2025-W01" {
		t.Fatalf("weekly key %s", got)
	}
	if got := PeriodKey(domain.RecurrenceDaily, start); got != "2024-12-30" {
		t.Fatalf("daily key %s", got)
	}
}
