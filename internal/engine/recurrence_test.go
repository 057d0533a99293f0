package engine_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"swapline/internal/docstore"
	"swapline/internal/domain"
	"swapline/internal/engine"
)

func seedTemplate(t *testing.T, env *testEnv, id string, r domain.Recurrence) {
	t.Helper()
	env.put(t, domain.TemplatesCollection, id, domain.ChallengeTemplate{
		ID:          id,
		Recurrence:  r,
		Title:       "Swap " + id,
		Description: "Complete a swap",
		Category:    "community",
		Difficulty:  "easy",
		Rewards:     domain.Rewards{Points: 50, Badge: "swapper"},
	})
}

func TestDailyTemplateYieldsOneUpcomingChallenge(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(t, env, "daily-swap", domain.RecurrenceDaily)

	n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 challenge, got %d", n)
	}
	chs := env.challenges(t)
	if len(chs) != 1 {
		t.Fatalf("expected 1 stored challenge, got %d", len(chs))
	}
	ch := chs[0]
	if ch.Status != domain.ChallengeUpcoming || ch.CreatedBy != "system" || ch.TemplateID != "daily-swap" {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if !ch.StartDate.Equal(testNow.Add(24*time.Hour)) || !ch.EndDate.Equal(ch.StartDate.Add(24*time.Hour)) {
		t.Fatalf("unexpected window %s - %s", ch.StartDate, ch.EndDate)
	}
	if ch.Title != "Swap daily-swap" || ch.Rewards.Points != 50 || ch.Rewards.Badge != "swapper" || ch.Category != "community" {
		t.Fatalf("descriptive fields not copied: %+v", ch)
	}
	if ch.PeriodKey != "2024-06-16" || ch.ID != engine.ChallengeID("daily-swap", "2024-06-16") {
		t.Fatalf("unexpected period key %s / id %s", ch.PeriodKey, ch.ID)
	}
}

func TestWeeklyTemplateWindowAndUnsupportedIgnored(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(t, env, "weekly", domain.RecurrenceWeekly)
	seedTemplate(t, env, "monthly", domain.Recurrence("monthly"))

	n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected 1, got (%d, %v)", n, err)
	}
	ch := env.challenges(t)[0]
	if ch.TemplateID != "weekly" || !ch.StartDate.Equal(testNow.Add(7*24*time.Hour)) || !ch.EndDate.Equal(testNow.Add(14*24*time.Hour)) {
		t.Fatalf("unexpected weekly challenge %+v", ch)
	}
}

func TestGenerationIsIdempotentWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(t, env, "daily", domain.RecurrenceDaily)
	seedTemplate(t, env, "weekly", domain.RecurrenceWeekly)

	if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10); err != nil || n != 2 {
		t.Fatalf("first run: (%d, %v)", n, err)
	}
	if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10); err != nil || n != 0 {
		t.Fatalf("second run should create nothing: (%d, %v)", n, err)
	}
	if got := len(env.challenges(t)); got != 2 {
		t.Fatalf("expected 2 challenges, got %d", got)
	}

	// A day later the daily template opens a new window; the weekly one does not.
	later := testNow.Add(24 * time.Hour)
	env.Engine.Now = func() time.Time { return later }
	if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10); err != nil || n != 1 {
		t.Fatalf("next day: (%d, %v)", n, err)
	}
}

func TestGenerationWithoutDedupeDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Recurrence.Dedupe = false
	seedTemplate(t, env, "daily", domain.RecurrenceDaily)

	for i := 0; i < 2; i++ {
		if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10); err != nil || n != 1 {
			t.Fatalf("run %d: (%d, %v)", i, n, err)
		}
	}
	if got := len(env.challenges(t)); got != 2 {
		t.Fatalf("expected a duplicate per extra run, got %d", got)
	}
}

func TestGenerationHonoursLimitAndCommitFailure(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		seedTemplate(t, env, id, domain.RecurrenceDaily)
	}
	if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 2); err != nil || n != 2 {
		t.Fatalf("expected 2, got (%d, %v)", n, err)
	}

	env.Engine.Config.Recurrence.Dedupe = false
	env.Engine.Store = faultyStore{Store: env.Store, failCommitFor: "*"}
	if n, err := env.Engine.GenerateFromTemplates(env.Ctx, 3); err == nil || n != 0 {
		t.Fatalf("expected (0, err), got (%d, %v)", n, err)
	}
	if got := len(env.challenges(t)); got != 2 {
		t.Fatalf("failed commit must not create challenges, got %d", got)
	}
}

func TestExistsCheckRetriesOnlyTransientErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		calls int
	}{
		{"transient", errors.New("database is locked"), 3},
		{"permanent", fmt.Errorf("lookup: %w", docstore.ErrInvalidQuery), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			seedTemplate(t, env, "daily-swap", domain.RecurrenceDaily)
			calls := 0
			env.Engine.Store = faultyStore{Store: env.Store, existsErr: tc.err, existsCalls: &calls}

			n, err := env.Engine.GenerateFromTemplates(env.Ctx, 10)
			if !errors.Is(err, tc.err) || n != 0 {
				t.Fatalf("expected (0, %v), got (%d, %v)", tc.err, n, err)
			}
			if calls != tc.calls {
				t.Fatalf("expected %d exists attempts, got %d", tc.calls, calls)
			}
		})
	}
}
