// Package runner decides when engine passes run. Dispatch maps trigger names
// to engine entry points; Scheduler fires them on fixed cadences; VisitRunner
// fires them opportunistically, at most once per visit interval.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapline/internal/engine"
)

const (
	TriggerHourly = "hourly"
	TriggerDaily  = "daily"
	TriggerWeekly = "weekly"
)

var ErrUnknownTrigger = errors.New("unknown trigger")

// Engine is the set of passes a trigger can run.
type Engine interface {
	RunTransitions(ctx context.Context) (engine.TransitionSummary, error)
	ProcessPendingTrades(ctx context.Context) (engine.EscalationSummary, error)
	GenerateFromTemplates(ctx context.Context, limit int) (int, error)
}

type Summary struct {
	Trigger     string                    `json:"trigger"`
	StartedAt   time.Time                 `json:"started_at"`
	Duration    time.Duration             `json:"duration_ns"`
	Transitions *engine.TransitionSummary `json:"transitions,omitempty"`
	Escalation  *engine.EscalationSummary `json:"escalation,omitempty"`
	Generated   *int                      `json:"generated,omitempty"`
}

// Dispatch runs the pass behind trigger. The returned error is the pass
// error unchanged, so callers see per-entity failures too.
func Dispatch(ctx context.Context, e Engine, trigger string) (Summary, error) {
	sum := Summary{Trigger: trigger, StartedAt: time.Now().UTC()}
	var err error
	switch trigger {
	case TriggerHourly:
		var ts engine.TransitionSummary
		ts, err = e.RunTransitions(ctx)
		sum.Transitions = &ts
	case TriggerDaily:
		var es engine.EscalationSummary
		es, err = e.ProcessPendingTrades(ctx)
		sum.Escalation = &es
	case TriggerWeekly:
		var n int
		n, err = e.GenerateFromTemplates(ctx, 0)
		sum.Generated = &n
	default:
		return sum, fmt.Errorf("%w: %q", ErrUnknownTrigger, trigger)
	}
	sum.Duration = time.Since(sum.StartedAt)
	if err != nil {
		return sum, fmt.Errorf("trigger %s: %w", trigger, err)
	}
	return sum, nil
}
