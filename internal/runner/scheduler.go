package runner

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Scheduler runs triggers on their cadences until its context ends. Runs
// never overlap: ticks are queued to one loop and run in order.
type Scheduler struct {
	Engine   Engine
	Cadences map[string]time.Duration
	// RunAtStart fires every trigger once before the first tick.
	RunAtStart bool
	Logger     *slog.Logger
	// OnRun observes every finished run.
	OnRun func(Summary, error)
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run blocks until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	names := make([]string, 0, len(s.Cadences))
	for name, every := range s.Cadences {
		if every > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	due := make(chan string, len(names))
	for _, name := range names {
		go s.tick(ctx, name, s.Cadences[name], due)
	}
	s.logger().Info("scheduler started", "triggers", names)

	if s.RunAtStart {
		for _, name := range names {
			if ctx.Err() != nil {
				break
			}
			s.run(ctx, name)
		}
	}
	for {
		select {
		case <-ctx.Done():
			s.logger().Info("scheduler stopped")
			return ctx.Err()
		case name := <-due:
			s.run(ctx, name)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, name string, every time.Duration, due chan<- string) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case due <- name:
			default:
				s.logger().Warn("trigger still pending; dropping tick", "trigger", name)
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string) {
	sum, err := Dispatch(ctx, s.Engine, name)
	if err != nil {
		s.logger().Error("scheduled trigger failed", "trigger", name, "duration", sum.Duration, "err", err)
	} else {
		s.logger().Info("scheduled trigger finished", "trigger", name, "duration", sum.Duration)
	}
	if s.OnRun != nil {
		s.OnRun(sum, err)
	}
}
