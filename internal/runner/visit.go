package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultVisitInterval is the local rate limit between opportunistic runs.
const DefaultVisitInterval = 6 * time.Hour

// StateStore keeps the time of the last successful opportunistic run.
type StateStore interface {
	LastRun(ctx context.Context) (time.Time, bool, error)
	SetLastRun(ctx context.Context, t time.Time) error
}

// FileState stores the last run as an RFC 3339 timestamp in a file. A missing
// file means the runner has never run.
type FileState struct {
	Path string
}

func (f FileState) LastRun(context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %q: %w", raw, err)
	}
	return t, true, nil
}

func (f FileState) SetLastRun(_ context.Context, t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// VisitRunner runs the visit triggers when the stored last run is older than
// Interval, and records the run only when every trigger succeeded.
type VisitRunner struct {
	Engine   Engine
	State    StateStore
	Interval time.Duration
	Triggers []string
	Now      func() time.Time
	Logger   *slog.Logger
}

type VisitResult struct {
	Ran       bool      `json:"ran"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextDue   time.Time `json:"next_due"`
	Summaries []Summary `json:"summaries,omitempty"`
}

func (v VisitRunner) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v VisitRunner) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func (v VisitRunner) interval() time.Duration {
	if v.Interval > 0 {
		return v.Interval
	}
	return DefaultVisitInterval
}

func (v VisitRunner) triggers() []string {
	if len(v.Triggers) > 0 {
		return v.Triggers
	}
	return []string{TriggerHourly, TriggerDaily}
}

// Visit runs the visit triggers if they are due.
func (v VisitRunner) Visit(ctx context.Context) (VisitResult, error) {
	now := v.now()
	last, ok, err := v.State.LastRun(ctx)
	if err != nil {
		v.logger().Warn("unreadable visit state; treating as never run", "err", err)
		ok = false
	}
	if ok && last.After(now) {
		v.logger().Warn("last visit run is in the future; running now", "last_run", last, "now", now)
		ok = false
	}
	res := VisitResult{LastRun: last}
	if ok && now.Sub(last) < v.interval() {
		res.NextDue = last.Add(v.interval())
		v.logger().Debug("visit run not due", "last_run", last, "next_due", res.NextDue)
		return res, nil
	}

	res.Ran = true
	var errs []error
	for _, name := range v.triggers() {
		sum, err := Dispatch(ctx, v.Engine, name)
		res.Summaries = append(res.Summaries, sum)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		res.NextDue = now
		return res, err
	}
	if err := v.State.SetLastRun(ctx, now); err != nil {
		return res, fmt.Errorf("record visit run: %w", err)
	}
	res.LastRun = now
	res.NextDue = now.Add(v.interval())
	return res, nil
}
