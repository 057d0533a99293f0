package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"swapline/internal/config"
	"swapline/internal/docstore"
	"swapline/internal/events"
	"swapline/internal/notify"
	"swapline/internal/retry"
)

// Store is the document store surface the engine relies on.
type Store interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	Exists(ctx context.Context, collection, id string) (bool, error)
	Batch() docstore.Batch
	Now() time.Time
}

type Engine struct {
	Store   Store
	Emitter notify.Emitter
	Events  events.Writer
	Config  *config.Config
	Retry   retry.Policy
	Now     func() time.Time
	Logger  *slog.Logger
}

func New(store *docstore.Store, emitter notify.Emitter, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:   store,
		Emitter: emitter,
		Events:  events.Writer{Now: store.Now},
		Config:  cfg,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Now: store.Now,
	}
}

// now is captured once per scan so every entity is judged against the same
// instant. It defaults to the store clock.
func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return e.Store.Now().UTC()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) retryPolicy() retry.Policy {
	p := e.Retry
	if p.Logger == nil {
		p.Logger = e.Logger
	}
	return p
}

func (e Engine) query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	return retry.Value(ctx, e.retryPolicy(), func(ctx context.Context) ([]docstore.Document, error) {
		docs, err := e.Store.Query(ctx, q)
		if err != nil && !isTransient(err) {
			return nil, retry.Permanent(err)
		}
		return docs, err
	})
}

func (e Engine) exists(ctx context.Context, collection, id string) (bool, error) {
	return retry.Value(ctx, e.retryPolicy(), func(ctx context.Context) (bool, error) {
		ok, err := e.Store.Exists(ctx, collection, id)
		if err != nil && !isTransient(err) {
			return false, retry.Permanent(err)
		}
		return ok, err
	})
}

func (e Engine) commit(ctx context.Context, b docstore.Batch) error {
	return e.retryPolicy().Run(ctx, func(ctx context.Context) error {
		err := b.Commit(ctx)
		if err != nil && !isTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

// isTransient reports whether an error may go away on a later attempt.
// Missing or duplicate documents, malformed queries and invalid
// notifications never will.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, docstore.ErrExists):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, docstore.ErrInvalidQuery), errors.Is(err, notify.ErrInvalidNotification):
		return false
	default:
		return true
	}
}

// EntityError reports a failure confined to one document. Scans collect them
// and keep going.
type EntityError struct {
	Collection string
	ID         string
	Err        error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// EntityErrors extracts the per-entity failures from a scan error.
func EntityErrors(err error) []*EntityError {
	var out []*EntityError
	var walk func(error)
	walk = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ee *EntityError
		if errors.As(err, &ee) {
			out = append(out, ee)
		}
	}
	walk(err)
	return out
}
