// Package notify delivers user notifications produced by the engine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"swapline/internal/domain"
)

// ErrInvalidNotification marks a notification no retry can deliver.
var ErrInvalidNotification = errors.New("invalid notification")

// Emitter delivers one notification.
type Emitter interface {
	Emit(ctx context.Context, n domain.Notification) error
}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, n domain.Notification) error

func (f Func) Emit(ctx context.Context, n domain.Notification) error { return f(ctx, n) }

// Creator is the part of the document store StoreEmitter needs.
type Creator interface {
	Create(ctx context.Context, collection, id string, v any) error
}

// StoreEmitter persists notifications in the notifications collection.
type StoreEmitter struct {
	Store Creator
	Now   func() time.Time
}

func (s StoreEmitter) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Emit fills id, createdAt and read before writing.
func (s StoreEmitter) Emit(ctx context.Context, n domain.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	n.Read = false
	return s.Store.Create(ctx, domain.NotificationsCollection, n.ID, n)
}

// Fanout emits to Primary and then to every secondary emitter. Only the
// primary's error is returned; secondary failures are logged.
type Fanout struct {
	Primary     Emitter
	Secondaries []Emitter
	Logger      *slog.Logger
}

func (f Fanout) Emit(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := f.Primary.Emit(ctx, n); err != nil {
		return err
	}
	for _, e := range f.Secondaries {
		if err := e.Emit(ctx, n); err != nil {
			f.logger().Warn("secondary notification delivery failed", "user_id", n.UserID, "type", n.Type, "err", err)
		}
	}
	return nil
}

func (f Fanout) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
