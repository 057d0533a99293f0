package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"swapline/internal/docstore"
	"swapline/internal/domain"
)

// SystemActor is the actor recorded for engine-driven changes.
const SystemActor = "system"

// Event types written by the engine.
const (
	TradeReminderSent  = "trade.reminder_sent"
	TradeAutoCompleted = "trade.auto_completed"
	StatusTransitioned = "status.transitioned"
	ChallengeGenerated = "challenge.generated"
)

type Payload map[string]any

// Writer appends audit events to the batch carrying the change they describe,
// so the event commits or fails with it.
type Writer struct {
	Now     func() time.Time
	ActorID string
}

func (w Writer) Append(b docstore.Batch, evtType, entityKind, entityID string, payload Payload) domain.Event {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	actor := w.ActorID
	if actor == "" {
		actor = SystemActor
	}
	evt := domain.Event{
		ID:         uuid.NewString(),
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actor,
		Payload:    payload,
	}
	b.Create(domain.EventsCollection, evt.ID, evt)
	return evt
}

// Querier is the read side of the document store.
type Querier interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

// Tail returns the newest events first.
func Tail(ctx context.Context, q Querier, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := q.Query(ctx, docstore.Collection(domain.EventsCollection).Order("ts", true).Take(limit))
	if err != nil {
		return nil, err
	}
	return docstore.DecodeAll[domain.Event](docs)
}

// ForEntity returns the events recorded for one entity, oldest first.
func ForEntity(ctx context.Context, q Querier, entityID string) ([]domain.Event, error) {
	docs, err := q.Query(ctx, docstore.Collection(domain.EventsCollection).Where("entityId", docstore.Eq, entityID).Order("ts", false))
	if err != nil {
		return nil, err
	}
	return docstore.DecodeAll[domain.Event](docs)
}
