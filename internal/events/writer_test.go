package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapline/internal/db"
	"swapline/internal/docstore"
	"swapline/internal/events"
	"swapline/internal/migrate"
)

func TestAppendCommitsWithBatchAndTails(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	store := docstore.New(conn)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	w := events.Writer{Now: func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}}

	b := store.Batch()
	first := w.Append(b, events.TradeReminderSent, "trade", "t1", events.Payload{"reminder": 1})
	w.Append(b, events.TradeAutoCompleted, "trade", "t2", nil)
	w.Append(b, events.TradeReminderSent, "trade", "t1", events.Payload{"reminder": 2})
	assert.Equal(t, events.SystemActor, first.ActorID)

	got, err := events.Tail(ctx, store, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "nothing is visible before commit")

	require.NoError(t, b.Commit(ctx))

	got, err = events.Tail(ctx, store, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].EntityID)
	assert.Equal(t, float64(2), got[0].Payload["reminder"])
	assert.Equal(t, events.TradeAutoCompleted, got[1].Type)

	forT1, err := events.ForEntity(ctx, store, "t1")
	require.NoError(t, err)
	require.Len(t, forT1, 2)
	assert.Equal(t, first.ID, forT1[0].ID)
}
