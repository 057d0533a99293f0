package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapline/internal/config"
	"swapline/internal/docstore"
	"swapline/internal/domain"
)

func writeFixtures(t *testing.T, dir string, requestedAt time.Time) string {
	t.Helper()
	path := filepath.Join(dir, "fixtures.yml")
	doc := fmt.Sprintf(`trades:
  - id: t1
    status: pending_confirmation
    creatorId: alice
    participantId: bob
    completionRequestedBy: alice
    completionRequestedAt: %s
templates:
  - id: daily-walk
    recurrence: daily
    title: Walk 5k
    rewards: {points: 10}
`, requestedAt.UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestImportThenVisitEscalates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rt, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	defer rt.Close()

	fx, err := LoadFixtures(writeFixtures(t, dir, time.Now().Add(-8*24*time.Hour)))
	require.NoError(t, err)
	res, err := Import(ctx, rt.Store, fx)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Trades: 1, Templates: 1}, res)

	visit, err := rt.VisitRunner().Visit(ctx)
	require.NoError(t, err)
	assert.True(t, visit.Ran)

	doc, err := rt.Store.Get(ctx, domain.TradesCollection, "t1")
	require.NoError(t, err)
	var trade domain.Trade
	require.NoError(t, doc.Decode(&trade))
	assert.Equal(t, 2, trade.RemindersSent)

	notes, err := rt.Store.Query(ctx, docstore.Collection(domain.NotificationsCollection).Where("userId", docstore.Eq, "bob"))
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	_, err = os.Stat(rt.StatePath())
	require.NoError(t, err)

	again, err := rt.VisitRunner().Visit(ctx)
	require.NoError(t, err)
	assert.False(t, again.Ran)
}

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("recurrence:\n  limit: 1\nrunner:\n  state_file: visits\n"), 0o644))
	rt, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, 1, rt.Config.Recurrence.Limit)
	assert.Equal(t, filepath.Join(dir, ".swapline", "visits"), rt.StatePath())
	s := rt.Scheduler(false)
	assert.Equal(t, time.Hour, s.Cadences["hourly"])
	assert.Equal(t, 7*24*time.Hour, s.Cadences["weekly"])
}

func TestLoadFixturesRejectsMissingIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("trades:\n  - status: open\n"), 0o644))
	_, err := LoadFixtures(path)
	assert.Error(t, err)
}
