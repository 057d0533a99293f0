package docstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapline/internal/db"
	"swapline/internal/docstore"
	"swapline/internal/migrate"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	s := docstore.New(conn)
	s.Clock = func() time.Time { return testNow }
	return s
}

type item struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Count  int        `json:"count"`
	Flag   bool       `json:"flag"`
	When   *time.Time `json:"when,omitempty"`
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func TestCreateGetAndDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "items", "a", item{Status: "open", Count: 2}))
	err := s.Create(ctx, "items", "a", item{Status: "open"})
	assert.True(t, errors.Is(err, docstore.ErrExists), "got %v", err)

	doc, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, 2, got.Count)
	assert.True(t, doc.CreatedAt.Equal(testNow))

	_, err = s.Get(ctx, "items", "missing")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestUpdateMergesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "items", "a", item{Status: "open", Count: 1}))

	require.NoError(t, s.Update(ctx, "items", "a", map[string]any{
		"status": "closed",
		"when":   docstore.ServerTimestamp,
	}))
	doc, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, 1, got.Count)
	require.NotNil(t, got.When)
	assert.True(t, got.When.Equal(testNow))

	err = s.Update(ctx, "items", "nope", map[string]any{"status": "x"})
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestQueryStatusAndTimeCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "items", "past", item{Status: "open", When: at(-time.Hour)}))
	require.NoError(t, s.Set(ctx, "items", "now", item{Status: "open", When: at(0)}))
	require.NoError(t, s.Set(ctx, "items", "future", item{Status: "open", When: at(time.Hour)}))
	require.NoError(t, s.Set(ctx, "items", "closed", item{Status: "closed", When: at(-time.Hour)}))
	require.NoError(t, s.Set(ctx, "items", "nowhen", item{Status: "open"}))

	docs, err := s.Query(ctx, docstore.Collection("items").
		Where("status", docstore.Eq, "open").
		Where("when", docstore.Lte, testNow))
	require.NoError(t, err)
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"now", "past"}, ids)
}

func TestTimeCutoffIsExactToTheNanosecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "items", "after", item{Status: "open", When: at(400 * time.Microsecond)}))
	require.NoError(t, s.Set(ctx, "items", "exact", item{Status: "open", When: at(0)}))
	require.NoError(t, s.Set(ctx, "items", "before", item{Status: "open", When: at(-time.Nanosecond)}))
	require.NoError(t, s.Set(ctx, "items", "offset", map[string]any{"status": "open", "when": "2024-06-15T13:59:59.5+02:00"}))

	docs, err := s.Query(ctx, docstore.Collection("items").
		Where("when", docstore.Lte, testNow).
		Order("when", false))
	require.NoError(t, err)
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"offset", "before", "exact"}, ids)

	doc, err := s.Get(ctx, "items", "offset")
	require.NoError(t, err)
	assert.Contains(t, string(doc.Data), `"2024-06-15T11:59:59.500000000Z"`)
}

func TestQueryInBoolOrderLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, st := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, "items", st, item{Status: st, Count: i, Flag: i%2 == 0}))
	}

	docs, err := s.Query(ctx, docstore.Collection("items").Where("status", docstore.In, []string{"a", "c"}))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = s.Query(ctx, docstore.Collection("items").Where("flag", docstore.Eq, true))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = s.Query(ctx, docstore.Collection("items").Order("count", true).Take(2))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestQueryRejectsTooManyPredicates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Query(context.Background(), docstore.Collection("items").
		Where("a", docstore.Eq, 1).
		Where("b", docstore.Eq, 2).
		Where("c", docstore.Eq, 3))
	assert.Error(t, err)

	_, err = s.Query(context.Background(), docstore.Collection("items").Where("a'; DROP", docstore.Eq, 1))
	assert.Error(t, err)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "items", "a", item{Status: "open"}))

	b := s.Batch()
	b.Update("items", "a", map[string]any{"status": "closed"})
	b.Create("items", "b", item{Status: "new"})
	b.Update("items", "missing", map[string]any{"status": "closed"})
	assert.Equal(t, 3, b.Len())
	err := b.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, docstore.ErrNotFound))

	doc, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	var got item
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "open", got.Status)
	exists, err := s.Exists(ctx, "items", "b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBatchCreateIfMissingKeepsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "items", "a", item{Status: "original"}))

	b := s.Batch()
	b.CreateIfMissing("items", "a", item{Status: "replacement"})
	b.CreateIfMissing("items", "b", item{Status: "fresh"})
	require.NoError(t, b.Commit(ctx))

	docs, err := s.Query(ctx, docstore.Collection("items"))
	require.NoError(t, err)
	got, err := docstore.DecodeAll[item](docs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "original", got[0].Status)
	assert.Equal(t, "fresh", got[1].Status)
}

func TestEmptyBatchCommitIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Batch().Commit(context.Background()))
}
