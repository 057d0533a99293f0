package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"swapline/internal/config"
	"swapline/internal/db"
	"swapline/internal/docstore"
	"swapline/internal/domain"
	"swapline/internal/engine"
	"swapline/internal/migrate"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Store  *docstore.Store
	Sent   *recorder
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := docstore.New(conn)
	store.Clock = func() time.Time { return testNow }
	rec := &recorder{failFor: map[string]bool{}}
	eng := engine.New(store, rec, config.Default())
	eng.Retry.Sleep = func(context.Context, time.Duration) error { return nil }
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{Engine: eng, Store: store, Sent: rec, Ctx: context.Background()}
}

type recorder struct {
	sent    []domain.Notification
	failFor map[string]bool
}

func (r *recorder) Emit(_ context.Context, n domain.Notification) error {
	if r.failFor[n.UserID] {
		return errors.New("delivery down")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) to(userID string) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func daysAgo(d float64) *time.Time {
	t := testNow.Add(-time.Duration(d * float64(24*time.Hour)))
	return &t
}

func (env *testEnv) put(t *testing.T, collection, id string, v any) {
	t.Helper()
	if err := env.Store.Set(env.Ctx, collection, id, v); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

// pendingTrade is requested by alice and waits on bob.
func pendingTrade(id string, age float64, sent int) domain.Trade {
	return domain.Trade{
		ID:                    id,
		Status:                domain.TradePendingConfirmation,
		CreatorID:             "alice",
		ParticipantID:         "bob",
		CompletionRequestedAt: daysAgo(age),
		CompletionRequestedBy: "alice",
		RemindersSent:         sent,
	}
}

func (env *testEnv) trade(t *testing.T, id string) domain.Trade {
	t.Helper()
	doc, err := env.Store.Get(env.Ctx, domain.TradesCollection, id)
	if err != nil {
		t.Fatalf("get trade %s: %v", id, err)
	}
	var tr domain.Trade
	if err := doc.Decode(&tr); err != nil {
		t.Fatal(err)
	}
	return tr
}

func (env *testEnv) challenges(t *testing.T) []domain.Challenge {
	t.Helper()
	docs, err := env.Store.Query(env.Ctx, docstore.Collection(domain.ChallengesCollection))
	if err != nil {
		t.Fatalf("query challenges: %v", err)
	}
	out, err := docstore.DecodeAll[domain.Challenge](docs)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// faultyStore injects query, exists and commit failures around a real store.
// A batch fails to commit when it updates failCommitFor, or always when it is
// "*". existsCalls, when set, counts Exists attempts.
type faultyStore struct {
	engine.Store
	queryErr      error
	existsErr     error
	existsCalls   *int
	failCommitFor string
}

func (f faultyStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	if f.existsCalls != nil {
		*f.existsCalls++
	}
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.Store.Exists(ctx, collection, id)
}

func (f faultyStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.Query(ctx, q)
}

func (f faultyStore) Batch() docstore.Batch {
	return &faultyBatch{Batch: f.Store.Batch(), failFor: f.failCommitFor}
}

type faultyBatch struct {
	docstore.Batch
	failFor string
	tainted bool
}

func (b *faultyBatch) Update(collection, id string, fields map[string]any) {
	if b.failFor == "*" || b.failFor == id {
		b.tainted = true
	}
	b.Batch.Update(collection, id, fields)
}

func (b *faultyBatch) Commit(ctx context.Context) error {
	if b.tainted || b.failFor == "*" {
		return errors.New("commit rejected")
	}
	return b.Batch.Commit(ctx)
}
