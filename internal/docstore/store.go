package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("document already exists")
)

// ServerTimestamp is a field value placeholder replaced by the store clock
// when the write is applied.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// Document is one stored JSON object.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// DecodeAll decodes every document into a slice of T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Store is the SQLite-backed document store.
type Store struct {
	DB    *sql.DB
	Clock func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{DB: db, Clock: time.Now}
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	return getDoc(ctx, s.DB, collection, id)
}

func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new document and fails with ErrExists on a duplicate id.
func (s *Store) Create(ctx context.Context, collection, id string, v any) error {
	data, err := encodeDoc(id, v, s.Now())
	if err != nil {
		return err
	}
	return insertDoc(ctx, s.DB, collection, id, data, s.Now(), true)
}

// Set writes the whole document, replacing any previous body.
func (s *Store) Set(ctx context.Context, collection, id string, v any) error {
	data, err := encodeDoc(id, v, s.Now())
	if err != nil {
		return err
	}
	return setDoc(ctx, s.DB, collection, id, data, s.Now())
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := updateDoc(ctx, tx, collection, id, fields, s.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Batch starts an atomic write batch.
func (s *Store) Batch() Batch {
	return &batch{store: s}
}

func getDoc(ctx context.Context, ex execer, collection, id string) (Document, error) {
	d := Document{Collection: collection, ID: id}
	var data, created, updated string
	err := ex.QueryRowContext(ctx, `SELECT data,created_at,updated_at FROM documents WHERE collection=? AND id=?`, collection, id).
		Scan(&data, &created, &updated)
	if err == sql.ErrNoRows {
		return d, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return d, err
	}
	d.Data = json.RawMessage(data)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return d, nil
}

func insertDoc(ctx context.Context, ex execer, collection, id string, data []byte, now time.Time, failOnConflict bool) error {
	ts := formatTime(now)
	res, err := ex.ExecContext(ctx, `INSERT INTO documents(collection,id,data,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(collection,id) DO NOTHING`, collection, id, string(data), ts, ts)
	if err != nil {
		return err
	}
	if failOnConflict {
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrExists)
		}
	}
	return nil
}

func setDoc(ctx context.Context, ex execer, collection, id string, data []byte, now time.Time) error {
	ts := formatTime(now)
	_, err := ex.ExecContext(ctx, `INSERT INTO documents(collection,id,data,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`, collection, id, string(data), ts, ts)
	return err
}

func updateDoc(ctx context.Context, ex execer, collection, id string, fields map[string]any, now time.Time) error {
	existing, err := getDoc(ctx, ex, collection, id)
	if err != nil {
		return err
	}
	body := map[string]any{}
	if err := json.Unmarshal(existing.Data, &body); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		body[k] = normalizeTimes(resolveValue(v, now))
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `UPDATE documents SET data=?, updated_at=? WHERE collection=? AND id=?`,
		string(data), formatTime(now), collection, id)
	return err
}

// encodeDoc marshals v into a JSON object carrying its id.
func encodeDoc(id string, v any, now time.Time) ([]byte, error) {
	if in, ok := v.(map[string]any); ok {
		resolved := make(map[string]any, len(in)+1)
		for k, val := range in {
			resolved[k] = resolveValue(val, now)
		}
		v = resolved
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("encode %s: document must be an object: %w", id, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	normalizeTimes(body)
	body["id"] = id
	return json.Marshal(body)
}

func resolveValue(v any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return formatTime(now)
	case time.Time:
		return formatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return formatTime(*val)
	default:
		return v
	}
}
