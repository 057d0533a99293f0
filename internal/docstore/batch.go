package docstore

import (
	"context"
	"fmt"
)

// Batch collects writes and applies them atomically on Commit.
type Batch interface {
	Create(collection, id string, v any)
	CreateIfMissing(collection, id string, v any)
	Set(collection, id string, v any)
	Update(collection, id string, fields map[string]any)
	Len() int
	Commit(ctx context.Context) error
}

type opKind int

const (
	opCreate opKind = iota
	opCreateIfMissing
	opSet
	opUpdate
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opCreateIfMissing:
		return "create-if-missing"
	case opSet:
		return "set"
	default:
		return "update"
	}
}

type batchOp struct {
	kind       opKind
	collection string
	id         string
	value      any
	fields     map[string]any
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (b *batch) Create(collection, id string, v any) {
	b.ops = append(b.ops, batchOp{kind: opCreate, collection: collection, id: id, value: v})
}

func (b *batch) CreateIfMissing(collection, id string, v any) {
	b.ops = append(b.ops, batchOp{kind: opCreateIfMissing, collection: collection, id: id, value: v})
}

func (b *batch) Set(collection, id string, v any) {
	b.ops = append(b.ops, batchOp{kind: opSet, collection: collection, id: id, value: v})
}

func (b *batch) Update(collection, id string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{kind: opUpdate, collection: collection, id: id, fields: fields})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit applies every queued write in one transaction. An empty batch is a
// no-op.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	now := b.store.Now()
	tx, err := b.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, op := range b.ops {
		var err error
		switch op.kind {
		case opUpdate:
			err = updateDoc(ctx, tx, op.collection, op.id, op.fields, now)
		default:
			var data []byte
			data, err = encodeDoc(op.id, op.value, now)
			if err != nil {
				break
			}
			switch op.kind {
			case opCreate:
				err = insertDoc(ctx, tx, op.collection, op.id, data, now, true)
			case opCreateIfMissing:
				err = insertDoc(ctx, tx, op.collection, op.id, data, now, false)
			case opSet:
				err = setDoc(ctx, tx, op.collection, op.id, data, now)
			}
		}
		if err != nil {
			return fmt.Errorf("batch op %d (%s %s/%s): %w", i, op.kind, op.collection, op.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.ops = nil
	return nil
}
