package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPatch is returned by Patch when a field cannot be merged into
// the record shape.
var ErrInvalidPatch = errors.New("invalid patch")

// Kind describes one entity type: the collection it lives in, the value
// returned for absent records, and how to read a record's ID.
type Kind[T any] struct {
	Name    string
	Initial func() T
	ID      func(T) string
}

// Entities is a typed view over a backend collection. Records are stored as
// JSON.
type Entities[T any] struct {
	kind Kind[T]
	c    Collection
}

// NewEntities binds kind to its collection in b.
func NewEntities[T any](b Backend, kind Kind[T]) *Entities[T] {
	return &Entities[T]{kind: kind, c: b.Collection(kind.Name)}
}

// Kind returns the collection name.
func (e *Entities[T]) Kind() string {
	return e.kind.Name
}

func (e *Entities[T]) fail(op, id string, err error) error {
	return &OpError{Op: op, Kind: e.kind.Name, ID: id, Err: err}
}

func (e *Entities[T]) decode(data []byte) (T, error) {
	v := e.kind.Initial()
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode record: %w", err)
	}
	return v, nil
}

// Create stores v under id. An existing record is overwritten.
func (e *Entities[T]) Create(ctx context.Context, id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return e.fail("create", id, fmt.Errorf("failed to encode record: %w", err))
	}
	if err := e.c.Put(ctx, id, data); err != nil {
		return e.fail("create", id, err)
	}
	return nil
}

// Get returns the record under id, or the kind's initial value when there is
// none. Use Exists to tell an absent record from an empty one.
func (e *Entities[T]) Get(ctx context.Context, id string) (T, error) {
	data, ok, err := e.c.Get(ctx, id)
	if err != nil {
		return e.kind.Initial(), e.fail("get", id, err)
	}
	if !ok {
		return e.kind.Initial(), nil
	}
	v, err := e.decode(data)
	if err != nil {
		return v, e.fail("get", id, err)
	}
	return v, nil
}

// Exists reports whether a record has been stored under id.
func (e *Entities[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := e.c.Get(ctx, id)
	if err != nil {
		return false, e.fail("exists", id, err)
	}
	return ok, nil
}

// Mutate replaces the record under id with fn applied to its current value
// (the initial value when absent) and returns the stored result. fn must be
// pure: a backend resolving a write race calls it again on the fresh value.
func (e *Entities[T]) Mutate(ctx context.Context, id string, fn func(T) T) (T, error) {
	return e.update(ctx, "mutate", id, func(cur T) (T, error) {
		return fn(cur), nil
	})
}

func (e *Entities[T]) update(ctx context.Context, op, id string, fn func(T) (T, error)) (T, error) {
	var (
		out   T
		fnErr error
	)
	_, err := e.c.Update(ctx, id, func(data []byte, ok bool) ([]byte, error) {
		cur := e.kind.Initial()
		if ok {
			var err error
			if cur, err = e.decode(data); err != nil {
				return nil, err
			}
		}
		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return nil, err
		}
		out = next
		return json.Marshal(next)
	})
	if fnErr != nil {
		return e.kind.Initial(), fnErr
	}
	if err != nil {
		return e.kind.Initial(), e.fail(op, id, err)
	}
	return out, nil
}

// List returns up to limit records with IDs after cursor in ascending ID
// order, and the cursor for the following page (empty at the end).
func (e *Entities[T]) List(ctx context.Context, cursor string, limit int) ([]T, string, error) {
	records, err := e.c.List(ctx, cursor, limit)
	if err != nil {
		return nil, "", e.fail("list", "", err)
	}
	out := make([]T, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		v, err := e.decode(r.Data)
		if err != nil {
			return nil, "", e.fail("list", r.ID, err)
		}
		out = append(out, v)
		ids = append(ids, r.ID)
	}
	return out, NextCursor(ids, limit), nil
}

// All walks every page of the collection.
func (e *Entities[T]) All(ctx context.Context, pageSize int) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for {
		page, next, err := e.List(ctx, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// Keys returns the storage key of every record, walking the collection in
// pages of pageSize. A key need not match the ID field of its record.
func (e *Entities[T]) Keys(ctx context.Context, pageSize int) ([]string, error) {
	var (
		keys   []string
		cursor string
	)
	for {
		records, err := e.c.List(ctx, cursor, pageSize)
		if err != nil {
			return nil, e.fail("keys", "", err)
		}
		page := make([]string, 0, len(records))
		for _, r := range records {
			page = append(page, r.ID)
		}
		keys = append(keys, page...)
		if cursor = NextCursor(page, pageSize); cursor == "" {
			return keys, nil
		}
	}
}

// DeleteMany removes the given records. Missing IDs are no-ops.
func (e *Entities[T]) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.c.Delete(ctx, ids); err != nil {
		return e.fail("delete", "", err)
	}
	return nil
}

// EnsureSeed inserts seed only when the collection is empty. It is safe to
// call on every start and reports whether the seed was inserted.
func (e *Entities[T]) EnsureSeed(ctx context.Context, seed []T) (bool, error) {
	records := make([]Record, 0, len(seed))
	for _, v := range seed {
		data, err := json.Marshal(v)
		if err != nil {
			return false, e.fail("seed", e.kind.ID(v), fmt.Errorf("failed to encode record: %w", err))
		}
		records = append(records, Record{ID: e.kind.ID(v), Data: data})
	}
	seeded, err := e.c.SeedIfEmpty(ctx, records)
	if err != nil {
		return false, e.fail("seed", "", err)
	}
	return seeded, nil
}

// Patch shallow-merges fields, keyed by JSON field name, into the record
// under id.
func Patch[T any](ctx context.Context, e *Entities[T], id string, fields map[string]any) (T, error) {
	return e.update(ctx, "patch", id, func(cur T) (T, error) {
		return mergeFields(e.kind.Initial(), cur, fields)
	})
}

func mergeFields[T any](into, cur T, fields map[string]any) (T, error) {
	data, err := json.Marshal(cur)
	if err != nil {
		return cur, fmt.Errorf("failed to encode record: %w", err)
	}
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return cur, fmt.Errorf("%w: record is not an object: %v", ErrInvalidPatch, err)
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return cur, fmt.Errorf("%w: field %s: %v", ErrInvalidPatch, k, err)
		}
		obj[k] = raw
	}
	if data, err = json.Marshal(obj); err != nil {
		return cur, fmt.Errorf("failed to encode record: %w", err)
	}
	if err := json.Unmarshal(data, &into); err != nil {
		return cur, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return into, nil
}
