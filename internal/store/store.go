package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFailure marks any error raised by the underlying persistence layer.
	ErrFailure = errors.New("store failure")

	// ErrConflict is returned when a mutate keeps losing a version race.
	ErrConflict = errors.New("concurrent modification")
)

// OpError records the store operation and key that failed.
type OpError struct {
	Op   string
	Kind string
	ID   string
	Err  error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrFailure, e.Err}
}

// Record is one raw entity as held by a backend.
type Record struct {
	ID   string `db:"id"`
	Data []byte `db:"state"`
}

// Collection is the raw keyed storage for a single entity kind.
type Collection interface {
	// Put writes data under id, replacing any existing record.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the record under id and whether it exists.
	Get(ctx context.Context, id string) ([]byte, bool, error)

	// Update replaces the record under id with fn applied to its current
	// value. fn may be invoked more than once if the backend retries.
	Update(ctx context.Context, id string, fn func(data []byte, ok bool) ([]byte, error)) ([]byte, error)

	// List returns up to limit records with IDs greater than after, in
	// ascending ID order.
	List(ctx context.Context, after string, limit int) ([]Record, error)

	// Delete removes the given IDs. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// SeedIfEmpty inserts records only if the collection holds none, as one
	// atomic step. It reports whether anything was inserted.
	SeedIfEmpty(ctx context.Context, records []Record) (bool, error)
}

// Index is a named sorted set of keys.
type Index interface {
	// Add inserts key. Adding a present key is a no-op.
	Add(ctx context.Context, key string) error

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(ctx context.Context, key string) error

	// Page returns up to limit keys greater than cursor in ascending order.
	// An empty cursor starts at the first key. The returned continuation is
	// empty once the index is exhausted.
	Page(ctx context.Context, cursor string, limit int) ([]string, string, error)

	// Reverse is Page in descending order: keys less than cursor.
	Reverse(ctx context.Context, cursor string, limit int) ([]string, string, error)

	// Clear removes every key.
	Clear(ctx context.Context) error
}

// Backend provides collections and indexes, created on first use.
type Backend interface {
	Collection(kind string) Collection
	Index(name string) Index
	Close() error
}

// NextCursor returns the continuation for a page of keys requested with
// limit: the last key when the page is full, otherwise empty.
func NextCursor(keys []string, limit int) string {
	if len(keys) == 0 || len(keys) < limit {
		return ""
	}
	return keys[len(keys)-1]
}
