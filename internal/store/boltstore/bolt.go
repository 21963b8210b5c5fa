// Package boltstore implements the store backend on a bbolt file. Each entity
// kind and each index gets its own top-level bucket; every operation runs in
// a single bolt transaction, so Update is fully serialized per database.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lu-zhengda/aeromail/internal/store"
)

const (
	entityPrefix = "entity:"
	indexPrefix  = "index:"
)

// present is the value stored for every index key.
var present = []byte{1}

// DB is a bbolt-backed store.Backend.
type DB struct {
	db *bolt.DB
}

var _ store.Backend = (*DB)(nil)

// Open opens or creates the bolt file at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{db: db}, nil
}

func (s *DB) Collection(kind string) store.Collection {
	return &collection{db: s.db, bucket: []byte(entityPrefix + kind)}
}

func (s *DB) Index(name string) store.Index {
	return &index{db: s.db, bucket: []byte(indexPrefix + name)}
}

func (s *DB) Close() error {
	return s.db.Close()
}

// copyBytes detaches v from the transaction's memory map.
func copyBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

type collection struct {
	db     *bolt.DB
	bucket []byte
}

func (c *collection) Put(ctx context.Context, id string, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", c.bucket, id, err)
	}
	return nil
}

func (c *collection) Get(ctx context.Context, id string) ([]byte, bool, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		data = copyBytes(b.Get([]byte(id)))
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s %s: %w", c.bucket, id, err)
	}
	return data, data != nil, nil
}

// errAbort carries fn's error out of the transaction untouched.
type errAbort struct{ err error }

func (e errAbort) Error() string { return e.err.Error() }

func (c *collection) Update(ctx context.Context, id string, fn func([]byte, bool) ([]byte, error)) ([]byte, error) {
	var out []byte
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		cur := b.Get([]byte(id))
		data, err := fn(copyBytes(cur), cur != nil)
		if err != nil {
			return errAbort{err}
		}
		out = data
		return b.Put([]byte(id), data)
	})
	var abort errAbort
	if errors.As(err, &abort) {
		return nil, abort.err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", c.bucket, id, err)
	}
	return out, nil
}

func (c *collection) List(ctx context.Context, after string, limit int) ([]store.Record, error) {
	var records []store.Record
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		k, v := cur.Seek([]byte(after))
		if k != nil && after != "" && bytes.Equal(k, []byte(after)) {
			k, v = cur.Next()
		}
		for ; k != nil; k, v = cur.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			records = append(records, store.Record{ID: string(k), Data: copyBytes(v)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.bucket, err)
	}
	return records, nil
}

func (c *collection) Delete(ctx context.Context, ids []string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", c.bucket, err)
	}
	return nil
}

func (c *collection) SeedIfEmpty(ctx context.Context, records []store.Record) (bool, error) {
	seeded := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k != nil {
			return nil
		}
		for _, r := range records {
			if err := b.Put([]byte(r.ID), r.Data); err != nil {
				return err
			}
		}
		seeded = len(records) > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed %s: %w", c.bucket, err)
	}
	return seeded, nil
}

type index struct {
	db     *bolt.DB
	bucket []byte
}

func (i *index) Add(ctx context.Context, key string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(i.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), present)
	})
	if err != nil {
		return fmt.Errorf("failed to add %q to %s: %w", key, i.bucket, err)
	}
	return nil
}

func (i *index) Remove(ctx context.Context, key string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(i.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove %q from %s: %w", key, i.bucket, err)
	}
	return nil
}

func (i *index) Page(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	var keys []string
	err := i.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(i.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		k, _ := c.Seek([]byte(cursor))
		if k != nil && cursor != "" && bytes.Equal(k, []byte(cursor)) {
			k, _ = c.Next()
		}
		for ; k != nil && len(keys) < limit; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to page %s: %w", i.bucket, err)
	}
	return keys, store.NextCursor(keys, limit), nil
}

func (i *index) Reverse(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	var keys []string
	err := i.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(i.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k []byte
		if cursor == "" {
			k, _ = c.Last()
		} else {
			// Seek lands on the first key >= cursor, so step back once.
			if k, _ = c.Seek([]byte(cursor)); k == nil {
				k, _ = c.Last()
			} else {
				k, _ = c.Prev()
			}
			for k != nil && bytes.Compare(k, []byte(cursor)) >= 0 {
				k, _ = c.Prev()
			}
		}
		for ; k != nil && len(keys) < limit; k, _ = c.Prev() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to page %s: %w", i.bucket, err)
	}
	return keys, store.NextCursor(keys, limit), nil
}

func (i *index) Clear(ctx context.Context) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(i.bucket) == nil {
			return nil
		}
		return tx.DeleteBucket(i.bucket)
	})
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", i.bucket, err)
	}
	return nil
}
