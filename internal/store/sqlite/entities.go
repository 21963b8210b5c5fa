package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lu-zhengda/aeromail/internal/store"
)

// maxUpdateAttempts bounds the compare-and-swap retries of a single Update.
const maxUpdateAttempts = 8

// deleteBatch keeps IN lists well under SQLite's bound variable limit.
const deleteBatch = 500

type collection struct {
	db   *sqlx.DB
	kind string
}

type versionedState struct {
	State   []byte `db:"state"`
	Version int64  `db:"version"`
}

// Put inserts or replaces a record, bumping its version.
func (c *collection) Put(ctx context.Context, id string, data []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, state, version)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(kind, id) DO UPDATE SET
			state      = excluded.state,
			version    = entities.version + 1,
			updated_at = CURRENT_TIMESTAMP`,
		c.kind, id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", c.kind, id, err)
	}
	return nil
}

func (c *collection) Get(ctx context.Context, id string) ([]byte, bool, error) {
	var state []byte
	err := c.db.GetContext(ctx, &state,
		`SELECT state FROM entities WHERE kind = ? AND id = ?`, c.kind, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s %s: %w", c.kind, id, err)
	}
	return state, true, nil
}

// Update reads the record and its version, applies fn, and writes the result
// only if the version is unchanged. A lost race re-reads and retries.
func (c *collection) Update(ctx context.Context, id string, fn func([]byte, bool) ([]byte, error)) ([]byte, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		data, ok, err := c.tryUpdate(ctx, id, fn)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
	}
	return nil, fmt.Errorf("failed to update %s %s after %d attempts: %w",
		c.kind, id, maxUpdateAttempts, store.ErrConflict)
}

// tryUpdate runs one read-modify-write attempt. ok is false when another
// writer changed the record in between.
func (c *collection) tryUpdate(ctx context.Context, id string, fn func([]byte, bool) ([]byte, error)) (data []byte, ok bool, err error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cur versionedState
	exists := true
	err = tx.GetContext(ctx, &cur,
		`SELECT state, version FROM entities WHERE kind = ? AND id = ?`, c.kind, id)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read %s %s: %w", c.kind, id, err)
	}

	data, err = fn(cur.State, exists)
	if err != nil {
		return nil, false, err
	}

	var res sql.Result
	if exists {
		res, err = tx.ExecContext(ctx, `
			UPDATE entities
			SET state = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE kind = ? AND id = ? AND version = ?`,
			data, c.kind, id, cur.Version)
	} else {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO entities (kind, id, state, version)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(kind, id) DO NOTHING`,
			c.kind, id, data)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to write %s %s: %w", c.kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check write of %s %s: %w", c.kind, id, err)
	}
	if n != 1 {
		return nil, false, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit %s %s: %w", c.kind, id, err)
	}
	return data, true, nil
}

func (c *collection) List(ctx context.Context, after string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	var records []store.Record
	err := c.db.SelectContext(ctx, &records, `
		SELECT id, state FROM entities
		WHERE kind = ? AND id > ?
		ORDER BY id
		LIMIT ?`, c.kind, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.kind, err)
	}
	return records, nil
}

func (c *collection) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatch {
		batch := ids[start:min(start+deleteBatch, len(ids))]
		query, args, err := sqlx.In(`DELETE FROM entities WHERE kind = ? AND id IN (?)`, c.kind, batch)
		if err != nil {
			return fmt.Errorf("failed to build delete of %s: %w", c.kind, err)
		}
		if _, err := c.db.ExecContext(ctx, c.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", c.kind, err)
		}
	}
	return nil
}

// SeedIfEmpty checks for existing records and inserts the seed in one
// transaction.
func (c *collection) SeedIfEmpty(ctx context.Context, records []store.Record) (bool, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM entities WHERE kind = ?`, c.kind); err != nil {
		return false, fmt.Errorf("failed to count %s: %w", c.kind, err)
	}
	if count > 0 {
		return false, nil
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO entities (kind, id, state, version) VALUES (?, ?, ?, 1)`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, c.kind, r.ID, r.Data); err != nil {
			return false, fmt.Errorf("failed to seed %s %s: %w", c.kind, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit seed of %s: %w", c.kind, err)
	}
	return len(records) > 0, nil
}
