package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lu-zhengda/aeromail/internal/store"
)

type index struct {
	db   *sqlx.DB
	name string
}

func (i *index) Add(ctx context.Context, key string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO index_entries (name, sort_key) VALUES (?, ?) ON CONFLICT(name, sort_key) DO NOTHING`,
		i.name, key)
	if err != nil {
		return fmt.Errorf("failed to add %q to index %s: %w", key, i.name, err)
	}
	return nil
}

func (i *index) Remove(ctx context.Context, key string) error {
	_, err := i.db.ExecContext(ctx,
		`DELETE FROM index_entries WHERE name = ? AND sort_key = ?`, i.name, key)
	if err != nil {
		return fmt.Errorf("failed to remove %q from index %s: %w", key, i.name, err)
	}
	return nil
}

func (i *index) Page(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	var keys []string
	err := i.db.SelectContext(ctx, &keys, `
		SELECT sort_key FROM index_entries
		WHERE name = ? AND sort_key > ?
		ORDER BY sort_key
		LIMIT ?`, i.name, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to page index %s: %w", i.name, err)
	}
	return keys, store.NextCursor(keys, limit), nil
}

func (i *index) Reverse(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	var (
		keys []string
		err  error
	)
	if cursor == "" {
		err = i.db.SelectContext(ctx, &keys, `
			SELECT sort_key FROM index_entries
			WHERE name = ?
			ORDER BY sort_key DESC
			LIMIT ?`, i.name, limit)
	} else {
		err = i.db.SelectContext(ctx, &keys, `
			SELECT sort_key FROM index_entries
			WHERE name = ? AND sort_key < ?
			ORDER BY sort_key DESC
			LIMIT ?`, i.name, cursor, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to page index %s: %w", i.name, err)
	}
	return keys, store.NextCursor(keys, limit), nil
}

func (i *index) Clear(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM index_entries WHERE name = ?`, i.name); err != nil {
		return fmt.Errorf("failed to clear index %s: %w", i.name, err)
	}
	return nil
}
