package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliance-backend/internal/db"
)

// SQLStore persists entries in the kv_entries table.
type SQLStore struct {
	db  *db.DB
	now func() time.Time
}

func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{db: d, now: time.Now}
}

func (s *SQLStore) Get(ctx context.Context, owner int, key string) (Entry, error) {
	var (
		e     Entry
		value string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, value
		FROM kv_entries
		WHERE owner_id = $1 AND kv_key = $2
	`, owner, key).Scan(&e.Version, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("kv get %s: %w", key, err)
	}
	e.Value = []byte(value)
	return e, nil
}

func (s *SQLStore) Put(ctx context.Context, owner int, key string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (owner_id, kv_key, version, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, kv_key) DO UPDATE SET
			version = EXCLUDED.version,
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, owner, key, e.Version, string(e.Value), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, owner int, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE owner_id = $1 AND kv_key = $2`, owner, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Owners(ctx context.Context, key string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM kv_entries WHERE kv_key = $1 ORDER BY owner_id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("kv owners %s: %w", key, err)
	}
	defer rows.Close()

	var owners []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (s *SQLStore) DeleteOwner(ctx context.Context, owner int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("kv delete owner %d: %w", owner, err)
	}
	return nil
}
