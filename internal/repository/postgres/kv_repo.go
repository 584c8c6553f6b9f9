package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository"
)

// KVRepo implements KeyValueStore on the kv_entries table. Expiry is computed
// and checked with the database clock only.
type KVRepo struct {
	db *DB
}

var (
	_ repository.KeyValueStore     = (*KVRepo)(nil)
	_ repository.ConditionalPutter = (*KVRepo)(nil)
)

// NewKVRepo constructs a key-value repository.
func NewKVRepo(db *DB) *KVRepo { return &KVRepo{db: db} }

// ttlMillis is NULL (no expiry) for ttl <= 0.
func ttlMillis(ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	ms := max(ttl.Milliseconds(), 1)
	return &ms
}

// Get selects a live value by key.
func (r *KVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `
SELECT value FROM kv_entries
WHERE key=$1 AND (expires_at IS NULL OR expires_at > now())`
	var v []byte
	if err := r.db.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// Put upserts a value.
func (r *KVRepo) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
INSERT INTO kv_entries (key, value, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at`
	_, err := r.db.Pool.Exec(ctx, q, key, value, ttlMillis(ttl))
	return err
}

// Delete removes a key.
func (r *KVRepo) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM kv_entries WHERE key=$1`
	_, err := r.db.Pool.Exec(ctx, q, key)
	return err
}

// PutIfAbsent inserts the key, or replaces it only when the existing row has expired.
func (r *KVRepo) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	const q = `
INSERT INTO kv_entries (key, value, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, expires_at=EXCLUDED.expires_at
WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now()`
	tag, err := r.db.Pool.Exec(ctx, q, key, value, ttlMillis(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes rows whose TTL has passed and returns how many were removed.
func (r *KVRepo) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
