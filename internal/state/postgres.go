package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps keys in the sync_state table so every API and worker
// process sees the same run state.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `
		SELECT value FROM sync_state
		WHERE key = $1 AND value IS NOT NULL AND (expires_at IS NULL OR expires_at > now())`

	var value []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const query = `
		INSERT INTO sync_state (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, key, value, expiry(ttl)); err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sync_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Materialise the row so FOR UPDATE has something to lock.
	_, err = tx.Exec(ctx, `
		INSERT INTO sync_state (key, value, expires_at, updated_at)
		VALUES ($1, NULL, NULL, now())
		ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return fmt.Errorf("lock state %s: %w", key, err)
	}

	var (
		current   []byte
		expiresAt *time.Time
	)
	err = tx.QueryRow(ctx, `SELECT value, expires_at FROM sync_state WHERE key = $1 FOR UPDATE`, key).
		Scan(&current, &expiresAt)
	if err != nil {
		return fmt.Errorf("lock state %s: %w", key, err)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sync_state SET value = $2, expires_at = $3, updated_at = now() WHERE key = $1`,
		key, next, expiry(ttl))
	if err != nil {
		return fmt.Errorf("update state %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

// PruneExpired removes keys whose TTL elapsed.
func (s *PostgresStore) PruneExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sync_state WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("prune state: %w", err)
	}
	return tag.RowsAffected(), nil
}
