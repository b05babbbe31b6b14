package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists entries in the kv_entries table (see migrations).
// Expired rows are filtered on read and deleted by PurgeExpired.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value
		FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	var value []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("postgres get", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}
	query := `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return unavailable("postgres set", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return unavailable("postgres delete", err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT key
		FROM kv_entries
		WHERE starts_with(key, $1) AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY key
	`
	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, unavailable("postgres keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("postgres keys scan", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres keys", err)
	}
	return keys, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, unavailable("postgres purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("postgres purge", err)
	}
	return int(n), nil
}
