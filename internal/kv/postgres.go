package kv

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const liveFilter = `(expires_at IS NULL OR expires_at > now())`

const expiresAtExpr = `CASE WHEN $3::bigint > 0 THEN now() + ($3::bigint * interval '1 millisecond') END`

// PostgresStore keeps entries in the kv_entries table. Expired rows are
// invisible to reads and removed by DeleteExpired.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return ttl.Milliseconds()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM kv_entries WHERE key = $1 AND `+liveFilter, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", backendErr("postgres", "get", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, `+expiresAtExpr+`)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttlMillis(ttl))
	if err != nil {
		return backendErr("postgres", "set", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1 AND `+liveFilter, key)
	if err != nil {
		return 0, backendErr("postgres", "del", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, backendErr("postgres", "del", err)
	}
	return n, nil
}

func (s *PostgresStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM kv_entries WHERE key LIKE $1 ESCAPE '\' AND `+liveFilter+` ORDER BY key`,
		globToLike(pattern))
	if err != nil {
		return nil, backendErr("postgres", "keys", err)
	}
	return keys, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error) {
	var (
		result sql.Result
		err    error
	)

	switch {
	case expected == "" && value == "":
		var absent bool
		err = s.db.GetContext(ctx, &absent,
			`SELECT NOT EXISTS (SELECT 1 FROM kv_entries WHERE key = $1 AND `+liveFilter+`)`, key)
		if err != nil {
			return false, backendErr("postgres", "cas", err)
		}
		return absent, nil
	case expected == "":
		// An expired row still occupies the key, so the upsert only
		// overwrites rows that are no longer live.
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO kv_entries (key, value, expires_at)
			VALUES ($1, $2, `+expiresAtExpr+`)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
			WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now()`,
			key, value, ttlMillis(ttl))
	case value == "":
		result, err = s.db.ExecContext(ctx,
			`DELETE FROM kv_entries WHERE key = $1 AND value = $2 AND `+liveFilter, key, expected)
	default:
		result, err = s.db.ExecContext(ctx, `
			UPDATE kv_entries SET value = $4, expires_at = `+expiresAtExpr+`
			WHERE key = $1 AND value = $2 AND `+liveFilter,
			key, expected, ttlMillis(ttl), value)
	}
	if err != nil {
		return false, backendErr("postgres", "cas", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, backendErr("postgres", "cas", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, backendErr("postgres", "purge", err)
	}
	return result.RowsAffected()
}

// Close is a no-op: the pool belongs to the caller that opened it.
func (s *PostgresStore) Close() error {
	return nil
}

// globToLike converts a Redis-style glob (* and ?) into a LIKE pattern.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
