// Package kv is the storage boundary of the service. Callers see a single
// key-value contract and never know which backend sits behind it.
package kv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clipzy/clipzy-server/internal/database"
	redisclient "github.com/clipzy/clipzy-server/internal/redis"
)

var (
	// ErrNotFound is returned when a key is missing or has expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("kv: stored value is malformed")
)

// BackendError is a transport or driver failure. It is never used for
// missing keys.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("kv %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendErr(backend, op string, err error) error {
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// Store is the uniform key-value contract. A ttl <= 0 means no expiry.
//
// CompareAndSwap replaces the value at key only if the current value equals
// expected. An empty expected requires the key to be absent and an empty
// value deletes the key when the comparison holds.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error)
	Close() error
}

// Expirer is implemented by backends that cannot expire keys on their own
// and need a periodic purge.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Timeout time.Duration

	UpstashURL   string
	UpstashToken string
	HTTPClient   *http.Client

	Redis *redisclient.Client
	DB    *database.DB
}

// Open builds the configured backend. The choice is made once; the returned
// store wraps every call in the configured timeout.
func Open(opts Options) (Store, error) {
	var store Store
	switch opts.Backend {
	case "upstash":
		if opts.UpstashURL == "" || opts.UpstashToken == "" {
			return nil, fmt.Errorf("upstash backend requires url and token")
		}
		store = NewUpstashStore(opts.UpstashURL, opts.UpstashToken, opts.HTTPClient)
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		store = NewRedisStore(opts.Redis.Client)
	case "postgres":
		if opts.DB == nil {
			return nil, fmt.Errorf("postgres backend requires a database handle")
		}
		store = NewPostgresStore(opts.DB.DB)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown kv backend %q", opts.Backend)
	}

	if opts.Timeout > 0 {
		store = WithTimeout(store, opts.Timeout)
	}
	return store, nil
}

// ttlSeconds rounds a positive ttl up to whole seconds.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
