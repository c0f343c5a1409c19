package kv

import (
	"context"
	"time"
)

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout bounds every call on s by d.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{inner: s, timeout: d}
}

func (s *timeoutStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Get(ctx, key)
}

func (s *timeoutStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Set(ctx, key, value, ttl)
}

func (s *timeoutStore) Delete(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Delete(ctx, key)
}

func (s *timeoutStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Keys(ctx, pattern)
}

func (s *timeoutStore) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.CompareAndSwap(ctx, key, expected, value, ttl)
}

func (s *timeoutStore) Close() error {
	return s.inner.Close()
}

// AsExpirer returns the backend's Expirer, looking through the timeout
// wrapper.
func AsExpirer(s Store) (Expirer, bool) {
	if ts, ok := s.(*timeoutStore); ok {
		s = ts.inner
		if e, ok := s.(Expirer); ok {
			return &timeoutExpirer{inner: e, timeout: ts.timeout}, true
		}
		return nil, false
	}
	e, ok := s.(Expirer)
	return e, ok
}

type timeoutExpirer struct {
	inner   Expirer
	timeout time.Duration
}

func (e *timeoutExpirer) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.inner.DeleteExpired(ctx)
}
