package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every backend must share.
// Keys are prefixed so a shared server can be reused between runs.
func runStoreContract(t *testing.T, s Store, prefix string) {
	ctx := context.Background()
	k := func(name string) string { return prefix + name }

	t.Run("get missing key returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, k("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get round trips", func(t *testing.T) {
		values := []string{
			"plain",
			`with "quotes" and \backslash`,
			"<script>&amp;</script>",
			"unicode 你好 ✓",
		}
		for _, v := range values {
			require.NoError(t, s.Set(ctx, k("roundtrip"), v, time.Minute))
			got, err := s.Get(ctx, k("roundtrip"))
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})

	t.Run("set without ttl persists", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("forever"), "v", 0))
		got, err := s.Get(ctx, k("forever"))
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("delete reports removed count", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("gone"), "v", time.Minute))

		n, err := s.Delete(ctx, k("gone"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Delete(ctx, k("gone"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		_, err = s.Get(ctx, k("gone"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("keys matches glob", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, k("room:A"), "a", time.Minute))
		require.NoError(t, s.Set(ctx, k("room:B"), "b", time.Minute))
		require.NoError(t, s.Set(ctx, k("messages:A"), "m", time.Minute))

		keys, err := s.Keys(ctx, k("room:*"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{k("room:A"), k("room:B")}, keys)
	})

	t.Run("compare and swap", func(t *testing.T) {
		key := k("cas")

		ok, err := s.CompareAndSwap(ctx, key, "", "v1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "create on absent key")

		ok, err = s.CompareAndSwap(ctx, key, "", "other", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "create on present key")

		ok, err = s.CompareAndSwap(ctx, key, "stale", "v2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "swap with wrong expected")

		ok, err = s.CompareAndSwap(ctx, key, "v1", "v2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "swap with current value")

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", got)

		ok, err = s.CompareAndSwap(ctx, key, "v2", "", 0)
		require.NoError(t, err)
		assert.True(t, ok, "delete on match")

		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not found is not a backend error", func(t *testing.T) {
		_, err := s.Get(ctx, k("nope"))
		var be *BackendError
		assert.False(t, errors.As(err, &be))
	})
}
