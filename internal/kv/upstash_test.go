package kv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstash speaks the subset of the Upstash REST protocol the store uses,
// keeping raw stored values in a MemoryStore.
type fakeUpstash struct {
	mu       sync.Mutex
	store    *MemoryStore
	token    string
	requests []string
}

func newFakeUpstash(token string) *fakeUpstash {
	return &fakeUpstash{store: NewMemoryStore(), token: token}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
		return
	}

	ctx := r.Context()
	p := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/get/"):
		v, err := f.store.Get(ctx, strings.TrimPrefix(p, "/get/"))
		if errors.Is(err, ErrNotFound) {
			writeResult(w, nil)
			return
		}
		writeResult(w, v)
	case r.Method == http.MethodPost && strings.HasPrefix(p, "/set/"):
		body, _ := io.ReadAll(r.Body)
		var ttl time.Duration
		if ex := r.URL.Query().Get("EX"); ex != "" {
			secs, _ := strconv.Atoi(ex)
			ttl = time.Duration(secs) * time.Second
		}
		f.store.Set(ctx, strings.TrimPrefix(p, "/set/"), string(body), ttl)
		writeResult(w, "OK")
	case r.Method == http.MethodPost && strings.HasPrefix(p, "/del/"):
		n, _ := f.store.Delete(ctx, strings.TrimPrefix(p, "/del/"))
		writeResult(w, n)
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/keys/"):
		keys, _ := f.store.Keys(ctx, strings.TrimPrefix(p, "/keys/"))
		writeResult(w, keys)
	case r.Method == http.MethodPost && p == "/":
		var cmd []string
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil || len(cmd) != 7 || cmd[0] != "EVAL" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "ERR unsupported command"})
			return
		}
		ms, _ := strconv.ParseInt(cmd[6], 10, 64)
		ok, _ := f.store.CompareAndSwap(ctx, cmd[3], cmd[4], cmd[5], time.Duration(ms)*time.Millisecond)
		if ok {
			writeResult(w, 1)
		} else {
			writeResult(w, 0)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeUpstash) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

func newUpstashForTest(t *testing.T) (*UpstashStore, *fakeUpstash) {
	fake := newFakeUpstash("secret-token")
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewUpstashStore(srv.URL+"/", "secret-token", srv.Client()), fake
}

func TestUpstashStore_Contract(t *testing.T) {
	s, _ := newUpstashForTest(t)
	runStoreContract(t, s, "test:")
}

func TestUpstashStore_Encoding(t *testing.T) {
	ctx := context.Background()

	t.Run("stores values as JSON strings", func(t *testing.T) {
		s, fake := newUpstashForTest(t)
		require.NoError(t, s.Set(ctx, "abc", `c<"x">`, time.Hour))

		raw, err := fake.store.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, `"c<\"x\">"`, raw)
	})

	t.Run("reads values written by other clients", func(t *testing.T) {
		s, fake := newUpstashForTest(t)
		require.NoError(t, fake.store.Set(ctx, "legacy", `"N4IgLgpg"`, 0))

		got, err := s.Get(ctx, "legacy")
		require.NoError(t, err)
		assert.Equal(t, "N4IgLgpg", got)
	})

	t.Run("non-string stored value is corrupt", func(t *testing.T) {
		s, fake := newUpstashForTest(t)
		require.NoError(t, fake.store.Set(ctx, "bad", `{"room":1}`, 0))

		_, err := s.Get(ctx, "bad")
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unparseable stored value is corrupt", func(t *testing.T) {
		s, fake := newUpstashForTest(t)
		require.NoError(t, fake.store.Set(ctx, "bad", `not json`, 0))

		_, err := s.Get(ctx, "bad")
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestUpstashStore_Requests(t *testing.T) {
	ctx := context.Background()

	t.Run("ttl is sent in whole seconds", func(t *testing.T) {
		s, fake := newUpstashForTest(t)

		require.NoError(t, s.Set(ctx, "a", "v", 90*time.Second))
		assert.Equal(t, "POST /set/a?EX=90", fake.lastRequest())

		require.NoError(t, s.Set(ctx, "b", "v", 1500*time.Millisecond))
		assert.Equal(t, "POST /set/b?EX=2", fake.lastRequest())

		require.NoError(t, s.Set(ctx, "c", "v", 0))
		assert.Equal(t, "POST /set/c", fake.lastRequest())
	})

	t.Run("wrong token is a backend error", func(t *testing.T) {
		fake := newFakeUpstash("right")
		srv := httptest.NewServer(fake)
		defer srv.Close()
		s := NewUpstashStore(srv.URL, "wrong", srv.Client())

		_, err := s.Get(ctx, "k")
		var be *BackendError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "upstash", be.Backend)
		assert.Contains(t, err.Error(), "401")
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestUpstashStore_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("404 status maps to not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewUpstashStore(srv.URL, "t", srv.Client()).Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("server error maps to backend error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"ERR max daily request limit exceeded"}`))
		}))
		defer srv.Close()

		err := NewUpstashStore(srv.URL, "t", srv.Client()).Set(ctx, "k", "v", time.Minute)
		var be *BackendError
		require.True(t, errors.As(err, &be))
		assert.Contains(t, err.Error(), "max daily request limit")
	})

	t.Run("error field in 200 response is a backend error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"WRONGTYPE"}`))
		}))
		defer srv.Close()

		_, err := NewUpstashStore(srv.URL, "t", srv.Client()).Get(ctx, "k")
		var be *BackendError
		assert.True(t, errors.As(err, &be))
	})

	t.Run("unreachable server is a backend error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewUpstashStore(url, "t", nil).Get(ctx, "k")
		var be *BackendError
		assert.True(t, errors.As(err, &be))
	})
}
