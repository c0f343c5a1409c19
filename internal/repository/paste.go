package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clipzy/clipzy-server/internal/kv"
)

type PasteRepository interface {
	// Create writes a new paste and reports false when the id is taken.
	Create(ctx context.Context, id, ciphertext string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type pasteRepo struct {
	store kv.Store
}

func NewPasteRepository(store kv.Store) PasteRepository {
	return &pasteRepo{store: store}
}

func (r *pasteRepo) Create(ctx context.Context, id, ciphertext string, ttl time.Duration) (bool, error) {
	return r.store.CompareAndSwap(ctx, pasteKey(id), "", ciphertext, ttl)
}

// Get returns the stored ciphertext. Older deployments wrote pastes as JSON
// strings; those are unwrapped here. Compressed ciphertext never starts with
// a quote, so a quoted value that does not decode is corrupt.
func (r *pasteRepo) Get(ctx context.Context, id string) (string, error) {
	value, err := r.store.Get(ctx, pasteKey(id))
	if err != nil || !strings.HasPrefix(value, `"`) {
		return value, err
	}
	var unquoted string
	if err := json.Unmarshal([]byte(value), &unquoted); err != nil {
		return "", fmt.Errorf("%w: paste %s: %v", kv.ErrCorrupt, id, err)
	}
	return unquoted, nil
}

func (r *pasteRepo) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.store.Delete(ctx, pasteKey(id))
	return n > 0, err
}
