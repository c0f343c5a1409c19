package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/model"
)

// RoomTTL is how long a room survives without writes.
const RoomTTL = time.Hour

// UpdateAction tells Update what to do with the room after the callback ran.
type UpdateAction int

const (
	// UpdateSkip leaves the stored room untouched.
	UpdateSkip UpdateAction = iota
	// UpdateSave writes the modified room back.
	UpdateSave
	// UpdateDelete removes the room.
	UpdateDelete
)

// UpdateFunc mutates room in place. It may run more than once when writers
// race, so it must not have side effects outside room.
type UpdateFunc func(room *model.Room) (UpdateAction, error)

type RoomRepository interface {
	FindByID(ctx context.Context, id string) (*model.Room, error)
	// Create stores a new room and reports false when the id is taken.
	Create(ctx context.Context, room *model.Room) (bool, error)
	// Update applies fn atomically. The returned room is the stored state
	// after the update, or nil when the room was deleted.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Room, error)
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
}

type roomRepo struct {
	store kv.Store
	ttl   time.Duration
}

func NewRoomRepository(store kv.Store) RoomRepository {
	return &roomRepo{store: store, ttl: RoomTTL}
}

func decodeRoom(id, raw string) (*model.Room, error) {
	var room model.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, fmt.Errorf("%w: room %s: %v", kv.ErrCorrupt, id, err)
	}
	return &room, nil
}

func (r *roomRepo) FindByID(ctx context.Context, id string) (*model.Room, error) {
	raw, err := r.store.Get(ctx, roomKey(id))
	if err != nil {
		return HandleNotFound[model.Room](nil, err)
	}
	return decodeRoom(id, raw)
}

func (r *roomRepo) Create(ctx context.Context, room *model.Room) (bool, error) {
	encoded, err := json.Marshal(room)
	if err != nil {
		return false, fmt.Errorf("encode room: %w", err)
	}
	return r.store.CompareAndSwap(ctx, roomKey(room.ID), "", string(encoded), r.ttl)
}

func (r *roomRepo) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Room, error) {
	key := roomKey(id)
	var result *model.Room

	err := withSwapRetry(ctx, func(ctx context.Context) error {
		raw, err := r.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		room, err := decodeRoom(id, raw)
		if err != nil {
			return err
		}

		action, err := fn(room)
		if err != nil {
			return err
		}

		var swapped bool
		switch action {
		case UpdateSkip:
			result = room
			return nil
		case UpdateDelete:
			swapped, err = r.store.CompareAndSwap(ctx, key, raw, "", 0)
			result = nil
		default:
			encoded, encErr := json.Marshal(room)
			if encErr != nil {
				return fmt.Errorf("encode room: %w", encErr)
			}
			swapped, err = r.store.CompareAndSwap(ctx, key, raw, string(encoded), r.ttl)
			result = room
		}
		if err != nil {
			return err
		}
		if !swapped {
			return errSwapLost
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *roomRepo) Delete(ctx context.Context, id string) error {
	_, err := r.store.Delete(ctx, roomKey(id))
	return err
}

func (r *roomRepo) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, roomKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, roomKeyPrefix))
	}
	return ids, nil
}
