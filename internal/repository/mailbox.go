package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/model"
)

const (
	MailboxTTL      = 30 * time.Minute
	MailboxCapacity = 50
)

// MailboxRepository stores a room's recent signaling messages as a bounded
// ring buffer. Timestamps are assigned on append and strictly increase
// within a room, so they double as poll cursors.
type MailboxRepository interface {
	Append(ctx context.Context, roomID string, msg *model.SignalMessage) (*model.SignalMessage, error)
	List(ctx context.Context, roomID string) ([]*model.SignalMessage, error)
	Delete(ctx context.Context, roomID string) error
}

type mailboxRepo struct {
	store    kv.Store
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewMailboxRepository builds a mailbox store. A nil now uses time.Now.
func NewMailboxRepository(store kv.Store, now func() time.Time) MailboxRepository {
	if now == nil {
		now = time.Now
	}
	return &mailboxRepo{
		store:    store,
		ttl:      MailboxTTL,
		capacity: MailboxCapacity,
		now:      now,
	}
}

func (r *mailboxRepo) load(ctx context.Context, roomID string) (raw string, msgs []*model.SignalMessage, err error) {
	raw, err = r.store.Get(ctx, mailboxKey(roomID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Warn().
			Err(err).
			Str("roomId", roomID).
			Msg("mailbox is malformed, starting over")
		return raw, nil, nil
	}
	return raw, msgs, nil
}

func (r *mailboxRepo) Append(ctx context.Context, roomID string, msg *model.SignalMessage) (*model.SignalMessage, error) {
	key := mailboxKey(roomID)
	var stored model.SignalMessage

	err := withSwapRetry(ctx, func(ctx context.Context) error {
		raw, msgs, err := r.load(ctx, roomID)
		if err != nil {
			return err
		}

		stored = *msg
		stored.Timestamp = nowMillis(r.now)
		if n := len(msgs); n > 0 && msgs[n-1].Timestamp >= stored.Timestamp {
			stored.Timestamp = msgs[n-1].Timestamp + 1
		}

		msgs = append(msgs, &stored)
		if len(msgs) > r.capacity {
			msgs = msgs[len(msgs)-r.capacity:]
		}

		encoded, err := json.Marshal(msgs)
		if err != nil {
			return fmt.Errorf("encode mailbox: %w", err)
		}

		swapped, err := r.store.CompareAndSwap(ctx, key, raw, string(encoded), r.ttl)
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
	return &stored, nil
}

func (r *mailboxRepo) List(ctx context.Context, roomID string) ([]*model.SignalMessage, error) {
	_, msgs, err := r.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *mailboxRepo) Delete(ctx context.Context, roomID string) error {
	_, err := r.store.Delete(ctx, mailboxKey(roomID))
	return err
}
