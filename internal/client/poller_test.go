package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipzy/clipzy-server/internal/model"
)

type pollResult struct {
	msgs []*model.SignalMessage
	err  error
}

// fakeSource replays scripted results and then keeps returning nothing.
type fakeSource struct {
	mu      sync.Mutex
	results []pollResult
	cursors []int64
}

func (f *fakeSource) Poll(_ context.Context, _, _ string, cursor int64) ([]*model.SignalMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)

	if len(f.results) == 0 {
		return nil, cursor, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	if r.err != nil {
		return nil, cursor, r.err
	}
	next := cursor
	for _, m := range r.msgs {
		next = max(next, m.Timestamp)
	}
	return r.msgs, next, nil
}

func (f *fakeSource) seenCursors() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cursors...)
}

type recorder struct {
	mu       sync.Mutex
	msgs     []string
	statuses []PollStatus
}

func (r *recorder) onMessage(m *model.SignalMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m.ID)
}

func (r *recorder) onStatus(s PollStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) statusHistory() []PollStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PollStatus(nil), r.statuses...)
}

func msg(id string, ts int64) *model.SignalMessage {
	return &model.SignalMessage{ID: id, Type: model.SignalTypeRoomUpdate, Timestamp: ts}
}

func TestPoller(t *testing.T) {
	t.Run("delivers messages and advances the cursor", func(t *testing.T) {
		source := &fakeSource{results: []pollResult{
			{msgs: []*model.SignalMessage{msg("a", 10), msg("b", 20)}},
			{msgs: []*model.SignalMessage{msg("c", 30)}},
		}}
		rec := &recorder{}
		p := NewPoller(source, PollerConfig{
			RoomID:    "ABC123",
			DeviceID:  "dev",
			Interval:  5 * time.Millisecond,
			OnMessage: rec.onMessage,
			OnStatus:  rec.onStatus,
		})
		p.Start(context.Background())
		defer p.Stop()

		require.Eventually(t, func() bool { return len(rec.messages()) == 3 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"a", "b", "c"}, rec.messages())
		assert.Equal(t, int64(30), p.Cursor())
		assert.Equal(t, PollStatusConnected, p.Status())

		cursors := source.seenCursors()
		require.GreaterOrEqual(t, len(cursors), 2)
		assert.Equal(t, []int64{0, 20}, cursors[:2])
	})

	t.Run("reports error after repeated failures and recovers", func(t *testing.T) {
		boom := errors.New("boom")
		source := &fakeSource{results: []pollResult{
			{err: boom}, {err: boom}, {err: boom},
			{msgs: []*model.SignalMessage{msg("a", 5)}},
		}}
		rec := &recorder{}
		p := NewPoller(source, PollerConfig{
			Interval:  5 * time.Millisecond,
			OnMessage: rec.onMessage,
			OnStatus:  rec.onStatus,
		})
		p.Start(context.Background())
		defer p.Stop()

		require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []PollStatus{PollStatusError, PollStatusConnected}, rec.statusHistory())
	})

	t.Run("two failures are not an error", func(t *testing.T) {
		boom := errors.New("boom")
		source := &fakeSource{results: []pollResult{{err: boom}, {err: boom}}}
		rec := &recorder{}
		p := NewPoller(source, PollerConfig{Interval: 5 * time.Millisecond, OnStatus: rec.onStatus})
		p.Start(context.Background())
		defer p.Stop()

		require.Eventually(t, func() bool { return len(source.seenCursors()) >= 3 }, time.Second, 5*time.Millisecond)
		assert.NotContains(t, rec.statusHistory(), PollStatusError)
	})

	t.Run("no callbacks after stop", func(t *testing.T) {
		source := &fakeSource{}
		rec := &recorder{}
		p := NewPoller(source, PollerConfig{Interval: 5 * time.Millisecond, OnMessage: rec.onMessage})
		p.Start(context.Background())
		require.Eventually(t, func() bool { return len(source.seenCursors()) >= 1 }, time.Second, 5*time.Millisecond)

		p.Stop()
		assert.Equal(t, PollStatusStopped, p.Status())

		source.mu.Lock()
		source.results = []pollResult{{msgs: []*model.SignalMessage{msg("late", 1)}}}
		source.mu.Unlock()

		time.Sleep(30 * time.Millisecond)
		assert.Empty(t, rec.messages())
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		p := NewPoller(&fakeSource{}, PollerConfig{})
		p.Stop()
		assert.Equal(t, PollStatusIdle, p.Status())
	})
}
