package client

import (
	"context"
	"time"
)

const (
	// HighWaterMark is the buffered amount above which sends wait.
	HighWaterMark = 8 << 20
	// BufferRecheckInterval is how often a waiting send re-reads the
	// buffered amount.
	BufferRecheckInterval = 50 * time.Millisecond
	// FileChunkSize is the payload size of one file-chunk frame.
	FileChunkSize = 32 << 10
)

// BufferedChannel is a message channel that reports how much it has queued.
// *webrtc.DataChannel satisfies it.
type BufferedChannel interface {
	BufferedAmount() uint64
	Send(data []byte) error
}

// ChunkSender applies backpressure to a BufferedChannel.
type ChunkSender struct {
	ch        BufferedChannel
	highWater uint64
	recheck   time.Duration
}

func NewChunkSender(ch BufferedChannel) *ChunkSender {
	return &ChunkSender{
		ch:        ch,
		highWater: HighWaterMark,
		recheck:   BufferRecheckInterval,
	}
}

// Send blocks while the channel is over the high-water mark, then sends.
func (s *ChunkSender) Send(ctx context.Context, data []byte) error {
	if err := s.waitForSpace(ctx); err != nil {
		return err
	}
	return s.ch.Send(data)
}

func (s *ChunkSender) waitForSpace(ctx context.Context) error {
	if s.ch.BufferedAmount() <= s.highWater {
		return ctx.Err()
	}

	ticker := time.NewTicker(s.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.ch.BufferedAmount() <= s.highWater {
				return nil
			}
		}
	}
}
