package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/model"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 10 * time.Second
	// MaxPollFailures is how many polls in a row may fail before the poller
	// reports an error status.
	MaxPollFailures = 3
)

type PollStatus string

const (
	PollStatusIdle      PollStatus = "idle"
	PollStatusConnected PollStatus = "connected"
	PollStatusError     PollStatus = "error"
	PollStatusStopped   PollStatus = "stopped"
)

// MessageSource is the part of Client the poller needs.
type MessageSource interface {
	Poll(ctx context.Context, roomID, deviceID string, cursor int64) ([]*model.SignalMessage, int64, error)
}

type PollerConfig struct {
	RoomID   string
	DeviceID string
	Interval time.Duration
	Timeout  time.Duration
	// OnMessage receives messages in timestamp order on the poller goroutine.
	OnMessage func(*model.SignalMessage)
	// OnStatus is called whenever the status changes.
	OnStatus func(PollStatus)
}

// Poller fetches relay messages on an interval. Polls run one at a time on
// a single goroutine, so a slow request delays the next tick instead of
// overlapping it.
type Poller struct {
	source MessageSource
	cfg    PollerConfig

	mu       sync.Mutex
	cursor   int64
	failures int
	status   PollStatus
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPoller(source MessageSource, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	return &Poller{
		source: source,
		cfg:    cfg,
		status: PollStatusIdle,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels any in-flight poll and waits for the loop to exit. No
// callback runs after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	p.setStatus(PollStatusStopped)
}

func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	msgs, next, err := p.source.Poll(reqCtx, p.cfg.RoomID, p.cfg.DeviceID, p.Cursor())
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.recordFailure(err)
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.cursor = max(p.cursor, next)
	p.mu.Unlock()
	p.setStatus(PollStatusConnected)

	for _, m := range msgs {
		if ctx.Err() != nil {
			return
		}
		if p.cfg.OnMessage != nil {
			p.cfg.OnMessage(m)
		}
	}
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	log.Warn().
		Err(err).
		Str("roomId", p.cfg.RoomID).
		Int("failures", failures).
		Msg("poll failed")

	if failures >= MaxPollFailures {
		p.setStatus(PollStatusError)
	}
}

func (p *Poller) setStatus(s PollStatus) {
	p.mu.Lock()
	changed := p.status != s
	p.status = s
	p.mu.Unlock()

	if changed && p.cfg.OnStatus != nil {
		p.cfg.OnStatus(s)
	}
}
