package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/model"
)

const (
	dataChannelLabel = "clipzy"
	signalTimeout    = 10 * time.Second
)

// ShouldInitiate decides which side of a pair sends the offer. Both sides
// evaluate it with the ids swapped, so exactly one of them initiates.
func ShouldInitiate(localID, remoteID string) bool {
	return localID < remoteID
}

// SignalFunc relays a signaling payload to the remote peer.
type SignalFunc func(ctx context.Context, t model.SignalType, data any) error

type PeerConfig struct {
	RemoteID   string
	Initiator  bool
	ICEServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates, for peers on one host.
	IncludeLoopback bool
	Signal          SignalFunc
	OnMessage       func(remoteID string, data []byte)
	OnState         func(remoteID string, state webrtc.PeerConnectionState)
}

// Peer is one WebRTC connection to another device, carrying a single data
// channel. Signaling goes through the relay via PeerConfig.Signal.
type Peer struct {
	cfg PeerConfig
	pc  *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	sender    *ChunkSender
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	open     chan struct{}
	openOnce sync.Once
}

func newPeerConnection(iceServers []string, includeLoopback bool) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(includeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return api.NewPeerConnection(config)
}

func NewPeer(ctx context.Context, cfg PeerConfig) (*Peer, error) {
	if cfg.Signal == nil {
		return nil, fmt.Errorf("peer %s: signal func is required", cfg.RemoteID)
	}

	pc, err := newPeerConnection(cfg.ICEServers, cfg.IncludeLoopback)
	if err != nil {
		return nil, fmt.Errorf("error creating peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		cfg:    cfg,
		pc:     pc,
		ctx:    ctx,
		cancel: cancel,
		open:   make(chan struct{}),
	}

	pc.OnICECandidate(p.onICECandidate)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("remote", cfg.RemoteID).Str("state", s.String()).Msg("peer connection state")
		if cfg.OnState != nil {
			cfg.OnState(cfg.RemoteID, s)
		}
	})
	if !cfg.Initiator {
		pc.OnDataChannel(p.attach)
	}
	return p, nil
}

func (p *Peer) RemoteID() string {
	return p.cfg.RemoteID
}

// Start sends the offer when this side initiates. Responders wait for one.
func (p *Peer) Start() error {
	if !p.cfg.Initiator {
		return nil
	}

	dc, err := p.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("error creating data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("error creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("error setting local description: %w", err)
	}
	return p.signal(model.SignalTypeOffer, offer)
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.sender = NewChunkSender(dc)
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.openOnce.Do(func() { close(p.open) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.cfg.OnMessage != nil {
			p.cfg.OnMessage(p.cfg.RemoteID, msg.Data)
		}
	})
}

func (p *Peer) signal(t model.SignalType, data any) error {
	ctx, cancel := context.WithTimeout(p.ctx, signalTimeout)
	defer cancel()
	return p.cfg.Signal(ctx, t, data)
}

func (p *Peer) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	payload := map[string]any{"type": "candidate", "candidate": c.ToJSON()}
	if err := p.signal(model.SignalTypeICECandidate, payload); err != nil {
		log.Warn().Err(err).Str("remote", p.cfg.RemoteID).Msg("failed to send ice candidate")
	}
}

// HandleSignal applies a signaling message from the remote peer.
func (p *Peer) HandleSignal(msg *model.SignalMessage) error {
	switch msg.Type {
	case model.SignalTypeOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if err := p.setRemote(offer); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("error creating answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("error setting local description: %w", err)
		}
		return p.signal(model.SignalTypeAnswer, answer)

	case model.SignalTypeAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		return p.setRemote(answer)

	case model.SignalTypeICECandidate:
		candidate, ok, err := decodeCandidate(msg.Data)
		if err != nil || !ok {
			return err
		}
		return p.addCandidate(candidate)
	}
	return fmt.Errorf("unexpected signal type %q", msg.Type)
}

func (p *Peer) setRemote(sd webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("error while setting remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("remote", p.cfg.RemoteID).Msg("dropping buffered ice candidate")
		}
	}
	return nil
}

// addCandidate buffers candidates that arrive before the remote description.
func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("error adding ice candidate: %w", err)
	}
	return nil
}

// decodeCandidate accepts a bare candidate or one wrapped as
// {"type":"candidate","candidate":{...}}. Payloads without a candidate are
// reported with ok false.
func decodeCandidate(data json.RawMessage) (c webrtc.ICECandidateInit, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return c, false, fmt.Errorf("decode candidate: %w", err)
	}
	raw, found := fields["candidate"]
	if !found {
		return c, false, nil
	}

	body := []byte(data)
	if nested := bytes.TrimSpace(raw); len(nested) > 0 && nested[0] == '{' {
		body = nested
	}
	if err := json.Unmarshal(body, &c); err != nil {
		return c, false, fmt.Errorf("decode candidate: %w", err)
	}
	return c, c.Candidate != "", nil
}

// WaitOpen blocks until the data channel is open.
func (p *Peer) WaitOpen(ctx context.Context) error {
	select {
	case <-p.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Peer) IsOpen() bool {
	select {
	case <-p.open:
		return true
	default:
		return false
	}
}

// Send writes one message once the channel is open, waiting out
// backpressure.
func (p *Peer) Send(ctx context.Context, data []byte) error {
	if err := p.WaitOpen(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	return sender.Send(ctx, data)
}

func (p *Peer) Close() error {
	p.cancel()
	return p.pc.Close()
}
