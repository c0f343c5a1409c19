package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/model"
)

const leaveTimeout = 5 * time.Second

type SessionConfig struct {
	DeviceName      string
	DeviceType      model.DeviceType
	ICEServers      []string
	IncludeLoopback bool
	PollInterval    time.Duration

	OnText   func(from string, frame *TextFrame)
	OnFile   func(from string, start FileStartFrame, data []byte)
	OnStatus func(PollStatus)
}

// Session is this device's membership in a LAN room: it polls the relay,
// keeps one Peer per other device and moves frames over the data channels.
type Session struct {
	client *Client
	cfg    SessionConfig
	device *model.Device
	roomID string

	ctx    context.Context
	cancel context.CancelFunc
	poller *Poller

	mu    sync.Mutex
	room  *model.Room
	peers map[string]*Peer
	files map[string]*FileAssembler
}

// JoinSession joins roomID and starts polling. Close must be called to
// leave the room.
func (c *Client) JoinSession(ctx context.Context, roomID string, cfg SessionConfig) (*Session, error) {
	room, device, err := c.JoinRoom(ctx, roomID, cfg.DeviceName, cfg.DeviceType)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: c,
		cfg:    cfg,
		device: device,
		roomID: room.ID,
		ctx:    sessCtx,
		cancel: cancel,
		room:   room,
		peers:  make(map[string]*Peer),
		files:  make(map[string]*FileAssembler),
	}
	s.poller = NewPoller(c, PollerConfig{
		RoomID:    room.ID,
		DeviceID:  device.ID,
		Interval:  cfg.PollInterval,
		OnMessage: s.handleMessage,
		OnStatus:  cfg.OnStatus,
	})

	s.syncPeers(room)
	s.poller.Start(sessCtx)
	return s, nil
}

func (s *Session) Device() *model.Device {
	return s.device
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Room() *model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Peers returns the ids of devices with an open data channel.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.peers))
	for id, p := range s.peers {
		if p.IsOpen() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) handleMessage(m *model.SignalMessage) {
	if m.Type == model.SignalTypeRoomUpdate {
		s.handleRoomUpdate(m)
		return
	}

	// Candidates can overtake the offer, so a responder peer is created on
	// any signal from a device that initiates towards us.
	create := m.Type == model.SignalTypeOffer || !ShouldInitiate(s.device.ID, m.FromDevice)
	peer := s.peerFor(m.FromDevice, create)
	if peer == nil {
		log.Debug().Str("from", m.FromDevice).Str("type", string(m.Type)).Msg("signal for unknown peer ignored")
		return
	}
	if err := peer.HandleSignal(m); err != nil {
		log.Warn().Err(err).Str("from", m.FromDevice).Str("type", string(m.Type)).Msg("failed to apply signal")
	}
}

func (s *Session) handleRoomUpdate(m *model.SignalMessage) {
	var update model.RoomUpdate
	if err := json.Unmarshal(m.Data, &update); err != nil {
		log.Warn().Err(err).Msg("malformed room update")
		return
	}
	if update.Type == model.RoomUpdateDeviceLeft && update.DeviceID != "" {
		s.closePeer(update.DeviceID)
	}
	if update.Room != nil {
		s.mu.Lock()
		s.room = update.Room
		s.mu.Unlock()
		s.syncPeers(update.Room)
	}
}

// syncPeers opens connections to devices this side should initiate to and
// drops peers whose device is no longer in the room.
func (s *Session) syncPeers(room *model.Room) {
	present := make(map[string]bool, len(room.Devices))
	for _, d := range room.Devices {
		present[d.ID] = true
		if d.ID == s.device.ID || !ShouldInitiate(s.device.ID, d.ID) {
			continue
		}
		s.peerFor(d.ID, true)
	}

	s.mu.Lock()
	var gone []string
	for id := range s.peers {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	s.mu.Unlock()

	for _, id := range gone {
		s.closePeer(id)
	}
}

// peerFor returns the peer for remoteID, creating it when create is set.
func (s *Session) peerFor(remoteID string, create bool) *Peer {
	s.mu.Lock()
	if p, ok := s.peers[remoteID]; ok {
		s.mu.Unlock()
		return p
	}
	s.mu.Unlock()
	if !create || remoteID == s.device.ID {
		return nil
	}

	initiator := ShouldInitiate(s.device.ID, remoteID)
	p, err := NewPeer(s.ctx, PeerConfig{
		RemoteID:        remoteID,
		Initiator:       initiator,
		ICEServers:      s.cfg.ICEServers,
		IncludeLoopback: s.cfg.IncludeLoopback,
		Signal: func(ctx context.Context, t model.SignalType, data any) error {
			return s.client.Signal(ctx, s.roomID, t, s.device.ID, remoteID, data)
		},
		OnMessage: s.handleData,
		OnState: func(id string, state webrtc.PeerConnectionState) {
			if state == webrtc.PeerConnectionStateFailed {
				go s.closePeer(id)
			}
		},
	})
	if err != nil {
		log.Error().Err(err).Str("remote", remoteID).Msg("failed to create peer")
		return nil
	}

	s.mu.Lock()
	if existing, ok := s.peers[remoteID]; ok {
		s.mu.Unlock()
		p.Close()
		return existing
	}
	s.peers[remoteID] = p
	s.mu.Unlock()

	if err := p.Start(); err != nil {
		log.Error().Err(err).Str("remote", remoteID).Msg("failed to start peer")
		s.closePeer(remoteID)
		return nil
	}
	return p
}

func (s *Session) closePeer(remoteID string) {
	s.mu.Lock()
	p, ok := s.peers[remoteID]
	delete(s.peers, remoteID)
	s.mu.Unlock()

	if ok {
		if err := p.Close(); err != nil {
			log.Debug().Err(err).Str("remote", remoteID).Msg("error closing peer")
		}
	}
}

func (s *Session) handleData(from string, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("from", from).Msg("dropping data channel message")
		return
	}

	switch f := frame.(type) {
	case *TextFrame:
		if s.cfg.OnText != nil {
			s.cfg.OnText(from, f)
		}
	case *FileStartFrame:
		s.mu.Lock()
		s.files[f.ID] = NewFileAssembler(*f)
		s.mu.Unlock()
	case *FileChunkFrame:
		s.mu.Lock()
		asm, ok := s.files[f.ID]
		s.mu.Unlock()
		if !ok {
			return
		}
		done, err := asm.Add(f)
		if err != nil {
			log.Warn().Err(err).Str("from", from).Msg("bad file chunk")
			return
		}
		if !done {
			return
		}

		s.mu.Lock()
		delete(s.files, f.ID)
		s.mu.Unlock()

		body, err := asm.Bytes()
		if err != nil {
			log.Warn().Err(err).Str("from", from).Msg("incomplete file")
			return
		}
		if s.cfg.OnFile != nil {
			s.cfg.OnFile(from, asm.Start, body)
		}
	}
}

func (s *Session) openPeers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.IsOpen() {
			peers = append(peers, p)
		}
	}
	return peers
}

// SendText sends a text frame to every connected peer and returns how many
// received it.
func (s *Session) SendText(ctx context.Context, text string) (int, error) {
	payload, err := json.Marshal(NewTextFrame(text))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range s.openPeers() {
		if err := p.Send(ctx, payload); err != nil {
			log.Warn().Err(err).Str("remote", p.RemoteID()).Msg("failed to send text")
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, fmt.Errorf("no connected peers")
	}
	return sent, nil
}

// SendFile streams r to every connected peer as file frames.
func (s *Session) SendFile(ctx context.Context, name, mimeType string, size int64, r io.Reader) error {
	peers := s.openPeers()
	if len(peers) == 0 {
		return fmt.Errorf("no connected peers")
	}

	_, err := FileFrames(name, mimeType, size, r, func(frame []byte) error {
		delivered := 0
		for _, p := range peers {
			if err := p.Send(ctx, frame); err != nil {
				log.Warn().Err(err).Str("remote", p.RemoteID()).Msg("failed to send file frame")
				continue
			}
			delivered++
		}
		if delivered == 0 {
			return fmt.Errorf("file transfer lost every peer")
		}
		return nil
	})
	return err
}

// Close stops polling, tears down peers and leaves the room, in that order.
func (s *Session) Close() error {
	s.poller.Stop()

	s.mu.Lock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.closePeer(id)
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	return s.client.LeaveRoom(ctx, s.roomID, s.device.ID)
}
