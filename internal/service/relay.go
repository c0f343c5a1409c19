package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/audit"
	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/model"
	"github.com/clipzy/clipzy-server/internal/repository"
	"github.com/clipzy/clipzy-server/internal/util"
)

// JoinResult is the room after a join together with the new device.
type JoinResult struct {
	Room   *model.Room
	Device *model.Device
}

// SignalInput is a signal as submitted by a device, before the relay
// assigns its id and timestamp.
type SignalInput struct {
	Type       model.SignalType
	FromDevice string
	ToDevice   string
	Data       json.RawMessage
}

// RelayService coordinates LAN rooms: membership, liveness and the
// signaling mailbox peers use to set up direct connections.
type RelayService struct {
	rooms   repository.RoomRepository
	mailbox repository.MailboxRepository

	now         func() time.Time
	newRoomCode func() (string, error)
	newDeviceID func() (string, error)
}

func NewRelayService(rooms repository.RoomRepository, mailbox repository.MailboxRepository) *RelayService {
	return &RelayService{
		rooms:       rooms,
		mailbox:     mailbox,
		now:         time.Now,
		newRoomCode: util.NewRoomCode,
		newDeviceID: util.NewDeviceID,
	}
}

func (s *RelayService) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *RelayService) CreateRoom(ctx context.Context) (*model.Room, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		code, err := s.newRoomCode()
		if err != nil {
			return nil, apperrors.Internal("Failed to generate room code").WithCause(err)
		}

		now := s.nowMillis()
		room := &model.Room{
			ID:           code,
			Name:         "Room " + code,
			Devices:      []*model.Device{},
			CreatedAt:    now,
			LastActivity: now,
		}

		created, err := s.rooms.Create(ctx, room)
		if err != nil {
			return nil, storageError(err)
		}
		if !created {
			continue
		}

		audit.Log(ctx, audit.Event{Type: audit.EventRoomCreate, RoomID: code})
		return room, nil
	}

	return nil, apperrors.Internal("Failed to allocate a unique room code")
}

func (s *RelayService) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	roomID = util.NormalizeRoomCode(roomID)
	if roomID == "" {
		return nil, apperrors.MissingRequired("roomId")
	}
	if !util.IsValidRoomCode(roomID) {
		return nil, apperrors.RoomNotFound()
	}

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, storageError(err)
	}
	if room == nil {
		return nil, apperrors.RoomNotFound()
	}
	return room, nil
}

// ListRooms returns the ids of live rooms. Backends may answer this only
// approximately, so callers must cope with an empty or stale list.
func (s *RelayService) ListRooms(ctx context.Context) ([]string, error) {
	ids, err := s.rooms.ListIDs(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	sort.Strings(ids)
	return ids, nil
}

// JoinRoom adds a device to a room. A device already registered under the
// same name is replaced, so a reloaded client does not show up twice.
func (s *RelayService) JoinRoom(ctx context.Context, roomID, deviceName string, deviceType model.DeviceType) (*JoinResult, error) {
	roomID = util.NormalizeRoomCode(roomID)
	if roomID == "" {
		return nil, apperrors.MissingRequired("roomId")
	}
	if !util.IsValidRoomCode(roomID) {
		return nil, apperrors.RoomNotFound()
	}
	name, ok := util.NormalizeDeviceName(deviceName)
	if !ok {
		return nil, apperrors.InvalidInput("deviceName", "must be 1-64 characters")
	}
	if deviceType == "" {
		deviceType = model.DeviceTypeDesktop
	}
	if !deviceType.Valid() {
		return nil, apperrors.InvalidInput("deviceType", "must be desktop, mobile or tablet")
	}

	deviceID, err := s.newDeviceID()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate device id").WithCause(err)
	}
	now := s.nowMillis()
	device := &model.Device{
		ID:       deviceID,
		Name:     name,
		Type:     deviceType,
		JoinedAt: now,
		LastSeen: now,
	}

	room, err := s.rooms.Update(ctx, roomID, func(r *model.Room) (repository.UpdateAction, error) {
		r.RemoveDevicesNamed(name)
		joined := *device
		r.Devices = append(r.Devices, &joined)
		r.LastActivity = max(r.LastActivity, now)
		return repository.UpdateSave, nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	log.Info().
		Str("roomId", roomID).
		Str("deviceId", deviceID).
		Str("deviceType", string(deviceType)).
		Int("devices", len(room.Devices)).
		Msg("device joined room")

	if len(room.Devices) > 1 {
		s.broadcast(ctx, roomID, model.RoomUpdate{
			Type:   model.RoomUpdateDeviceJoined,
			Room:   room,
			Device: device,
		}, deviceID)
	}

	return &JoinResult{Room: room, Device: device}, nil
}

// LeaveRoom removes a device. The last device to leave takes the room and
// its mailbox with it. Leaving twice is not an error.
func (s *RelayService) LeaveRoom(ctx context.Context, roomID, deviceID string) error {
	roomID = util.NormalizeRoomCode(roomID)
	if roomID == "" {
		return apperrors.MissingRequired("roomId")
	}
	if deviceID == "" {
		return apperrors.MissingRequired("deviceId")
	}
	if !util.IsValidRoomCode(roomID) {
		return apperrors.RoomNotFound()
	}

	now := s.nowMillis()
	var removed bool
	room, err := s.rooms.Update(ctx, roomID, func(r *model.Room) (repository.UpdateAction, error) {
		removed = r.RemoveDevice(deviceID)
		if !removed {
			return repository.UpdateSkip, nil
		}
		if r.Empty() {
			return repository.UpdateDelete, nil
		}
		r.LastActivity = max(r.LastActivity, now)
		return repository.UpdateSave, nil
	})
	if err != nil {
		return storageError(err)
	}
	if !removed {
		return nil
	}

	if room == nil {
		if err := s.mailbox.Delete(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("roomId", roomID).Msg("failed to delete mailbox of empty room")
		}
		audit.Log(ctx, audit.Event{
			Type:     audit.EventRoomDelete,
			RoomID:   roomID,
			DeviceID: deviceID,
			Details:  map[string]interface{}{"reason": "empty"},
		})
		return nil
	}

	log.Info().
		Str("roomId", roomID).
		Str("deviceId", deviceID).
		Int("devices", len(room.Devices)).
		Msg("device left room")

	s.broadcast(ctx, roomID, model.RoomUpdate{
		Type:     model.RoomUpdateDeviceLeft,
		Room:     room,
		DeviceID: deviceID,
	}, "")
	return nil
}

// SendSignal queues a signaling payload for another device in the room.
func (s *RelayService) SendSignal(ctx context.Context, roomID string, in SignalInput) (*model.SignalMessage, error) {
	roomID = util.NormalizeRoomCode(roomID)
	switch {
	case roomID == "":
		return nil, apperrors.MissingRequired("roomId")
	case in.FromDevice == "":
		return nil, apperrors.MissingRequired("fromDevice")
	case in.ToDevice == "":
		return nil, apperrors.MissingRequired("toDevice")
	case len(in.Data) == 0:
		return nil, apperrors.MissingRequired("data")
	}
	if !in.Type.Valid() {
		return nil, apperrors.InvalidInput("type", "must be offer, answer or ice-candidate")
	}
	if err := validateSignalData(in.Type, in.Data); err != nil {
		return nil, apperrors.InvalidInput("data", err.Error())
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.FindDevice(in.FromDevice) == nil {
		return nil, apperrors.DeviceNotFound()
	}

	msg, err := s.mailbox.Append(ctx, roomID, &model.SignalMessage{
		ID:         util.NewMessageID(),
		Type:       in.Type,
		FromDevice: in.FromDevice,
		ToDevice:   in.ToDevice,
		Data:       in.Data,
	})
	if err != nil {
		return nil, storageError(err)
	}

	log.Debug().
		Str("roomId", roomID).
		Str("type", string(in.Type)).
		Str("from", in.FromDevice).
		Str("to", in.ToDevice).
		Msg("signal queued")
	return msg, nil
}

// Poll returns the messages for deviceID newer than cursor, oldest first,
// and records the poll as a heartbeat.
func (s *RelayService) Poll(ctx context.Context, roomID, deviceID string, cursor int64) ([]*model.SignalMessage, error) {
	if deviceID == "" {
		return nil, apperrors.MissingRequired("deviceId")
	}
	if !util.IsValidDeviceID(deviceID) {
		return nil, apperrors.DeviceNotFound()
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.FindDevice(deviceID) == nil {
		return nil, apperrors.DeviceNotFound()
	}

	all, err := s.mailbox.List(ctx, room.ID)
	if err != nil {
		return nil, storageError(err)
	}

	msgs := make([]*model.SignalMessage, 0)
	for _, m := range all {
		if m.Timestamp > cursor && m.AddressedTo(deviceID) {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	s.heartbeat(ctx, room.ID, deviceID)
	return msgs, nil
}

func (s *RelayService) heartbeat(ctx context.Context, roomID, deviceID string) {
	now := s.nowMillis()
	_, err := s.rooms.Update(ctx, roomID, func(r *model.Room) (repository.UpdateAction, error) {
		d := r.FindDevice(deviceID)
		if d == nil {
			return repository.UpdateSkip, nil
		}
		d.LastSeen = max(d.LastSeen, now)
		r.LastActivity = max(r.LastActivity, now)
		return repository.UpdateSave, nil
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("roomId", roomID).
			Str("deviceId", deviceID).
			Msg("heartbeat not recorded")
	}
}

// EvictStaleDevices removes devices that have not polled within staleAfter,
// through the same path as an explicit leave.
func (s *RelayService) EvictStaleDevices(ctx context.Context, staleAfter time.Duration) (int64, error) {
	ids, err := s.rooms.ListIDs(ctx)
	if err != nil {
		return 0, storageError(err)
	}

	cutoff := s.now().Add(-staleAfter).UnixMilli()
	var evicted int64
	for _, id := range ids {
		room, err := s.rooms.FindByID(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("roomId", id).Msg("skipping room during stale sweep")
			continue
		}
		if room == nil {
			continue
		}

		for _, d := range room.Devices {
			if d.LastSeen >= cutoff {
				continue
			}
			if err := s.LeaveRoom(ctx, id, d.ID); err != nil {
				log.Warn().Err(err).Str("roomId", id).Str("deviceId", d.ID).Msg("failed to evict stale device")
				continue
			}
			audit.Log(ctx, audit.Event{Type: audit.EventDeviceEvicted, RoomID: id, DeviceID: d.ID})
			evicted++
		}
	}
	return evicted, nil
}

func (s *RelayService) broadcast(ctx context.Context, roomID string, update model.RoomUpdate, exclude string) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to encode room update")
		return
	}

	_, err = s.mailbox.Append(ctx, roomID, &model.SignalMessage{
		ID:            util.NewMessageID(),
		Type:          model.SignalTypeRoomUpdate,
		FromDevice:    model.ServerSender,
		ToDevice:      model.BroadcastTarget,
		ExcludeDevice: exclude,
		Data:          data,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("roomId", roomID).
			Str("update", string(update.Type)).
			Msg("failed to broadcast room update")
	}
}
