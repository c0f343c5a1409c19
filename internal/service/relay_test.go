package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/model"
	"github.com/clipzy/clipzy-server/internal/repository"
)

const testSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func newTestRelay(t *testing.T) (*RelayService, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	svc := NewRelayService(
		repository.NewRoomRepository(store),
		repository.NewMailboxRepository(store, nil),
	)
	return svc, store
}

func offerData(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{"type": "offer", "sdp": testSDP})
	require.NoError(t, err)
	return data
}

func decodeUpdate(t *testing.T, msg *model.SignalMessage) model.RoomUpdate {
	t.Helper()
	var update model.RoomUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	return update
}

func TestRelayService_CreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an empty room", func(t *testing.T) {
		svc, _ := newTestRelay(t)

		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)
		assert.Len(t, room.ID, 6)
		assert.Equal(t, "Room "+room.ID, room.Name)
		assert.Empty(t, room.Devices)

		got, err := svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, room.ID, got.ID)
	})

	t.Run("retries when the code is taken", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		svc.newRoomCode = sequenceIDs("AAAAAA", "AAAAAA", "BBBBBB")

		first, err := svc.CreateRoom(ctx)
		require.NoError(t, err)
		second, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		assert.Equal(t, "AAAAAA", first.ID)
		assert.Equal(t, "BBBBBB", second.ID)
	})

	t.Run("unknown room", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		_, err := svc.GetRoom(ctx, "ZZZZZZ")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRelayService_JoinRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("first device gets no broadcast", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		joined, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)
		assert.Equal(t, model.DeviceTypeDesktop, joined.Device.Type)
		assert.Len(t, joined.Room.Devices, 1)

		msgs, err := svc.Poll(ctx, room.ID, joined.Device.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("later devices are announced to the others", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		a, err := svc.JoinRoom(ctx, room.ID, "laptop", model.DeviceTypeDesktop)
		require.NoError(t, err)
		b, err := svc.JoinRoom(ctx, room.ID, "phone", model.DeviceTypeMobile)
		require.NoError(t, err)
		assert.Len(t, b.Room.Devices, 2)

		msgs, err := svc.Poll(ctx, room.ID, a.Device.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.SignalTypeRoomUpdate, msgs[0].Type)
		assert.Equal(t, model.ServerSender, msgs[0].FromDevice)

		update := decodeUpdate(t, msgs[0])
		assert.Equal(t, model.RoomUpdateDeviceJoined, update.Type)
		assert.Equal(t, b.Device.ID, update.Device.ID)
		assert.Len(t, update.Room.Devices, 2)

		msgs, err = svc.Poll(ctx, room.ID, b.Device.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs, "the joining device is excluded")
	})

	t.Run("rejoining under the same name replaces the device", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		first, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)
		second, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)

		require.Len(t, second.Room.Devices, 1)
		assert.Equal(t, second.Device.ID, second.Room.Devices[0].ID)
		assert.NotEqual(t, first.Device.ID, second.Device.ID)
	})

	t.Run("validation", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		_, err = svc.JoinRoom(ctx, room.ID, "  ", "")
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

		_, err = svc.JoinRoom(ctx, room.ID, "laptop", "toaster")
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

		_, err = svc.JoinRoom(ctx, "", "laptop", "")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))

		_, err = svc.JoinRoom(ctx, "NOROOM", "laptop", "")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("room codes are case insensitive", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		svc.newRoomCode = sequenceIDs("ABC123")
		_, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		joined, err := svc.JoinRoom(ctx, " abc123 ", "laptop", "")
		require.NoError(t, err)
		assert.Equal(t, "ABC123", joined.Room.ID)
	})
}

func TestRelayService_LeaveRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("remaining devices see device-left", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		a, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)
		b, err := svc.JoinRoom(ctx, room.ID, "phone", "")
		require.NoError(t, err)

		msgs, err := svc.Poll(ctx, room.ID, a.Device.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		cursor := msgs[0].Timestamp

		require.NoError(t, svc.LeaveRoom(ctx, room.ID, b.Device.ID))

		msgs, err = svc.Poll(ctx, room.ID, a.Device.ID, cursor)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		update := decodeUpdate(t, msgs[0])
		assert.Equal(t, model.RoomUpdateDeviceLeft, update.Type)
		assert.Equal(t, b.Device.ID, update.DeviceID)
		assert.Len(t, update.Room.Devices, 1)
	})

	t.Run("last device deletes room and mailbox", func(t *testing.T) {
		svc, store := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		a, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)
		_, err = svc.JoinRoom(ctx, room.ID, "phone", "")
		require.NoError(t, err)

		joined, err := svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		for _, d := range joined.Devices {
			require.NoError(t, svc.LeaveRoom(ctx, room.ID, d.ID))
		}

		_, err = svc.GetRoom(ctx, room.ID)
		assert.True(t, apperrors.IsNotFound(err))

		keys, err := store.Keys(ctx, "lan:messages:*")
		require.NoError(t, err)
		assert.Empty(t, keys)

		err = svc.LeaveRoom(ctx, room.ID, a.Device.ID)
		assert.True(t, apperrors.IsNotFound(err), "the room is gone")
	})

	t.Run("unknown device is a no-op", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)
		_, err = svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)

		require.NoError(t, svc.LeaveRoom(ctx, room.ID, "ghost"))

		got, err := svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Len(t, got.Devices, 1)
	})
}

func TestRelayService_SendSignal(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*RelayService, string, *JoinResult, *JoinResult) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)
		a, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)
		b, err := svc.JoinRoom(ctx, room.ID, "phone", "")
		require.NoError(t, err)
		return svc, room.ID, a, b
	}

	t.Run("delivers to the addressee only", func(t *testing.T) {
		svc, roomID, a, b := setup(t)

		// drain the join announcement
		pending, err := svc.Poll(ctx, roomID, a.Device.ID, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		sent, err := svc.SendSignal(ctx, roomID, SignalInput{
			Type:       model.SignalTypeOffer,
			FromDevice: a.Device.ID,
			ToDevice:   b.Device.ID,
			Data:       offerData(t),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, sent.ID)
		assert.Positive(t, sent.Timestamp)

		msgs, err := svc.Poll(ctx, roomID, b.Device.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, sent.ID, msgs[0].ID)
		assert.JSONEq(t, string(offerData(t)), string(msgs[0].Data))

		msgs, err = svc.Poll(ctx, roomID, a.Device.ID, pending[0].Timestamp)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = svc.Poll(ctx, roomID, b.Device.ID, sent.Timestamp)
		require.NoError(t, err)
		assert.Empty(t, msgs, "cursor excludes delivered messages")
	})

	t.Run("sender must be in the room", func(t *testing.T) {
		svc, roomID, _, b := setup(t)

		_, err := svc.SendSignal(ctx, roomID, SignalInput{
			Type:       model.SignalTypeOffer,
			FromDevice: "ghost",
			ToDevice:   b.Device.ID,
			Data:       offerData(t),
		})
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("rejects bad payloads", func(t *testing.T) {
		svc, roomID, a, b := setup(t)

		tests := []struct {
			name string
			in   SignalInput
			code apperrors.ErrorCode
		}{
			{"missing data", SignalInput{Type: model.SignalTypeOffer, FromDevice: a.Device.ID, ToDevice: b.Device.ID}, apperrors.ErrCodeMissingRequired},
			{"missing target", SignalInput{Type: model.SignalTypeOffer, FromDevice: a.Device.ID, Data: offerData(t)}, apperrors.ErrCodeMissingRequired},
			{"room-update from a client", SignalInput{Type: model.SignalTypeRoomUpdate, FromDevice: a.Device.ID, ToDevice: b.Device.ID, Data: json.RawMessage(`{}`)}, apperrors.ErrCodeInvalidInput},
			{"answer labelled offer", SignalInput{Type: model.SignalTypeOffer, FromDevice: a.Device.ID, ToDevice: b.Device.ID, Data: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}, apperrors.ErrCodeInvalidInput},
			{"not an object", SignalInput{Type: model.SignalTypeICECandidate, FromDevice: a.Device.ID, ToDevice: b.Device.ID, Data: json.RawMessage(`"x"`)}, apperrors.ErrCodeInvalidInput},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.SendSignal(ctx, roomID, tc.in)
				assert.Equal(t, tc.code, apperrors.GetCode(err))
			})
		}
	})

	t.Run("concurrent senders keep every message", func(t *testing.T) {
		svc, roomID, a, b := setup(t)
		candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.SendSignal(ctx, roomID, SignalInput{
					Type:       model.SignalTypeICECandidate,
					FromDevice: a.Device.ID,
					ToDevice:   b.Device.ID,
					Data:       candidate,
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		msgs, err := svc.Poll(ctx, roomID, b.Device.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 10)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].Timestamp, msgs[i-1].Timestamp, fmt.Sprintf("message %d", i))
		}
	})
}

func TestRelayService_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown device", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)

		_, err = svc.Poll(ctx, room.ID, "ghost", 0)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("unknown room", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		_, err := svc.Poll(ctx, "NOROOM", "dev", 0)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("records a heartbeat", func(t *testing.T) {
		svc, _ := newTestRelay(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return now }

		room, err := svc.CreateRoom(ctx)
		require.NoError(t, err)
		joined, err := svc.JoinRoom(ctx, room.ID, "laptop", "")
		require.NoError(t, err)

		now = now.Add(30 * time.Second)
		_, err = svc.Poll(ctx, room.ID, joined.Device.ID, 0)
		require.NoError(t, err)

		got, err := svc.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, now.UnixMilli(), got.Devices[0].LastSeen)
		assert.Equal(t, now.UnixMilli(), got.LastActivity)
	})
}

func TestRelayService_MalformedIdentifiers(t *testing.T) {
	ctx := context.Background()
	// No repositories: any storage access would panic.
	svc := NewRelayService(nil, nil)

	for _, code := range []string{"AB", "ABCDEFG", "no!pe", "lan:rooms", "ABC 12"} {
		t.Run("room "+code, func(t *testing.T) {
			_, err := svc.GetRoom(ctx, code)
			assert.True(t, apperrors.IsNotFound(err))

			_, err = svc.JoinRoom(ctx, code, "laptop", "")
			assert.True(t, apperrors.IsNotFound(err))

			err = svc.LeaveRoom(ctx, code, "dev")
			assert.True(t, apperrors.IsNotFound(err))

			_, err = svc.SendSignal(ctx, code, SignalInput{
				Type:       model.SignalTypeOffer,
				FromDevice: "a",
				ToDevice:   "b",
				Data:       offerData(t),
			})
			assert.True(t, apperrors.IsNotFound(err))
		})
	}

	t.Run("device id", func(t *testing.T) {
		_, err := svc.Poll(ctx, "ABC123", "bad id!", 0)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRelayService_EvictStaleDevices(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestRelay(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	room, err := svc.CreateRoom(ctx)
	require.NoError(t, err)
	stale, err := svc.JoinRoom(ctx, room.ID, "old laptop", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := svc.JoinRoom(ctx, room.ID, "phone", "")
	require.NoError(t, err)

	evicted, err := svc.EvictStaleDevices(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	got, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, fresh.Device.ID, got.Devices[0].ID)
	assert.Nil(t, got.FindDevice(stale.Device.ID))
}

func TestRelayService_ListRooms(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestRelay(t)
	svc.newRoomCode = sequenceIDs("BBBBBB", "AAAAAA")

	_, err := svc.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = svc.CreateRoom(ctx)
	require.NoError(t, err)

	ids, err := svc.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAA", "BBBBBB"}, ids)
}
