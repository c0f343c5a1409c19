package model

import "encoding/json"

const (
	// BroadcastTarget addresses every device in a room.
	BroadcastTarget = "*"
	// ServerSender marks messages emitted by the relay itself.
	ServerSender = "server"
)

type SignalMessage struct {
	ID            string          `json:"id"`
	Type          SignalType      `json:"type"`
	FromDevice    string          `json:"fromDevice"`
	ToDevice      string          `json:"toDevice"`
	ExcludeDevice string          `json:"excludeDevice,omitempty"`
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"`
}

// AddressedTo reports whether the message should be delivered to deviceID.
func (m *SignalMessage) AddressedTo(deviceID string) bool {
	if m.ToDevice == deviceID {
		return true
	}
	if m.ToDevice != BroadcastTarget {
		return false
	}
	return m.FromDevice != deviceID && m.ExcludeDevice != deviceID
}

// RoomUpdate is the payload of a room-update message.
type RoomUpdate struct {
	Type     RoomUpdateType `json:"type"`
	Room     *Room          `json:"room"`
	Device   *Device        `json:"device,omitempty"`
	DeviceID string         `json:"deviceId,omitempty"`
}
