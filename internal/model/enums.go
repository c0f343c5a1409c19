package model

type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeDesktop, DeviceTypeMobile, DeviceTypeTablet:
		return true
	}
	return false
}

type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeRoomUpdate   SignalType = "room-update"
)

// Valid reports whether t may be sent by a device. Room updates are
// emitted by the server only.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate:
		return true
	}
	return false
}

type RoomUpdateType string

const (
	RoomUpdateDeviceJoined RoomUpdateType = "device-joined"
	RoomUpdateDeviceLeft   RoomUpdateType = "device-left"
)
