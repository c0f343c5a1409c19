package util

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PasteIDLength  = 10
	RoomCodeLength = 6
	DeviceIDLength = 8

	roomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	deviceIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewPasteID returns a URL-safe id using the default nanoid alphabet.
func NewPasteID() (string, error) {
	return gonanoid.New(PasteIDLength)
}

// NewRoomCode returns a short code that is easy to read out and type.
func NewRoomCode() (string, error) {
	return gonanoid.Generate(roomCodeAlphabet, RoomCodeLength)
}

func NewDeviceID() (string, error) {
	return gonanoid.Generate(deviceIDAlphabet, DeviceIDLength)
}

func NewMessageID() string {
	return uuid.NewString()
}
