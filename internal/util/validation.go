package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	pasteIDRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	roomCodeRegex = regexp.MustCompile(`^[0-9A-Z]{6}$`)
	deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

const MaxDeviceNameLength = 64

func IsValidPasteID(s string) bool {
	return pasteIDRegex.MatchString(s)
}

// NormalizeRoomCode upper-cases and trims a user-typed room code.
func NormalizeRoomCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsValidRoomCode(s string) bool {
	return roomCodeRegex.MatchString(s)
}

func IsValidDeviceID(s string) bool {
	return deviceIDRegex.MatchString(s)
}

// NormalizeDeviceName trims name and reports whether the result is usable.
func NormalizeDeviceName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxDeviceNameLength {
		return name, false
	}
	return name, true
}
