package util

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	t.Run("round trips", func(t *testing.T) {
		ciphertext, err := Encrypt(key, "hello 世界")
		require.NoError(t, err)

		plaintext, err := Decrypt(key, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "hello 世界", plaintext)
	})

	t.Run("ciphertext carries a 12 byte iv", func(t *testing.T) {
		ciphertext, err := Encrypt(key, "x")
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(ciphertext)
		require.NoError(t, err)
		// iv + 1 byte + 16 byte tag
		assert.Len(t, raw, 12+1+16)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := GenerateKey()
		require.NoError(t, err)

		ciphertext, err := Encrypt(key, "secret")
		require.NoError(t, err)

		_, err = Decrypt(other, ciphertext)
		assert.Error(t, err)
	})

	t.Run("short ciphertext fails", func(t *testing.T) {
		_, err := Decrypt(key, base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
	})
}

func TestDecodeKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(250 - i)
	}
	std := base64.StdEncoding.EncodeToString(raw)
	require.True(t, strings.ContainsAny(std, "+/"), "fixture should exercise + and /")

	tests := []struct {
		name string
		in   string
	}{
		{"standard", std},
		{"unpadded", strings.TrimRight(std, "=")},
		{"url safe", base64.URLEncoding.EncodeToString(raw)},
		{"plus turned into space", strings.ReplaceAll(std, "+", " ")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := DecodeKey(tc.in)
			require.NoError(t, err)
			assert.Equal(t, raw, key)
		})
	}

	t.Run("wrong length", func(t *testing.T) {
		_, err := DecodeKey(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeKey("%%%")
		assert.Error(t, err)
	})
}

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Seal(key, "paste body")
	require.NoError(t, err)

	plaintext, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "paste body", plaintext)
}

func TestCompress(t *testing.T) {
	compressed, err := Compress(strings.Repeat("abc", 100))
	require.NoError(t, err)
	assert.Less(t, len(compressed), 300)

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("abc", 100), out)
}

func TestIDs(t *testing.T) {
	t.Run("paste id", func(t *testing.T) {
		id, err := NewPasteID()
		require.NoError(t, err)
		assert.Len(t, id, PasteIDLength)
		assert.True(t, IsValidPasteID(id))
	})

	t.Run("room code", func(t *testing.T) {
		code, err := NewRoomCode()
		require.NoError(t, err)
		assert.True(t, IsValidRoomCode(code))
	})

	t.Run("device id", func(t *testing.T) {
		id, err := NewDeviceID()
		require.NoError(t, err)
		assert.Len(t, id, DeviceIDLength)
		assert.True(t, IsValidDeviceID(id))
	})

	t.Run("message ids are unique", func(t *testing.T) {
		assert.NotEqual(t, NewMessageID(), NewMessageID())
	})
}

func TestValidation(t *testing.T) {
	assert.False(t, IsValidPasteID(""))
	assert.False(t, IsValidPasteID("../etc"))
	assert.False(t, IsValidPasteID("a/b"))
	assert.True(t, IsValidPasteID("V1StGXR8_Z"))

	assert.Equal(t, "ABC123", NormalizeRoomCode(" abc123 "))
	assert.False(t, IsValidRoomCode("ABC12"))
	assert.False(t, IsValidRoomCode("abc123"))

	name, ok := NormalizeDeviceName("  laptop  ")
	assert.True(t, ok)
	assert.Equal(t, "laptop", name)

	_, ok = NormalizeDeviceName("   ")
	assert.False(t, ok)

	_, ok = NormalizeDeviceName(strings.Repeat("名", MaxDeviceNameLength+1))
	assert.False(t, ok)

	_, ok = NormalizeDeviceName(strings.Repeat("名", MaxDeviceNameLength))
	assert.True(t, ok)
}
