package util

import (
	"fmt"

	lzstring "github.com/daku10/go-lz-string"
)

// Compress encodes s the way the web client does before upload
// (LZ-string, base64 output).
func Compress(s string) (string, error) {
	out, err := lzstring.CompressToBase64(s)
	if err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	return out, nil
}

// Decompress reverses Compress. An empty result for non-empty input means
// the input was not valid LZ-string data.
func Decompress(s string) (string, error) {
	out, err := lzstring.DecompressFromBase64(s)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	if out == "" && s != "" {
		return "", fmt.Errorf("decompress: no data")
	}
	return out, nil
}

// Seal encrypts then compresses, producing the value a client uploads.
func Seal(encodedKey, plaintext string) (string, error) {
	ciphertext, err := Encrypt(encodedKey, plaintext)
	if err != nil {
		return "", err
	}
	return Compress(ciphertext)
}

// Open reverses Seal.
func Open(encodedKey, stored string) (string, error) {
	ciphertext, err := Decompress(stored)
	if err != nil {
		return "", err
	}
	return Decrypt(encodedKey, ciphertext)
}
