// Package aescbc implements the AES-128-CBC codec used to encrypt and
// decrypt urpc frame payloads. The key is always the pre-shared secret K;
// the IV is the caller's current rolling session key.
package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// BlockSize is the AES block size, and the unit frame payloads are padded to.
const BlockSize = aes.BlockSize // 16

var (
	// ErrBadPadding is returned when the trailing pad byte of a decrypted
	// payload is out of the valid [1, BlockSize] range.
	ErrBadPadding = errors.New("aescbc: invalid padding")
	// ErrNotBlockAligned is returned when ciphertext is not a multiple of BlockSize.
	ErrNotBlockAligned = errors.New("aescbc: ciphertext not block-aligned")
)

// Encrypt pads plaintext per Pad and encrypts it with AES-128-CBC under key
// and iv. It does not mutate plaintext; it returns a freshly allocated
// ciphertext of the same length as the padded plaintext.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aescbc: new cipher: %w", err)
	}

	padded := Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt decrypts ciphertext with AES-128-CBC under key and iv and strips
// the padding added by Pad. ciphertext must be a positive multiple of
// BlockSize.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aescbc: new cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return Unpad(out)
}

// Pad applies PKCS#7-style padding so the result is a positive multiple of
// BlockSize. Unlike textbook PKCS#7, callers never omit the pad: a payload
// that is already block-aligned still gets a full extra block, so Unpad can
// always trust the trailing byte.
func Pad(plaintext []byte) []byte {
	padLen := BlockSize - len(plaintext)%BlockSize
	out := make([]byte, len(plaintext)+padLen)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// Unpad strips padding added by Pad. It rejects any pad byte outside
// [1, BlockSize] or a pad length longer than the input itself, which would
// otherwise let a corrupted frame be "decrypted" into a negative-length body.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, ErrBadPadding
	}
	padLen := int(padded[len(padded)-1])
	if padLen < 1 || padLen > BlockSize || padLen > len(padded) {
		return nil, ErrBadPadding
	}
	return padded[:len(padded)-padLen], nil
}
