package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AES-256-GCM layout: nonce(12) || ciphertext || tag(16).
const (
	KeyLen    = 32
	NonceLen  = 12
	TagLen    = 16
	MinSealed = NonceLen + TagLen
)

// ErrSealedTooShort is returned when a payload cannot hold nonce and tag.
var ErrSealedTooShort = errors.New("sealed payload too short")

// Seal encrypts plaintext with AES-256-GCM and a fresh random nonce prepended.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(NonceLen)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceLen+len(plaintext)+TagLen)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < MinSealed {
		return nil, ErrSealedTooShort
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, sealed[:NonceLen], sealed[NonceLen:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, errors.New("aes-256-gcm: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
