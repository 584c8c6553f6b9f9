// Package clientcrypto contains client-side primitives: the hybrid session
// used to talk to the activation API and passphrase protection of the client
// key file.
package clientcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/keygate/internal/crypto"
)

// Params
const (
	KEKLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// keyFileMagic prefixes passphrase-protected key files.
var keyFileMagic = []byte("KGK1")

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a KEK from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KEKLen)
}

// Wrap encrypts plain with kek using XChaCha20-Poly1305 and a random nonce.
func Wrap(kek, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, nil)...)
	return out, nil
}

// Unwrap decrypts a Wrap result.
func Unwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("wrapped too short")
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := wrapped[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, wrapped[chacha20poly1305.NonceSizeX:], nil)
}

// SealKeyFile serializes priv as PKCS#8 PEM. With a non-empty passphrase the
// PEM is wrapped as magic || salt || Wrap(DeriveKEK(passphrase, salt), pem).
func SealKeyFile(priv *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	pemStr, err := crypto.MarshalPrivatePEM(priv)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return []byte(pemStr), nil
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	wrapped, err := Wrap(DeriveKEK(passphrase, salt), []byte(pemStr))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(keyFileMagic)+len(salt)+len(wrapped))
	out = append(out, keyFileMagic...)
	out = append(out, salt...)
	return append(out, wrapped...), nil
}

// OpenKeyFile is the inverse of SealKeyFile.
func OpenKeyFile(data, passphrase []byte) (*rsa.PrivateKey, error) {
	if len(data) >= len(keyFileMagic) && string(data[:len(keyFileMagic)]) == string(keyFileMagic) {
		rest := data[len(keyFileMagic):]
		if len(rest) < SaltLen {
			return nil, errors.New("key file too short")
		}
		if len(passphrase) == 0 {
			return nil, errors.New("key file is passphrase protected")
		}
		plain, err := Unwrap(DeriveKEK(passphrase, rest[:SaltLen]), rest[SaltLen:])
		if err != nil {
			return nil, errors.New("wrong passphrase or corrupted key file")
		}
		data = plain
	}
	return crypto.ParsePrivatePEM(string(data))
}
