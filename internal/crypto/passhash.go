// Package crypto implements the server-side primitives: hashing, AES-GCM,
// HKDF key derivation, RSA-OAEP and Argon2id secret verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the admin secret, hashed once at startup.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandAlnum returns a random alphanumeric string of length n.
func RandAlnum(n int) (string, error) {
	out := make([]byte, n)
	lim := big.NewInt(int64(len(alnum)))
	for i := range out {
		v, err := rand.Int(rand.Reader, lim)
		if err != nil {
			return "", err
		}
		out[i] = alnum[v.Int64()]
	}
	return string(out), nil
}

// HashSecret returns the Argon2id hash of secret under salt.
func HashSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret reports in constant time whether secret hashes to expected.
func VerifySecret(secret, salt, expected []byte) bool {
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
