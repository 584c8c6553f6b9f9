package crypto

import (
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Fixed HKDF labels for the activation-code key.
var (
	hkdfSalt = []byte("keygate/activation-code/v1")
	hkdfInfo = []byte("aes-256-gcm")
)

// DeriveKey derives a 32-byte AES key from secret via HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, hkdfSalt, hkdfInfo)
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// KeyCache memoises DeriveKey results keyed by the SHA-256 fingerprint of the
// secret, so raw secrets are never used as map keys.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte][]byte
}

// NewKeyCache constructs an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[[sha256.Size]byte][]byte)}
}

// Key returns the derived key for secret, deriving it on first use.
func (c *KeyCache) Key(secret []byte) ([]byte, error) {
	fp := Fingerprint(secret)

	c.mu.RLock()
	k, ok := c.keys[fp]
	c.mu.RUnlock()
	if ok {
		return k, nil
	}

	k, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.keys[fp] = k
	c.mu.Unlock()
	return k, nil
}

// Invalidate drops the cached key for secret.
func (c *KeyCache) Invalidate(secret []byte) {
	fp := Fingerprint(secret)
	c.mu.Lock()
	delete(c.keys, fp)
	c.mu.Unlock()
}

// Purge drops every cached key.
func (c *KeyCache) Purge() {
	c.mu.Lock()
	c.keys = make(map[[sha256.Size]byte][]byte)
	c.mu.Unlock()
}

// Len reports how many keys are cached.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
