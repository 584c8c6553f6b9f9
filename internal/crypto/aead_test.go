package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()

	key, _ := RandBytes(KeyLen)
	msg := []byte("salt1234:p1:deadbeef")

	sealed, err := Seal(key, msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != NonceLen+len(msg)+TagLen {
		t.Fatalf("sealed len=%d", len(sealed))
	}
	got, err := Open(key, sealed)
	if err != nil || !bytes.Equal(got, msg) {
		t.Fatalf("Open: %q %v", got, err)
	}

	again, _ := Seal(key, msg)
	if bytes.Equal(again[:NonceLen], sealed[:NonceLen]) {
		t.Fatalf("nonce reused")
	}
}

func TestOpen_Rejects(t *testing.T) {
	t.Parallel()

	key, _ := RandBytes(KeyLen)
	other, _ := RandBytes(KeyLen)
	sealed, _ := Seal(key, []byte("payload"))

	if _, err := Open(key, sealed[:MinSealed-1]); !errors.Is(err, ErrSealedTooShort) {
		t.Fatalf("want ErrSealedTooShort, got %v", err)
	}
	if _, err := Open(other, sealed); err == nil {
		t.Fatalf("want error with wrong key")
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := Open(key, tampered); err == nil {
		t.Fatalf("want error on tampered tag")
	}
	if _, err := Seal([]byte("short"), []byte("x")); err == nil {
		t.Fatalf("want error on short key")
	}
}

func TestKeyCache(t *testing.T) {
	t.Parallel()

	c := NewKeyCache()
	secret := []byte("server-secret")

	k1, err := c.Key(secret)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, _ := c.Key(secret)
	if !bytes.Equal(k1, k2) || c.Len() != 1 {
		t.Fatalf("cache miss on second call, len=%d", c.Len())
	}
	direct, _ := DeriveKey(secret)
	if !bytes.Equal(k1, direct) || len(k1) != KeyLen {
		t.Fatalf("cached key differs from derived key")
	}

	k3, _ := c.Key([]byte("another"))
	if bytes.Equal(k1, k3) {
		t.Fatalf("different secrets produced equal keys")
	}

	c.Invalidate(secret)
	if c.Len() != 1 {
		t.Fatalf("Invalidate: len=%d, want 1", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("Purge: len=%d", c.Len())
	}
}
