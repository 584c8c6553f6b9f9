package clientcrypto

import (
	"bytes"
	"crypto/subtle"
	"testing"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/session"
)

func TestRand_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := Rand(n)
	if err != nil {
		t.Fatalf("Rand: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := Rand(n)
	if bytes.Equal(a, b) {
		t.Fatalf("Rand produced equal slices")
	}
}

func TestDeriveKEK_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	pw := []byte("secret-pass")
	k1 := DeriveKEK(pw, []byte("salt-1"))
	if subtle.ConstantTimeCompare(k1, DeriveKEK(pw, []byte("salt-1"))) != 1 {
		t.Fatalf("DeriveKEK not deterministic")
	}
	if subtle.ConstantTimeCompare(k1, DeriveKEK(pw, []byte("salt-2"))) != 0 {
		t.Fatalf("DeriveKEK must change with salt")
	}
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()
	kek := DeriveKEK([]byte("pw"), []byte("salt"))
	wrapped, err := Wrap(kek, []byte("payload"))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	got, err := Unwrap(kek, wrapped)
	if err != nil || string(got) != "payload" {
		t.Fatalf("Unwrap: %q %v", got, err)
	}
	wrapped[len(wrapped)-1] ^= 1
	if _, err := Unwrap(kek, wrapped); err == nil {
		t.Fatalf("tampered wrap must fail")
	}
	if _, err := Unwrap(kek, []byte("short")); err == nil {
		t.Fatalf("short input must fail")
	}
}

func TestKeyFile(t *testing.T) {
	t.Parallel()
	key, err := crypto.GenerateRSA()
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}

	plain, err := SealKeyFile(key, nil)
	if err != nil {
		t.Fatalf("SealKeyFile: %v", err)
	}
	if got, err := OpenKeyFile(plain, nil); err != nil || !got.Equal(key) {
		t.Fatalf("plain key file: %v", err)
	}

	sealed, err := SealKeyFile(key, []byte("hunter2"))
	if err != nil {
		t.Fatalf("SealKeyFile: %v", err)
	}
	if bytes.Contains(sealed, []byte("PRIVATE KEY")) {
		t.Fatalf("protected key file must not contain the PEM")
	}
	if got, err := OpenKeyFile(sealed, []byte("hunter2")); err != nil || !got.Equal(key) {
		t.Fatalf("protected key file: %v", err)
	}
	if _, err := OpenKeyFile(sealed, []byte("wrong")); err == nil {
		t.Fatalf("wrong passphrase must fail")
	}
	if _, err := OpenKeyFile(sealed, nil); err == nil {
		t.Fatalf("missing passphrase must fail")
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	clientKey, _ := crypto.GenerateRSA()
	serverKey, _ := crypto.GenerateRSA()
	serverPEM, _ := crypto.MarshalPublicPEM(&serverKey.PublicKey)

	s, err := NewSession(clientKey, "cid", serverPEM)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	at := time.UnixMilli(1_700_000_000_123)
	enc, err := s.SealBinding("device", at)
	if err != nil {
		t.Fatalf("SealBinding: %v", err)
	}
	plain, err := crypto.DecryptOAEP(serverKey, enc)
	if err != nil {
		t.Fatalf("server decrypt: %v", err)
	}
	if v, ts, err := session.SplitTimestamp(string(plain)); err != nil || v != "device" || ts != at.UnixMilli() {
		t.Fatalf("binding %q", plain)
	}

	payload, _ := crypto.EncryptOAEP(&clientKey.PublicKey, []byte(model.Result{Valid: true, ActivationID: "a", Remaining: 1}.Tuple()))
	r, err := s.OpenResult(payload)
	if err != nil || !r.Valid || r.ActivationID != "a" || r.Remaining != 1 {
		t.Fatalf("OpenResult: %+v %v", r, err)
	}

	junk, _ := crypto.EncryptOAEP(&clientKey.PublicKey, []byte("junk"))
	if _, err := s.OpenResult(junk); err != ErrBadPayload {
		t.Fatalf("junk payload: %v", err)
	}
	if _, err := NewSession(clientKey, "cid", "not pem"); err == nil {
		t.Fatalf("bad server pem must fail")
	}
}
