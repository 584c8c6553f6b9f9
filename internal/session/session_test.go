package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/repository/memory"
)

var (
	clientKeyOnce sync.Once
	clientKey     *rsa.PrivateKey
)

func testClientKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	clientKeyOnce.Do(func() {
		k, err := crypto.GenerateRSA()
		if err != nil {
			panic(err)
		}
		clientKey = k
	})
	return clientKey
}

type env struct {
	now   time.Time
	store *memory.Store
	keys  *ServerKeys
	ch    *Channel
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return e.now }
	e.store = memory.NewWithClock(clock)
	e.keys = NewServerKeys(e.store, lock.New(e.store), time.Hour, time.Second, 10*time.Millisecond)
	e.ch = NewChannel(e.keys, NewRegistry(e.store, 5*time.Minute), time.Minute, clock)
	return e
}

func (e *env) handshake(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	pemStr, err := crypto.MarshalPublicPEM(&testClientKey(t).PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	id, serverPEM, err := e.ch.KeyExchange(context.Background(), pemStr)
	if err != nil {
		t.Fatalf("KeyExchange: %v", err)
	}
	pub, err := crypto.ParsePublicPEM(serverPEM)
	if err != nil {
		t.Fatalf("server pem: %v", err)
	}
	return id, pub
}

func TestKeyExchange_ServerKeyStable(t *testing.T) {
	e := newEnv(t)
	_, pub1 := e.handshake(t)
	_, pub2 := e.handshake(t)
	if pub1.N.Cmp(pub2.N) != 0 {
		t.Fatalf("server key must be reused within rotation period")
	}

	e.now = e.now.Add(2 * time.Hour)
	_, pub3 := e.handshake(t)
	if pub1.N.Cmp(pub3.N) == 0 {
		t.Fatalf("server key must rotate after rotation period")
	}
}

func TestKeyExchange_RejectsBadKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, _, err := e.ch.KeyExchange(ctx, "not a pem"); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("want ErrInvalidFormat, got %v", err)
	}
	if _, _, err := e.ch.KeyExchange(ctx, ""); !errors.Is(err, errs.ErrMissingField) {
		t.Fatalf("want ErrMissingField, got %v", err)
	}
}

func TestSealResult_RoundTrip(t *testing.T) {
	e := newEnv(t)
	id, _ := e.handshake(t)

	sealed, err := e.ch.SealResult(context.Background(), id, model.Result{Valid: true, ActivationID: "abc", Remaining: 2})
	if err != nil {
		t.Fatalf("SealResult: %v", err)
	}
	plain, err := crypto.DecryptOAEP(testClientKey(t), sealed)
	if err != nil {
		t.Fatalf("client decrypt: %v", err)
	}
	if string(plain) != "true:abc:2" {
		t.Fatalf("tuple=%q", plain)
	}
}

func TestSession_Expires(t *testing.T) {
	e := newEnv(t)
	id, _ := e.handshake(t)
	ctx := context.Background()

	if err := e.ch.CheckSession(ctx, id); err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	e.now = e.now.Add(5*time.Minute + time.Second)
	if err := e.ch.CheckSession(ctx, id); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
	if _, err := e.ch.SealResult(ctx, "unknown", model.Result{}); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired for unknown id, got %v", err)
	}
}

func TestDecryptField(t *testing.T) {
	e := newEnv(t)
	_, srv := e.handshake(t)
	ctx := context.Background()

	enc, _ := crypto.EncryptOAEP(srv, []byte("CODE"))
	got, err := e.ch.DecryptField(ctx, "code", enc)
	if err != nil || got != "CODE" {
		t.Fatalf("DecryptField=%q,%v", got, err)
	}

	if _, err := e.ch.DecryptField(ctx, "code", ""); !errors.Is(err, errs.ErrMissingField) {
		t.Fatalf("empty: want ErrMissingField, got %v", err)
	}
	if _, err := e.ch.DecryptField(ctx, "code", "Zm9v"); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("garbage: want ErrInvalidFormat, got %v", err)
	}

	other, _ := crypto.GenerateRSA()
	wrong, _ := crypto.EncryptOAEP(&other.PublicKey, []byte("CODE"))
	if _, err := e.ch.DecryptField(ctx, "code", wrong); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("wrong key: want ErrInvalidFormat, got %v", err)
	}
}

func TestDecryptTimestamped(t *testing.T) {
	e := newEnv(t)
	_, srv := e.handshake(t)
	ctx := context.Background()

	seal := func(s string) string {
		enc, err := crypto.EncryptOAEP(srv, []byte(s))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		return enc
	}

	got, err := e.ch.DecryptTimestamped(ctx, "binding", seal(Stamp("dev:1", e.now.Add(-30*time.Second))))
	if err != nil || got != "dev:1" {
		t.Fatalf("in window: %q,%v", got, err)
	}
	if _, err := e.ch.DecryptTimestamped(ctx, "binding", seal(Stamp("dev", e.now.Add(-61*time.Second)))); !errors.Is(err, errs.ErrTimestampExpired) {
		t.Fatalf("stale: want ErrTimestampExpired, got %v", err)
	}
	if _, err := e.ch.DecryptTimestamped(ctx, "binding", seal(Stamp("dev", e.now.Add(61*time.Second)))); !errors.Is(err, errs.ErrTimestampExpired) {
		t.Fatalf("future: want ErrTimestampExpired, got %v", err)
	}
	if _, err := e.ch.DecryptTimestamped(ctx, "binding", seal("no-timestamp")); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("no ts: want ErrInvalidFormat, got %v", err)
	}
	if _, err := e.ch.DecryptTimestamped(ctx, "binding", seal(Stamp("", e.now))); !errors.Is(err, errs.ErrMissingField) {
		t.Fatalf("empty value: want ErrMissingField, got %v", err)
	}
}

func TestPrivate_MissingIsServerError(t *testing.T) {
	e := newEnv(t)
	if _, err := e.keys.Private(context.Background()); !errors.Is(err, errs.ErrServer) {
		t.Fatalf("want ErrServer before any key exists, got %v", err)
	}
}

func TestServerKeys_LockHeldTimesOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := lock.New(e.store)
	if ok, _ := l.Acquire(ctx, keyLockName); !ok {
		t.Fatalf("pre-acquire failed")
	}
	keys := NewServerKeys(e.store, l, time.Hour, 30*time.Millisecond, 5*time.Millisecond)
	if _, err := keys.PublicPEM(ctx); !errors.Is(err, errs.ErrLockContended) {
		t.Fatalf("want ErrLockContended, got %v", err)
	}
}

func TestServerKeys_PrivateOutlivesPublic(t *testing.T) {
	e := newEnv(t)
	_, srv := e.handshake(t)
	ctx := context.Background()
	enc, _ := crypto.EncryptOAEP(srv, []byte("CODE"))

	e.now = e.now.Add(time.Hour)
	if _, err := e.store.Get(ctx, PublicKeyKey); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("public key must expire at rotation, got %v", err)
	}
	if got, err := e.ch.DecryptField(ctx, "code", enc); err != nil || got != "CODE" {
		t.Fatalf("within grace: DecryptField=%q,%v", got, err)
	}

	_, fresh := e.handshake(t)
	if fresh.N.Cmp(srv.N) == 0 {
		t.Fatalf("handshake after rotation must issue a new key")
	}
	if _, err := e.ch.DecryptField(ctx, "code", enc); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("old key after rotation: want ErrInvalidFormat, got %v", err)
	}

	e.now = e.now.Add(time.Hour + keyGrace)
	if _, err := e.keys.Private(ctx); !errors.Is(err, errs.ErrServer) {
		t.Fatalf("private key must expire after grace, got %v", err)
	}
}
