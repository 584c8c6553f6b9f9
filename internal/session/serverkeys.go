package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/repository"
)

// Store keys of the server key pair.
const (
	PrivateKeyKey = "server:rsa:private"
	PublicKeyKey  = "server:rsa:public"
	keyLockName   = "K:server"
)

// DefaultRotation is how long a server key pair lives before regeneration.
const DefaultRotation = 24 * time.Hour

// keyGrace keeps the private key readable after its public half expires, so
// requests sealed just before rotation still open.
const keyGrace = time.Minute

// ServerKeys lazily creates and serves the server RSA key pair.
//
// Once a new pair replaces the old one, fields sealed with the previous public
// key no longer decrypt and callers get errs.ErrInvalidFormat (InvalidArgument
// on the wire) until they redo the handshake.
type ServerKeys struct {
	store    repository.KeyValueStore
	locker   *lock.Locker
	rotation time.Duration
	wait     time.Duration
	retry    time.Duration

	mu      sync.Mutex
	privPEM string
	priv    *rsa.PrivateKey
}

// NewServerKeys constructs ServerKeys. Generation waits at most wait for the
// K:server lock, retrying every retry.
func NewServerKeys(store repository.KeyValueStore, locker *lock.Locker, rotation, wait, retry time.Duration) *ServerKeys {
	if rotation <= 0 {
		rotation = DefaultRotation
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &ServerKeys{store: store, locker: locker, rotation: rotation, wait: wait, retry: retry}
}

// PublicPEM returns the current public key, generating a pair if none exists.
func (k *ServerKeys) PublicPEM(ctx context.Context) (string, error) {
	raw, err := k.store.Get(ctx, PublicKeyKey)
	if err == nil {
		return string(raw), nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return "", fmt.Errorf("get server public key: %w", err)
	}
	return k.generate(ctx)
}

func (k *ServerKeys) generate(ctx context.Context) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, k.wait)
	defer cancel()
	if err := k.locker.WaitAndAcquire(wctx, keyLockName, k.retry); err != nil {
		return "", fmt.Errorf("server key lock: %w", err)
	}
	defer func() { _ = k.locker.Release(context.WithoutCancel(ctx), keyLockName) }()

	// another instance may have finished while we waited
	if raw, err := k.store.Get(ctx, PublicKeyKey); err == nil {
		return string(raw), nil
	}

	priv, err := crypto.GenerateRSA()
	if err != nil {
		return "", err
	}
	privPEM, err := crypto.MarshalPrivatePEM(priv)
	if err != nil {
		return "", err
	}
	pubPEM, err := crypto.MarshalPublicPEM(&priv.PublicKey)
	if err != nil {
		return "", err
	}
	// private first and longer lived: a visible public key always has its private half
	if err := k.store.Put(ctx, PrivateKeyKey, []byte(privPEM), k.rotation+keyGrace); err != nil {
		return "", fmt.Errorf("put server private key: %w", err)
	}
	if err := k.store.Put(ctx, PublicKeyKey, []byte(pubPEM), k.rotation); err != nil {
		return "", fmt.Errorf("put server public key: %w", err)
	}
	k.remember(privPEM, priv)
	return pubPEM, nil
}

// Private returns the current private key. A missing key is errs.ErrServer.
func (k *ServerKeys) Private(ctx context.Context) (*rsa.PrivateKey, error) {
	raw, err := k.store.Get(ctx, PrivateKeyKey)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("server private key missing: %w", errs.ErrServer)
	}
	if err != nil {
		return nil, fmt.Errorf("get server private key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv != nil && k.privPEM == string(raw) {
		return k.priv, nil
	}
	priv, err := crypto.ParsePrivatePEM(string(raw))
	if err != nil {
		return nil, fmt.Errorf("server private key: %w", errs.ErrServer)
	}
	k.privPEM, k.priv = string(raw), priv
	return priv, nil
}

func (k *ServerKeys) remember(privPEM string, priv *rsa.PrivateKey) {
	k.mu.Lock()
	k.privPEM, k.priv = privPEM, priv
	k.mu.Unlock()
}
