// Package session implements the RSA key exchange and per-field request
// protection between clients and the server.
package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository"
)

// DefaultTTL is how long a registered client key stays usable.
const DefaultTTL = 5 * time.Minute

// Key returns the store key of a client session.
func Key(clientID string) string { return "S:" + clientID }

// Registry maps client identifiers to their RSA public keys.
type Registry struct {
	store repository.KeyValueStore
	ttl   time.Duration
}

// NewRegistry constructs a registry whose sessions expire after ttl.
func NewRegistry(store repository.KeyValueStore, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: store, ttl: ttl}
}

// Register validates publicPEM and stores it under a new client id.
func (r *Registry) Register(ctx context.Context, publicPEM string) (string, error) {
	if publicPEM == "" {
		return "", fmt.Errorf("%w: public key", errs.ErrMissingField)
	}
	if _, err := crypto.ParsePublicPEM(publicPEM); err != nil {
		return "", fmt.Errorf("%w: public key: %v", errs.ErrInvalidFormat, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	if err := r.store.Put(ctx, Key(id.String()), []byte(publicPEM), r.ttl); err != nil {
		return "", fmt.Errorf("put session: %w", err)
	}
	return id.String(), nil
}

// Lookup returns the public key registered for clientID.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*rsa.PublicKey, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id", errs.ErrMissingField)
	}
	raw, err := r.store.Get(ctx, Key(clientID))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	pub, err := crypto.ParsePublicPEM(string(raw))
	if err != nil {
		return nil, fmt.Errorf("stored session key: %w", errs.ErrServer)
	}
	return pub, nil
}
