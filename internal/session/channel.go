package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/model"
)

// DefaultTolerance is the accepted clock skew of a timestamped field.
const DefaultTolerance = 60 * time.Second

// Channel opens protected request fields and seals responses.
type Channel struct {
	keys      *ServerKeys
	sessions  *Registry
	tolerance time.Duration
	now       func() time.Time
}

// NewChannel constructs a Channel. A zero tolerance selects DefaultTolerance.
func NewChannel(keys *ServerKeys, sessions *Registry, tolerance time.Duration, now func() time.Time) *Channel {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Channel{keys: keys, sessions: sessions, tolerance: tolerance, now: now}
}

// KeyExchange registers a client public key and returns its id together with
// the server public key.
func (c *Channel) KeyExchange(ctx context.Context, clientPEM string) (clientID, serverPEM string, err error) {
	serverPEM, err = c.keys.PublicPEM(ctx)
	if err != nil {
		return "", "", err
	}
	clientID, err = c.sessions.Register(ctx, clientPEM)
	if err != nil {
		return "", "", err
	}
	return clientID, serverPEM, nil
}

// DecryptField opens one base64 RSA-OAEP field encrypted for the server key.
func (c *Channel) DecryptField(ctx context.Context, name, b64 string) (string, error) {
	if b64 == "" {
		return "", fmt.Errorf("%w: %s", errs.ErrMissingField, name)
	}
	priv, err := c.keys.Private(ctx)
	if err != nil {
		return "", err
	}
	plain, err := crypto.DecryptOAEP(priv, b64)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrInvalidFormat, name)
	}
	if len(plain) == 0 {
		return "", fmt.Errorf("%w: %s", errs.ErrMissingField, name)
	}
	return string(plain), nil
}

// DecryptTimestamped opens a field carrying "value:unixMillis" and enforces
// the timestamp window.
func (c *Channel) DecryptTimestamped(ctx context.Context, name, b64 string) (string, error) {
	plain, err := c.DecryptField(ctx, name, b64)
	if err != nil {
		return "", err
	}
	value, ts, err := SplitTimestamp(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, name)
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s", errs.ErrMissingField, name)
	}
	skew := c.now().Sub(time.UnixMilli(ts))
	if skew < 0 {
		skew = -skew
	}
	if skew > c.tolerance {
		return "", fmt.Errorf("%w: %s", errs.ErrTimestampExpired, name)
	}
	return value, nil
}

// SealResult encrypts r's tuple for the client registered as clientID.
func (c *Channel) SealResult(ctx context.Context, clientID string, r model.Result) (string, error) {
	pub, err := c.sessions.Lookup(ctx, clientID)
	if err != nil {
		return "", err
	}
	return crypto.EncryptOAEP(pub, []byte(r.Tuple()))
}

// CheckSession reports errs.ErrSessionExpired for unknown client ids.
func (c *Channel) CheckSession(ctx context.Context, clientID string) error {
	_, err := c.sessions.Lookup(ctx, clientID)
	return err
}

// Stamp appends the unix-millis timestamp to value.
func Stamp(value string, at time.Time) string {
	return value + ":" + strconv.FormatInt(at.UnixMilli(), 10)
}

// SplitTimestamp is the inverse of Stamp.
func SplitTimestamp(s string) (string, int64, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", 0, errs.ErrInvalidFormat
	}
	ts, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, errors.Join(errs.ErrInvalidFormat, err)
	}
	return s[:i], ts, nil
}
