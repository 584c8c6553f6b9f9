package clientcrypto

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/session"
)

// ErrBadPayload is returned when a response cannot be opened or parsed.
var ErrBadPayload = errors.New("bad response payload")

// Session is the client side of a completed key exchange.
type Session struct {
	ClientID  string
	key       *rsa.PrivateKey
	serverKey *rsa.PublicKey
}

// NewSession binds the client key to the server key returned by KeyExchange.
func NewSession(key *rsa.PrivateKey, clientID, serverPEM string) (*Session, error) {
	pub, err := crypto.ParsePublicPEM(serverPEM)
	if err != nil {
		return nil, err
	}
	return &Session{ClientID: clientID, key: key, serverKey: pub}, nil
}

// PublicPEM returns the SPKI PEM to send in KeyExchange.
func PublicPEM(key *rsa.PrivateKey) (string, error) {
	return crypto.MarshalPublicPEM(&key.PublicKey)
}

// SealField encrypts a request field for the server.
func (s *Session) SealField(value string) (string, error) {
	return crypto.EncryptOAEP(s.serverKey, []byte(value))
}

// SealBinding stamps value with at and encrypts it for the server.
func (s *Session) SealBinding(value string, at time.Time) (string, error) {
	return s.SealField(session.Stamp(value, at))
}

// OpenResult decrypts and parses a response payload.
func (s *Session) OpenResult(payload string) (model.Result, error) {
	plain, err := crypto.DecryptOAEP(s.key, payload)
	if err != nil {
		return model.Result{}, ErrBadPayload
	}
	r, ok := model.ParseResult(string(plain))
	if !ok {
		return model.Result{}, ErrBadPayload
	}
	return r, nil
}
