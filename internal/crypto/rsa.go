package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// RSABits is the modulus size of every key pair this package generates.
const RSABits = 2048

// MaxOAEPPlaintext is the largest message RSA-OAEP-SHA256 can carry with a 2048-bit key.
const MaxOAEPPlaintext = RSABits/8 - 2*sha256.Size - 2

var (
	// ErrBadPEM is returned when PEM input cannot be decoded into the expected key type.
	ErrBadPEM = errors.New("bad pem key")
	// ErrWeakKey is returned for RSA keys below RSABits or with an unusual exponent.
	ErrWeakKey = errors.New("weak rsa key")
)

// GenerateRSA creates a new 2048-bit key pair with e=65537.
func GenerateRSA() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSABits)
}

// MarshalPublicPEM encodes pub as a PEM "PUBLIC KEY" (SPKI) block.
func MarshalPublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// MarshalPrivatePEM encodes priv as a PEM "PRIVATE KEY" (PKCS#8) block.
func MarshalPrivatePEM(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePublicPEM imports an SPKI PEM RSA public key and checks its strength.
func ParsePublicPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrBadPEM
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPEM, err)
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, ErrBadPEM
	}
	if pub.N.BitLen() < RSABits || pub.E != 65537 {
		return nil, ErrWeakKey
	}
	return pub, nil
}

// ParsePrivatePEM imports a PKCS#8 PEM RSA private key.
func ParsePrivatePEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrBadPEM
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPEM, err)
	}
	priv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrBadPEM
	}
	return priv, nil
}

// EncryptOAEP encrypts msg for pub and returns standard base64.
func EncryptOAEP(pub *rsa.PublicKey, msg []byte) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptOAEP decodes standard base64 and decrypts with priv.
func DecryptOAEP(priv *rsa.PrivateKey, b64 string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
}
