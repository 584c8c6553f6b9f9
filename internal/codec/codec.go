// Package codec encodes and verifies activation codes.
//
// Wire format (byte exact, kept for codes already in the field):
//
//	base64( AES-256-GCM(nonce || ct || tag) of "salt:productID:mix" || ":expiry:duration:maxUses" )
//
// where mix = sha256hex(sha256hex("salt:productID") + ":" + sha256hex(":expiry:duration:maxUses")).
// The plaintext suffix is located by scanning for the 3rd ':' from the end.
// New formats should use length-prefixed fields instead of delimiter counting.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/model"
)

// SaltLen is the length of the random alphanumeric salt.
const SaltLen = 8

// suffixColons is the number of ':' in the plaintext suffix.
const suffixColons = 3

// Codec encodes and verifies codes with keys from a shared KeyCache.
type Codec struct {
	keys *crypto.KeyCache
	now  func() time.Time
}

// New constructs a codec using the wall clock.
func New(keys *crypto.KeyCache) *Codec { return NewWithClock(keys, time.Now) }

// NewWithClock constructs a codec with an injected clock.
func NewWithClock(keys *crypto.KeyCache, now func() time.Time) *Codec {
	return &Codec{keys: keys, now: now}
}

// Encode produces a new code for productID. ExpirationPeriod is relative to now.
func (c *Codec) Encode(secret []byte, productID string, p model.CodeParams) (string, error) {
	if productID == "" || strings.Contains(productID, ":") {
		return "", fmt.Errorf("%w: product id", errs.ErrInvalidFormat)
	}
	key, err := c.keys.Key(secret)
	if err != nil {
		return "", err
	}
	salt, err := crypto.RandAlnum(SaltLen)
	if err != nil {
		return "", err
	}

	head := salt + ":" + productID
	tail := ":" + strconv.FormatInt(c.now().Unix()+p.ExpirationPeriod, 10) +
		":" + strconv.FormatInt(p.ActivationDuration, 10) +
		":" + strconv.FormatInt(p.MaxUses, 10)

	sealed, err := crypto.Seal(key, []byte(head+":"+mix(head, tail)))
	if err != nil {
		return "", err
	}
	raw := make([]byte, 0, len(sealed)+len(tail))
	raw = append(raw, sealed...)
	raw = append(raw, tail...)
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify checks code against expectedProductID. It returns errs.ErrInvalidFormat
// when the code cannot be split, and errs.ErrVerificationFailed for every
// other rejection (wrong secret, tampering, wrong product, expiry).
func (c *Codec) Verify(secret []byte, code, expectedProductID string) (model.CodeInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return model.CodeInfo{}, fmt.Errorf("%w: base64", errs.ErrInvalidFormat)
	}
	split := splitIndex(raw)
	if split < 0 {
		return model.CodeInfo{}, fmt.Errorf("%w: delimiter count", errs.ErrInvalidFormat)
	}
	sealed, tail := raw[:split], string(raw[split:])

	key, err := c.keys.Key(secret)
	if err != nil {
		return model.CodeInfo{}, err
	}
	plain, err := crypto.Open(key, sealed)
	if err != nil {
		return model.CodeInfo{}, fmt.Errorf("%w: decrypt", errs.ErrVerificationFailed)
	}
	parts := strings.Split(string(plain), ":")
	if len(parts) != 3 {
		return model.CodeInfo{}, fmt.Errorf("%w: payload", errs.ErrVerificationFailed)
	}
	salt, productID, gotMix := parts[0], parts[1], parts[2]

	if productID != expectedProductID {
		return model.CodeInfo{}, fmt.Errorf("%w: product", errs.ErrVerificationFailed)
	}

	info, err := parseTail(tail)
	if err != nil {
		return model.CodeInfo{}, err
	}
	if info.ExpiresAt < c.now().Unix() {
		return model.CodeInfo{}, fmt.Errorf("%w: expired", errs.ErrVerificationFailed)
	}

	if !crypto.EqualString(mix(salt+":"+productID, tail), gotMix) {
		return model.CodeInfo{}, fmt.Errorf("%w: integrity", errs.ErrVerificationFailed)
	}
	info.ProductID = productID
	return info, nil
}

// ParseUnverified reads the plaintext suffix without decrypting. The values
// are not authenticated and must only be used for display or tooling.
func ParseUnverified(code string) (model.CodeInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return model.CodeInfo{}, fmt.Errorf("%w: base64", errs.ErrInvalidFormat)
	}
	split := splitIndex(raw)
	if split < 0 {
		return model.CodeInfo{}, fmt.Errorf("%w: delimiter count", errs.ErrInvalidFormat)
	}
	info, err := parseTail(string(raw[split:]))
	if err != nil {
		return model.CodeInfo{}, fmt.Errorf("%w: suffix", errs.ErrInvalidFormat)
	}
	return info, nil
}

func mix(head, tail string) string {
	return crypto.SHA256Hex(crypto.SHA256Hex(head) + ":" + crypto.SHA256Hex(tail))
}

// splitIndex returns the offset of the suffixColons-th ':' from the end, or -1.
func splitIndex(raw []byte) int {
	end := len(raw)
	for i := 0; i < suffixColons; i++ {
		end = bytes.LastIndexByte(raw[:end], ':')
		if end < 0 {
			return -1
		}
	}
	return end
}

func parseTail(tail string) (model.CodeInfo, error) {
	fields := strings.Split(tail, ":")
	if len(fields) != suffixColons+1 || fields[0] != "" {
		return model.CodeInfo{}, fmt.Errorf("%w: suffix", errs.ErrVerificationFailed)
	}
	var nums [suffixColons]int64
	for i, f := range fields[1:] {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return model.CodeInfo{}, fmt.Errorf("%w: suffix field %d", errs.ErrVerificationFailed, i)
		}
		nums[i] = n
	}
	return model.CodeInfo{ExpiresAt: nums[0], ActivationDuration: nums[1], MaxUses: nums[2]}, nil
}
