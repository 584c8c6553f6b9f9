package limiter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository"
)

// KV keeps limiter state in a KeyValueStore. Counter updates are
// read-modify-write and may undercount under heavy concurrency.
type KV struct {
	store  repository.KeyValueStore
	policy Policy
	now    func() time.Time
}

var _ Limiter = (*KV)(nil)

type kvState struct {
	Fails        int   `json:"fails"`
	WindowStart  int64 `json:"window_start"`  // unix millis
	BlockedUntil int64 `json:"blocked_until"` // unix millis
}

// NewKV constructs a store-backed limiter.
func NewKV(store repository.KeyValueStore, p Policy) *KV {
	return &KV{store: store, policy: p.normalize(), now: time.Now}
}

func kvKey(subject string, ipHash []byte) string {
	return "L:" + subject + ":" + hex.EncodeToString(ipHash)
}

func (l *KV) load(ctx context.Context, key string) (kvState, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, errs.ErrNotFound) {
		return kvState{}, nil
	}
	if err != nil {
		return kvState{}, err
	}
	var st kvState
	if err := json.Unmarshal(raw, &st); err != nil {
		return kvState{}, fmt.Errorf("%w: limiter state %q: %v", errs.ErrServer, key, err)
	}
	return st, nil
}

// Allow reports whether attempts are currently allowed.
func (l *KV) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	st, err := l.load(ctx, kvKey(subject, ipHash))
	if err != nil {
		return false, 0, err
	}
	if wait := time.UnixMilli(st.BlockedUntil).Sub(l.now()); st.BlockedUntil > 0 && wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success forgets previous failures.
func (l *KV) Success(ctx context.Context, subject string, ipHash []byte) error {
	return l.store.Delete(ctx, kvKey(subject, ipHash))
}

// Failure records a failed attempt.
func (l *KV) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	key := kvKey(subject, ipHash)
	st, err := l.load(ctx, key)
	if err != nil {
		return false, 0, err
	}
	now := l.now()
	if st.WindowStart == 0 || now.Sub(time.UnixMilli(st.WindowStart)) > l.policy.Window {
		st = kvState{WindowStart: now.UnixMilli()}
	}
	st.Fails++
	blocked := st.Fails >= l.policy.MaxFails
	if blocked {
		st.BlockedUntil = now.Add(l.policy.BlockFor).UnixMilli()
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return false, 0, err
	}
	if err := l.store.Put(ctx, key, raw, l.policy.Window+l.policy.BlockFor); err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}
