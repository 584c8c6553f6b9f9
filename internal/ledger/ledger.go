// Package ledger persists usage counters and activation records.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/repository"
)

// CodeHash is the store-safe digest of a code.
func CodeHash(code string) string { return crypto.SHA256Hex(code) }

// CounterKey is the store key of the usage counter of a code.
func CounterKey(code string) string { return "U:" + CodeHash(code) }

// RecordKey is the store key of an activation record.
func RecordKey(activationID string) string { return "A:" + activationID }

// LockName is the lock name serializing redemptions of a code.
func LockName(code string) string { return "C:" + CodeHash(code) }

// Ledger reads and writes redemption state.
type Ledger struct {
	store repository.KeyValueStore
}

// New constructs a ledger over store.
func New(store repository.KeyValueStore) *Ledger { return &Ledger{store: store} }

// Used returns how many times code was redeemed and whether a counter exists.
func (l *Ledger) Used(ctx context.Context, code string) (int64, bool, error) {
	raw, err := l.store.Get(ctx, CounterKey(code))
	if errors.Is(err, errs.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get counter: %w", err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter value %q: %w", raw, errs.ErrServer)
	}
	return n, true, nil
}

// SetUsed stores the counter of code without expiry.
func (l *Ledger) SetUsed(ctx context.Context, code string, used int64) error {
	if err := l.store.Put(ctx, CounterKey(code), []byte(strconv.FormatInt(used, 10)), 0); err != nil {
		return fmt.Errorf("put counter: %w", err)
	}
	return nil
}

// Record returns the activation record stored under activationID.
func (l *Ledger) Record(ctx context.Context, activationID string) (model.ActivationRecord, error) {
	raw, err := l.store.Get(ctx, RecordKey(activationID))
	if err != nil {
		return model.ActivationRecord{}, fmt.Errorf("get record: %w", err)
	}
	var rec model.ActivationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.ActivationRecord{}, fmt.Errorf("decode record: %w", errs.ErrServer)
	}
	return rec, nil
}

// PutRecord stores rec until it lapses after ttl.
func (l *Ledger) PutRecord(ctx context.Context, rec model.ActivationRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, RecordKey(rec.UUID), raw, ttl); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// DeleteRecord removes the record of activationID.
func (l *Ledger) DeleteRecord(ctx context.Context, activationID string) error {
	if err := l.store.Delete(ctx, RecordKey(activationID)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// BindingHash ties a binding value to the redeemed code's lock name.
func BindingHash(binding, lockName string) string {
	return crypto.SHA256Hex(binding + lockName)
}
