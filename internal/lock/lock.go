// Package lock implements a named, cooperative mutual-exclusion flag stored
// in the key-value store.
//
// In ModeAdvisory the flag is tested with Get and set with Put. Two callers
// racing through that window can both acquire the same name; the lock then
// only narrows, not closes, the over-redemption window. In ModeAuto a store
// implementing repository.ConditionalPutter is used atomically instead.
// There is no owner token: any caller may release any name.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository"
)

// Mode selects how Acquire tests and sets the flag.
type Mode string

// Lock modes.
const (
	ModeAuto     Mode = "auto"
	ModeAdvisory Mode = "advisory"
)

// DefaultTTL bounds how long a flag left behind by a crashed holder survives.
const DefaultTTL = 30 * time.Second

var held = []byte("1")

// Locker acquires and releases named flags.
type Locker struct {
	store   repository.KeyValueStore
	cond    repository.ConditionalPutter
	ttl     time.Duration
	observe func(acquired bool)
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the safety TTL of a held flag.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithMode forces ModeAdvisory or enables the atomic upgrade (ModeAuto).
func WithMode(m Mode) Option {
	return func(l *Locker) {
		if m == ModeAdvisory {
			l.cond = nil
		}
	}
}

// WithObserver registers a callback invoked after every acquire attempt.
func WithObserver(fn func(acquired bool)) Option {
	return func(l *Locker) { l.observe = fn }
}

// New constructs a Locker over store. Without options it runs in ModeAuto.
func New(store repository.KeyValueStore, opts ...Option) *Locker {
	l := &Locker{store: store, ttl: DefaultTTL}
	if c, ok := store.(repository.ConditionalPutter); ok {
		l.cond = c
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Key returns the store key backing the lock name.
func Key(name string) string { return "lock:" + name }

// Atomic reports whether Acquire uses a store-level conditional put.
func (l *Locker) Atomic() bool { return l.cond != nil }

// Acquire sets the flag for name and reports whether it was free.
func (l *Locker) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.acquire(ctx, name)
	if err == nil && l.observe != nil {
		l.observe(ok)
	}
	return ok, err
}

func (l *Locker) acquire(ctx context.Context, name string) (bool, error) {
	key := Key(name)
	if l.cond != nil {
		ok, err := l.cond.PutIfAbsent(ctx, key, held, l.ttl)
		if err != nil {
			return false, fmt.Errorf("lock %s: %w", name, err)
		}
		return ok, nil
	}

	_, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, errs.ErrNotFound):
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	if err := l.store.Put(ctx, key, held, l.ttl); err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	return true, nil
}

// Release deletes the flag unconditionally.
func (l *Locker) Release(ctx context.Context, name string) error {
	if err := l.store.Delete(ctx, Key(name)); err != nil {
		return fmt.Errorf("unlock %s: %w", name, err)
	}
	return nil
}

// WaitAndAcquire retries Acquire every retryDelay until it succeeds. It has no
// deadline of its own; it returns ctx.Err() once ctx is done.
func (l *Locker) WaitAndAcquire(ctx context.Context, name string, retryDelay time.Duration) error {
	t := time.NewTicker(retryDelay)
	defer t.Stop()
	for {
		ok, err := l.Acquire(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", errs.ErrLockContended, name, ctx.Err())
		case <-t.C:
		}
	}
}
