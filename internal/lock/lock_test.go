package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository"
	"github.com/and161185/keygate/internal/repository/memory"
)

// plainStore hides PutIfAbsent so the Locker falls back to get-then-put.
type plainStore struct{ repository.KeyValueStore }

// barrierStore parks every Get until n callers have arrived, forcing the
// get-then-put race window open.
type barrierStore struct {
	repository.KeyValueStore
	wg *sync.WaitGroup
}

func (b barrierStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.KeyValueStore.Get(ctx, key)
	b.wg.Done()
	b.wg.Wait()
	return v, err
}

type failingStore struct{ repository.KeyValueStore }

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		store  repository.KeyValueStore
		atomic bool
	}{
		{"auto", memory.New(), true},
		{"advisory", plainStore{memory.New()}, false},
	} {
		l := New(tc.store)
		if l.Atomic() != tc.atomic {
			t.Fatalf("%s: Atomic()=%v", tc.name, l.Atomic())
		}
		ok, err := l.Acquire(ctx, "C:abc")
		if err != nil || !ok {
			t.Fatalf("%s: first acquire ok=%v err=%v", tc.name, ok, err)
		}
		ok, _ = l.Acquire(ctx, "C:abc")
		if ok {
			t.Fatalf("%s: second acquire must fail", tc.name)
		}
		ok, _ = l.Acquire(ctx, "C:other")
		if !ok {
			t.Fatalf("%s: unrelated name must be free", tc.name)
		}
		if err := l.Release(ctx, "C:abc"); err != nil {
			t.Fatalf("%s: release: %v", tc.name, err)
		}
		ok, _ = l.Acquire(ctx, "C:abc")
		if !ok {
			t.Fatalf("%s: acquire after release must succeed", tc.name)
		}
	}
}

func TestWithModeAdvisory_DisablesUpgrade(t *testing.T) {
	t.Parallel()
	if New(memory.New(), WithMode(ModeAdvisory)).Atomic() {
		t.Fatalf("advisory mode must not use PutIfAbsent")
	}
}

func TestAdvisoryMode_RaceWindowAllowsDoubleAcquire(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	wg.Add(2)
	l := New(barrierStore{KeyValueStore: plainStore{memory.New()}, wg: &wg})

	var wins atomic.Int32
	var done sync.WaitGroup
	for i := 0; i < 2; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			if ok, err := l.Acquire(context.Background(), "C:race"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	done.Wait()
	if wins.Load() != 2 {
		t.Fatalf("advisory get-then-put: both racers should win, got %d", wins.Load())
	}
}

func TestAutoMode_RaceHasSingleWinner(t *testing.T) {
	t.Parallel()
	l := New(memory.New())

	var wins atomic.Int32
	var done sync.WaitGroup
	for i := 0; i < 16; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			if ok, _ := l.Acquire(context.Background(), "C:race"); ok {
				wins.Add(1)
			}
		}()
	}
	done.Wait()
	if wins.Load() != 1 {
		t.Fatalf("conditional put: want exactly one winner, got %d", wins.Load())
	}
}

func TestAcquire_StoreError(t *testing.T) {
	t.Parallel()
	l := New(failingStore{memory.New()})
	if _, err := l.Acquire(context.Background(), "x"); err == nil {
		t.Fatalf("want store error")
	}
}

func TestWaitAndAcquire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(memory.New())

	if _, err := l.Acquire(ctx, "P:p1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = l.Release(ctx, "P:p1")
	}()
	if err := l.WaitAndAcquire(ctx, "P:p1", 5*time.Millisecond); err != nil {
		t.Fatalf("WaitAndAcquire: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WaitAndAcquire(short, "P:p1", 5*time.Millisecond)
	if !errors.Is(err, errs.ErrLockContended) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want contended+deadline, got %v", err)
	}
}

func TestObserverAndTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := memory.NewWithClock(clock)

	var results []bool
	l := New(store, WithTTL(time.Second), WithObserver(func(ok bool) { results = append(results, ok) }))
	_, _ = l.Acquire(ctx, "n")
	_, _ = l.Acquire(ctx, "n")
	if len(results) != 2 || !results[0] || results[1] {
		t.Fatalf("observer results %v", results)
	}

	now = now.Add(2 * time.Second)
	if ok, _ := l.Acquire(ctx, "n"); !ok {
		t.Fatalf("orphaned flag must expire after TTL")
	}
}
