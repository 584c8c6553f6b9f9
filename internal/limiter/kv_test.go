package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/repository/memory"
)

func TestKVLimiter_BlocksAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	l := NewKV(memory.NewWithClock(clock), testPolicy)
	l.now = clock
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	for i := 1; i < testPolicy.MaxFails; i++ {
		if blocked, _, err := l.Failure(ctx, "activate", ip); err != nil || blocked {
			t.Fatalf("failure %d: blocked=%v err=%v", i, blocked, err)
		}
	}
	blocked, wait, err := l.Failure(ctx, "activate", ip)
	if err != nil || !blocked || wait != testPolicy.BlockFor {
		t.Fatalf("threshold: blocked=%v wait=%v err=%v", blocked, wait, err)
	}
	if ok, _, _ := l.Allow(ctx, "activate", ip); ok {
		t.Fatalf("must be blocked")
	}
	if ok, _, _ := l.Allow(ctx, "reauth", ip); !ok {
		t.Fatalf("other subject must not be blocked")
	}
	if ok, _, _ := l.Allow(ctx, "activate", HashIP("10.0.0.2")); !ok {
		t.Fatalf("other ip must not be blocked")
	}

	now = now.Add(testPolicy.BlockFor + time.Second)
	if ok, _, _ := l.Allow(ctx, "activate", ip); !ok {
		t.Fatalf("block must lapse")
	}
}

func TestKVLimiter_WindowResetsAndSuccess(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	l := NewKV(memory.NewWithClock(clock), testPolicy)
	l.now = clock
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "activate", ip)
	_, _, _ = l.Failure(ctx, "activate", ip)
	now = now.Add(testPolicy.Window + time.Second)
	if blocked, _, _ := l.Failure(ctx, "activate", ip); blocked {
		t.Fatalf("old failures must be forgotten after the window")
	}

	_, _, _ = l.Failure(ctx, "activate", ip)
	if err := l.Success(ctx, "activate", ip); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := l.Failure(ctx, "activate", ip); blocked {
		t.Fatalf("success must reset the counter")
	}
}

func TestKVLimiter_CorruptStateIsServerError(t *testing.T) {
	st := memory.New()
	l := NewKV(st, testPolicy)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")
	if err := st.Put(ctx, kvKey("activate", ip), []byte("{not json"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if ok, _, err := l.Allow(ctx, "activate", ip); ok || !errors.Is(err, errs.ErrServer) {
		t.Fatalf("Allow: ok=%v err=%v", ok, err)
	}
	if blocked, _, err := l.Failure(ctx, "activate", ip); blocked || !errors.Is(err, errs.ErrServer) {
		t.Fatalf("Failure: blocked=%v err=%v", blocked, err)
	}
	if ok, _, err := l.Allow(ctx, "activate", HashIP("10.0.0.2")); !ok || err != nil {
		t.Fatalf("other ip: ok=%v err=%v", ok, err)
	}
}
