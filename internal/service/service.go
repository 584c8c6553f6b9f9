// Package service contains the activation and product registry services.
package service

import (
	"context"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/and161185/keygate/internal/model"
)

var tracer = otel.Tracer("github.com/and161185/keygate/internal/service")

// Observer receives activation outcomes and generated code counts.
type Observer interface {
	ObserveOutcome(operation string, o model.Outcome)
	ObserveCodes(productID string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string, model.Outcome) {}
func (nopObserver) ObserveCodes(string, int)             {}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration)

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// span window of a randomized failure delay
type window struct{ min, max time.Duration }

var (
	rejectDelay    = window{100 * time.Millisecond, 400 * time.Millisecond}
	contendedDelay = window{500 * time.Millisecond, 700 * time.Millisecond}
)

func (w window) pick() time.Duration {
	return w.min + rand.N(w.max-w.min+1)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
