package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/and161185/keygate/internal/codec"
	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/events"
	"github.com/and161185/keygate/internal/ledger"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/model"
)

// Operation names used for logs, metrics and spans.
const (
	OpActivate   = "activate"
	OpReactivate = "reactivate"
)

// AuthService redeems activation codes and re-checks existing activations.
type AuthService interface {
	// Activate consumes one use of code for productID and binds it to binding.
	Activate(ctx context.Context, code, productID, binding string) (model.Outcome, error)
	// Reactivate confirms that activationID is still valid for code and binding.
	Reactivate(ctx context.Context, code, activationID, binding string) (model.Outcome, error)
}

// AuthServiceImpl is the store-backed AuthService. Domain rejections are
// returned as failed outcomes with a nil error; only infrastructure faults
// produce errors.
type AuthServiceImpl struct {
	codec  *codec.Codec
	secret []byte
	ledger *ledger.Ledger
	locker *lock.Locker
	log    *zap.Logger

	events events.Publisher
	obs    Observer
	sleep  Sleeper
	now    func() time.Time
}

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthOption configures optional collaborators of AuthServiceImpl.
type AuthOption func(*AuthServiceImpl)

// WithEvents publishes activation events to p.
func WithEvents(p events.Publisher) AuthOption { return func(s *AuthServiceImpl) { s.events = p } }

// WithObserver reports outcomes to o.
func WithObserver(o Observer) AuthOption { return func(s *AuthServiceImpl) { s.obs = o } }

// WithSleeper replaces the failure delay implementation.
func WithSleeper(fn Sleeper) AuthOption { return func(s *AuthServiceImpl) { s.sleep = fn } }

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) AuthOption { return func(s *AuthServiceImpl) { s.now = now } }

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(c *codec.Codec, secret []byte, l *ledger.Ledger, locker *lock.Locker, log *zap.Logger, opts ...AuthOption) *AuthServiceImpl {
	s := &AuthServiceImpl{
		codec:  c,
		secret: secret,
		ledger: l,
		locker: locker,
		log:    log,
		events: events.Nop{},
		obs:    nopObserver{},
		sleep:  SleepContext,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Activate redeems one use of code.
func (s *AuthServiceImpl) Activate(ctx context.Context, code, productID, binding string) (model.Outcome, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Activate")
	out, err := s.activate(ctx, code, productID, binding)
	s.finish(ctx, OpActivate, code, out, err)
	span.SetAttributes(attribute.Bool("activation.valid", out.Valid), attribute.String("activation.reason", string(out.Reason)))
	endSpan(span, err)
	return out, err
}

func (s *AuthServiceImpl) activate(ctx context.Context, code, productID, binding string) (model.Outcome, error) {
	lockName := ledger.LockName(code)
	ok, err := s.locker.Acquire(ctx, lockName)
	if err != nil {
		return model.Outcome{}, err
	}
	if !ok {
		s.sleep(ctx, contendedDelay.pick())
		return model.Failure(model.ReasonLockContended), nil
	}
	defer s.release(ctx, lockName)

	info, err := s.codec.Verify(s.secret, code, productID)
	if err != nil {
		return s.reject(ctx, model.ReasonVerification), nil
	}

	used, _, err := s.ledger.Used(ctx, code)
	if err != nil {
		return model.Outcome{}, err
	}
	if used >= info.MaxUses {
		return s.reject(ctx, model.ReasonExhausted), nil
	}
	used++

	id, err := uuid.NewV4()
	if err != nil {
		return model.Outcome{}, err
	}
	now := s.now()
	rec := model.ActivationRecord{
		UUID:           id.String(),
		BindingHash:    ledger.BindingHash(binding, lockName),
		ExpirationTime: now.Unix() + info.ActivationDuration,
		MaxUses:        info.MaxUses,
	}
	// a zero TTL would keep the record forever
	ttl := max(time.Duration(info.ActivationDuration)*time.Second, time.Second)
	if err := s.ledger.PutRecord(ctx, rec, ttl); err != nil {
		return model.Outcome{}, err
	}
	if err := s.ledger.SetUsed(ctx, code, used); err != nil {
		if derr := s.ledger.DeleteRecord(context.WithoutCancel(ctx), rec.UUID); derr != nil {
			s.log.Error("compensating record delete failed", zap.String("activation_id", rec.UUID), zap.Error(derr))
		}
		return model.Outcome{}, err
	}

	out := model.Outcome{Valid: true, ActivationID: rec.UUID, Remaining: info.MaxUses - used}
	s.publish(ctx, events.Event{
		Type:         events.TypeActivationCreated,
		OccurredAt:   now,
		ActivationID: rec.UUID,
		CodeHash:     ledger.CodeHash(code),
		ProductID:    info.ProductID,
		Remaining:    out.Remaining,
		ExpiresAt:    rec.ExpirationTime,
	})
	return out, nil
}

// Reactivate re-validates an existing activation without consuming a use.
func (s *AuthServiceImpl) Reactivate(ctx context.Context, code, activationID, binding string) (model.Outcome, error) {
	ctx, span := tracer.Start(ctx, "AuthService.Reactivate")
	out, err := s.reactivate(ctx, code, activationID, binding)
	s.finish(ctx, OpReactivate, code, out, err)
	span.SetAttributes(attribute.Bool("activation.valid", out.Valid), attribute.String("activation.reason", string(out.Reason)))
	endSpan(span, err)
	return out, err
}

func (s *AuthServiceImpl) reactivate(ctx context.Context, code, activationID, binding string) (model.Outcome, error) {
	lockName := ledger.LockName(code)
	ok, err := s.locker.Acquire(ctx, lockName)
	if err != nil {
		return model.Outcome{}, err
	}
	if !ok {
		s.sleep(ctx, contendedDelay.pick())
		return model.Failure(model.ReasonLockContended), nil
	}
	defer s.release(ctx, lockName)

	used, found, err := s.ledger.Used(ctx, code)
	if err != nil {
		return model.Outcome{}, err
	}
	if !found {
		return s.reject(ctx, model.ReasonNotActivated), nil
	}
	if activationID == "" {
		return s.reject(ctx, model.ReasonRecordMissing), nil
	}

	rec, err := s.ledger.Record(ctx, activationID)
	if errors.Is(err, errs.ErrNotFound) {
		return s.reject(ctx, model.ReasonRecordMissing), nil
	}
	if err != nil {
		return model.Outcome{}, err
	}
	if !crypto.EqualString(rec.BindingHash, ledger.BindingHash(binding, lockName)) {
		return s.reject(ctx, model.ReasonBindingMismatch), nil
	}
	now := s.now()
	if rec.ExpirationTime <= now.Unix() {
		return s.reject(ctx, model.ReasonActivationExpired), nil
	}

	out := model.Outcome{Valid: true, ActivationID: activationID, Remaining: max(rec.MaxUses-used, 0)}
	s.publish(ctx, events.Event{
		Type:         events.TypeActivationRenewed,
		OccurredAt:   now,
		ActivationID: activationID,
		CodeHash:     ledger.CodeHash(code),
		Remaining:    out.Remaining,
		ExpiresAt:    rec.ExpirationTime,
	})
	return out, nil
}

func (s *AuthServiceImpl) reject(ctx context.Context, reason model.Reason) model.Outcome {
	s.sleep(ctx, rejectDelay.pick())
	return model.Failure(reason)
}

func (s *AuthServiceImpl) release(ctx context.Context, name string) {
	if err := s.locker.Release(context.WithoutCancel(ctx), name); err != nil {
		s.log.Warn("lock release failed", zap.String("lock", name), zap.Error(err))
	}
}

func (s *AuthServiceImpl) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func (s *AuthServiceImpl) finish(ctx context.Context, op, code string, out model.Outcome, err error) {
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error(op+" failed", zap.String("code_hash", ledger.CodeHash(code)), zap.Error(err))
		}
		return
	}
	s.obs.ObserveOutcome(op, out)
	if !out.Valid {
		s.log.Debug(op+" rejected", zap.String("code_hash", ledger.CodeHash(code)), zap.String("reason", string(out.Reason)))
	}
}
