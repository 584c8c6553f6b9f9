package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/and161185/keygate/internal/codec"
	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/repository"
)

// RegistryKey is the store key holding the JSON product list.
const RegistryKey = "products"

// ProductIDLen is the length of generated product ids.
const ProductIDLen = 8

// MaxCodesPerRequest caps GenerateCodes.
const MaxCodesPerRequest = 1000

const registryLock = "P:" + RegistryKey

// ProductService manages the product registry and issues activation codes.
type ProductService interface {
	// Create registers a product under a unique name and a fresh id.
	Create(ctx context.Context, name string) (model.Product, error)
	// List returns every registered product.
	List(ctx context.Context) ([]model.Product, error)
	// Exists reports whether name is registered.
	Exists(ctx context.Context, name string) (bool, error)
	// Resolve finds a product by name or, when name is empty, by id.
	Resolve(ctx context.Context, name, id string) (model.Product, error)
	// GenerateCodes issues amount codes for a registered product id.
	GenerateCodes(ctx context.Context, productID string, p model.CodeParams, amount int) ([]string, error)
}

type ProductServiceImpl struct {
	store      repository.KeyValueStore
	locker     *lock.Locker
	codec      *codec.Codec
	secret     []byte
	log        *zap.Logger
	obs        Observer
	lockWait   time.Duration
	lockPeriod time.Duration
}

var _ ProductService = (*ProductServiceImpl)(nil)

// NewProductService constructs ProductService. Registry mutations wait at most
// lockWait for their locks, polling every lockPeriod.
func NewProductService(store repository.KeyValueStore, locker *lock.Locker, c *codec.Codec, secret []byte, log *zap.Logger, obs Observer, lockWait, lockPeriod time.Duration) *ProductServiceImpl {
	if obs == nil {
		obs = nopObserver{}
	}
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	if lockPeriod <= 0 {
		lockPeriod = 100 * time.Millisecond
	}
	return &ProductServiceImpl{store: store, locker: locker, codec: c, secret: secret, log: log, obs: obs, lockWait: lockWait, lockPeriod: lockPeriod}
}

func (s *ProductServiceImpl) load(ctx context.Context) ([]model.Product, error) {
	raw, err := s.store.Get(ctx, RegistryKey)
	if errors.Is(err, errs.ErrNotFound) {
		return []model.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}
	var list []model.Product
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode registry: %w", errs.ErrServer)
	}
	return list, nil
}

// Create adds name to the registry. The per-name lock P:<name> and the
// registry lock are both held while the list is rewritten.
func (s *ProductServiceImpl) Create(ctx context.Context, name string) (model.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Product{}, fmt.Errorf("%w: product name", errs.ErrMissingField)
	}

	wctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	for _, l := range []string{"P:" + name, registryLock} {
		if err := s.locker.WaitAndAcquire(wctx, l, s.lockPeriod); err != nil {
			return model.Product{}, err
		}
		defer func(l string) {
			if err := s.locker.Release(context.WithoutCancel(ctx), l); err != nil {
				s.log.Warn("lock release failed", zap.String("lock", l), zap.Error(err))
			}
		}(l)
	}

	list, err := s.load(ctx)
	if err != nil {
		return model.Product{}, err
	}
	if slices.ContainsFunc(list, func(p model.Product) bool { return p.Name == name }) {
		return model.Product{}, errs.ErrAlreadyExists
	}

	var id string
	for {
		id, err = crypto.RandAlnum(ProductIDLen)
		if err != nil {
			return model.Product{}, err
		}
		if !slices.ContainsFunc(list, func(p model.Product) bool { return p.ID == id }) {
			break
		}
	}

	p := model.Product{Name: name, ID: id}
	raw, err := json.Marshal(append(list, p))
	if err != nil {
		return model.Product{}, err
	}
	if err := s.store.Put(ctx, RegistryKey, raw, 0); err != nil {
		return model.Product{}, fmt.Errorf("put registry: %w", err)
	}
	s.log.Info("product created", zap.String("name", p.Name), zap.String("id", p.ID))
	return p, nil
}

// List returns the registry in insertion order.
func (s *ProductServiceImpl) List(ctx context.Context) ([]model.Product, error) {
	return s.load(ctx)
}

// Exists reports whether a product named name is registered.
func (s *ProductServiceImpl) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Resolve(ctx, name, "")
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Resolve looks a product up by name, or by id when name is empty.
func (s *ProductServiceImpl) Resolve(ctx context.Context, name, id string) (model.Product, error) {
	if name == "" && id == "" {
		return model.Product{}, fmt.Errorf("%w: product name or id", errs.ErrMissingField)
	}
	list, err := s.load(ctx)
	if err != nil {
		return model.Product{}, err
	}
	i := slices.IndexFunc(list, func(p model.Product) bool {
		if name != "" {
			return p.Name == name
		}
		return p.ID == id
	})
	if i < 0 {
		return model.Product{}, errs.ErrNotFound
	}
	return list[i], nil
}

// GenerateCodes issues amount codes for productID.
func (s *ProductServiceImpl) GenerateCodes(ctx context.Context, productID string, p model.CodeParams, amount int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ProductService.GenerateCodes")
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("codes.amount", amount))
	codes, err := s.generate(ctx, productID, p, amount)
	endSpan(span, err)
	return codes, err
}

func (s *ProductServiceImpl) generate(ctx context.Context, productID string, p model.CodeParams, amount int) ([]string, error) {
	switch {
	case amount < 1 || amount > MaxCodesPerRequest:
		return nil, fmt.Errorf("%w: amount must be 1..%d", errs.ErrInvalidFormat, MaxCodesPerRequest)
	case p.ExpirationPeriod < 1, p.ActivationDuration < 1, p.MaxUses < 1:
		return nil, fmt.Errorf("%w: code parameters must be positive", errs.ErrInvalidFormat)
	}
	if _, err := s.Resolve(ctx, "", productID); err != nil {
		return nil, err
	}

	codes := make([]string, 0, amount)
	for range amount {
		c, err := s.codec.Encode(s.secret, productID, p)
		if err != nil {
			return nil, err
		}
		if len(c) > crypto.MaxOAEPPlaintext {
			return nil, fmt.Errorf("%w: code of %d bytes exceeds one encrypted field (%d), lower the parameters",
				errs.ErrInvalidFormat, len(c), crypto.MaxOAEPPlaintext)
		}
		codes = append(codes, c)
	}
	s.obs.ObserveCodes(productID, amount)
	s.log.Info("codes generated", zap.String("product_id", productID), zap.Int("amount", amount))
	return codes, nil
}
