// Package httpserver exposes the admin HTTP API: product registry management
// and activation code generation.
package httpserver

import (
	"net/http"
	"net/netip"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/keygate/internal/service"
)

// Config controls admin access.
type Config struct {
	Secret    *SecretVerifier
	AllowList []netip.Prefix
	RateLimit float64 // requests per second across all admin callers
	Burst     int

	// TrustedProxies are the peers whose X-Real-IP / X-Forwarded-For headers
	// are honoured. Empty means the socket peer address is always used.
	TrustedProxies []netip.Prefix
}

// Handlers holds the admin endpoints.
type Handlers struct {
	products service.ProductService
	validate *validator.Validate
	log      *zap.Logger
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewRouter builds the admin router. metrics may be nil.
func NewRouter(products service.ProductService, metrics http.Handler, cfg Config, log *zap.Logger) http.Handler {
	h := &Handlers{products: products, validate: newValidator(), log: log}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(trustedRealIP(cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)))
		r.Use(requireAdmin(cfg.Secret, cfg.AllowList, log))

		r.Post("/products", h.createProduct)
		r.Get("/products", h.listProducts)
		r.Get("/products/{name}/exists", h.productExists)
		r.Post("/codes", h.generateCodes)
	})
	return r
}
