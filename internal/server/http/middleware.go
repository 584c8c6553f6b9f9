package httpserver

import (
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/keygate/internal/crypto"
)

// AdminSecretHeader carries the shared admin secret.
const AdminSecretHeader = "X-Admin-Secret"

// SecretVerifier checks the admin secret against an Argon2id hash computed
// once at startup, so the plain secret is not kept in memory.
type SecretVerifier struct {
	salt []byte
	hash []byte
}

// NewSecretVerifier hashes secret with a random salt.
func NewSecretVerifier(secret string) (*SecretVerifier, error) {
	salt, err := crypto.RandBytes(16)
	if err != nil {
		return nil, err
	}
	return &SecretVerifier{salt: salt, hash: crypto.HashSecret([]byte(secret), salt)}, nil
}

// Verify reports whether candidate matches the configured secret.
func (v *SecretVerifier) Verify(candidate string) bool {
	if candidate == "" {
		return false
	}
	return crypto.VerifySecret([]byte(candidate), v.salt, v.hash)
}

// ParseAllowList accepts IPs and CIDR prefixes.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

// trustedRealIP applies middleware.RealIP only when the socket peer is one of
// the trusted proxies, so callers cannot pick their own address.
func trustedRealIP(proxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withHeaders := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(proxies) > 0 && allowed(r.RemoteAddr, proxies) {
				withHeaders.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin rejects callers outside allow (when non-empty) or without the
// admin secret. It must run after trustedRealIP.
func requireAdmin(v *SecretVerifier, allow []netip.Prefix, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allow) > 0 && !allowed(r.RemoteAddr, allow) {
				log.Warn("admin ip rejected", zap.String("remote", r.RemoteAddr), zap.String("request_id", middleware.GetReqID(r.Context())))
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			if !v.Verify(r.Header.Get(AdminSecretHeader)) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowed(remote string, allow []netip.Prefix) bool {
	ap, err := netip.ParseAddrPort(remote)
	var addr netip.Addr
	if err == nil {
		addr = ap.Addr()
	} else if addr, err = netip.ParseAddr(remote); err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusTooManyRequests, "rate limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: msg})
}
