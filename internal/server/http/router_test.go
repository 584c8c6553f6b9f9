package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/keygate/internal/codec"
	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/repository/memory"
	"github.com/and161185/keygate/internal/service"
)

const adminSecret = "s3cret"

var codeSecret = []byte("code-secret")

func newTestRouter(t *testing.T, allow []string, trusted ...string) (http.Handler, *codec.Codec) {
	t.Helper()
	st := memory.New()
	c := codec.New(crypto.NewKeyCache())
	products := service.NewProductService(st, lock.New(st), c, codeSecret, zap.NewNop(), nil, time.Second, 5*time.Millisecond)

	v, err := NewSecretVerifier(adminSecret)
	require.NoError(t, err)
	prefixes, err := ParseAllowList(allow)
	require.NoError(t, err)
	proxies, err := ParseAllowList(trusted)
	require.NoError(t, err)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	return NewRouter(products, metrics, Config{Secret: v, AllowList: prefixes, TrustedProxies: proxies, RateLimit: 1000, Burst: 1000}, zap.NewNop()), c
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doFrom(t, h, "", method, path, body, hdr)
}

// doFrom sends the request from the socket address remote (httptest default when empty).
func doFrom(t *testing.T, h http.Handler, remote, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if remote != "" {
		req.RemoteAddr = remote
	}
	req.Header.Set("Content-Type", "application/json")
	if _, ok := hdr[AdminSecretHeader]; !ok {
		req.Header.Set(AdminSecretHeader, adminSecret)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProductsAPI(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/admin/products", `{"name":"editor"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, "editor", p.Name)
	require.Len(t, p.ID, service.ProductIDLen)

	rec = do(t, h, http.MethodPost, "/admin/products", `{"name":"editor"}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/products", `{"name":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/products", `{"name":"a:b"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, []model.Product{p}, list)

	rec = do(t, h, http.MethodGet, "/admin/products/editor/exists", "", nil)
	require.JSONEq(t, `{"exists":true}`, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/admin/products/other/exists", "", nil)
	require.JSONEq(t, `{"exists":false}`, rec.Body.String())
}

func TestCodesAPI(t *testing.T) {
	h, c := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/admin/products", `{"name":"editor"}`, nil)
	var p model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	rec = do(t, h, http.MethodPost, "/admin/codes",
		`{"product":"editor","expiration_period":3600,"activation_duration":86400,"max_uses":2,"amount":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp generateCodesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, p.ID, resp.ProductID)
	require.Len(t, resp.Codes, 3)
	info, err := c.Verify(codeSecret, resp.Codes[0], p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, info.MaxUses)

	rec = do(t, h, http.MethodPost, "/admin/codes",
		`{"product_id":"`+p.ID+`","expiration_period":60,"activation_duration":60,"max_uses":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Codes, 1)

	for name, body := range map[string]string{
		"no product":     `{"expiration_period":60,"activation_duration":60,"max_uses":1}`,
		"amount too big": `{"product":"editor","expiration_period":60,"activation_duration":60,"max_uses":1,"amount":1001}`,
		"zero uses":      `{"product":"editor","expiration_period":60,"activation_duration":60,"max_uses":0}`,
		"huge duration":  `{"product":"editor","expiration_period":60,"activation_duration":9000000000,"max_uses":1}`,
		"huge uses":      `{"product":"editor","expiration_period":60,"activation_duration":60,"max_uses":1000000000}`,
		"huge expiry":    `{"product":"editor","expiration_period":315360001,"activation_duration":60,"max_uses":1}`,
		"unknown field":  `{"product":"editor","expiration_period":60,"activation_duration":60,"max_uses":1,"x":1}`,
		"bad json":       `{`,
	} {
		rec = do(t, h, http.MethodPost, "/admin/codes", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec = do(t, h, http.MethodPost, "/admin/codes",
		`{"product":"missing","expiration_period":60,"activation_duration":60,"max_uses":1}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	h, _ := newTestRouter(t, []string{"10.0.0.0/8", "192.168.1.7"})

	rec := doFrom(t, h, "10.1.2.3:4000", http.MethodGet, "/admin/products", "", map[string]string{AdminSecretHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doFrom(t, h, "10.1.2.3:4000", http.MethodGet, "/admin/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doFrom(t, h, "192.168.1.7:4000", http.MethodGet, "/admin/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doFrom(t, h, "172.16.0.1:4000", http.MethodGet, "/admin/products", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doFrom(t, h, "172.16.0.1:4000", http.MethodGet, "/healthz", "", map[string]string{AdminSecretHeader: ""})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/metrics", "", map[string]string{AdminSecretHeader: ""})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuth_ForwardedHeadersNeedTrustedProxy(t *testing.T) {
	h, _ := newTestRouter(t, []string{"10.0.0.0/8"})
	for _, hdr := range []string{"X-Real-IP", "X-Forwarded-For"} {
		rec := doFrom(t, h, "203.0.113.9:5555", http.MethodGet, "/admin/products", "", map[string]string{hdr: "10.1.2.3"})
		require.Equal(t, http.StatusForbidden, rec.Code, hdr)
	}

	h, _ = newTestRouter(t, []string{"10.0.0.0/8"}, "192.0.2.10")
	rec := doFrom(t, h, "192.0.2.10:8000", http.MethodGet, "/admin/products", "", map[string]string{"X-Real-IP": "10.1.2.3"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doFrom(t, h, "192.0.2.10:8000", http.MethodGet, "/admin/products", "", map[string]string{"X-Real-IP": "203.0.113.9"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doFrom(t, h, "203.0.113.9:5555", http.MethodGet, "/admin/products", "", map[string]string{"X-Real-IP": "10.1.2.3"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRateLimit(t *testing.T) {
	st := memory.New()
	products := service.NewProductService(st, lock.New(st), codec.New(crypto.NewKeyCache()), codeSecret, zap.NewNop(), nil, time.Second, 5*time.Millisecond)
	v, _ := NewSecretVerifier(adminSecret)
	h := NewRouter(products, nil, Config{Secret: v, RateLimit: 0.001, Burst: 1}, zap.NewNop())

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/admin/products", "", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/admin/products", "", nil).Code)
}

func TestParseAllowList(t *testing.T) {
	got, err := ParseAllowList([]string{" 10.0.0.1 ", "", "2001:db8::/32"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 32, got[0].Bits())

	_, err = ParseAllowList([]string{"not-an-ip"})
	require.Error(t, err)
}
