package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/model"
)

const maxBody = 64 << 10

type createProductRequest struct {
	Name string `json:"name" validate:"required,max=128,excludesall=:"`
}

type generateCodesRequest struct {
	Product            string `json:"product" validate:"required_without=ProductID"`
	ProductID          string `json:"product_id" validate:"required_without=Product"`
	ExpirationPeriod   int64  `json:"expiration_period" validate:"gte=1,lte=315360000"`    // 10 years
	ActivationDuration int64  `json:"activation_duration" validate:"gte=1,lte=3153600000"` // 100 years
	MaxUses            int64  `json:"max_uses" validate:"gte=1,lte=1000000"`
	Amount             int    `json:"amount" validate:"omitempty,min=1,max=1000"`
}

type generateCodesResponse struct {
	ProductID string   `json:"product_id"`
	Codes     []string `json:"codes"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.products.Create(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, "create product", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, p)
}

func (h *Handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.products.List(r.Context())
	if err != nil {
		h.fail(w, r, "list products", err)
		return
	}
	render.JSON(w, r, list)
}

func (h *Handlers) productExists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.products.Exists(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, "product exists", err)
		return
	}
	render.JSON(w, r, existsResponse{Exists: ok})
}

func (h *Handlers) generateCodes(w http.ResponseWriter, r *http.Request) {
	var req generateCodesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	p, err := h.products.Resolve(r.Context(), req.Product, req.ProductID)
	if err != nil {
		h.fail(w, r, "resolve product", err)
		return
	}
	codes, err := h.products.GenerateCodes(r.Context(), p.ID, model.CodeParams{
		ExpirationPeriod:   req.ExpirationPeriod,
		ActivationDuration: req.ActivationDuration,
		MaxUses:            req.MaxUses,
	}, req.Amount)
	if err != nil {
		h.fail(w, r, "generate codes", err)
		return
	}
	render.JSON(w, r, generateCodesResponse{ProductID: p.ID, Codes: codes})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrMissingField), errors.Is(err, errs.ErrInvalidFormat):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrLockContended):
		writeError(w, r, http.StatusServiceUnavailable, "busy, retry later")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal")
	}
}
