package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
)

// CreateOrder handles POST /api/tenants/{tenantID}/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeCreate(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = chi.URLParam(r, "tenantID")

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

// GetOrder handles GET /api/tenants/{tenantID}/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// PatchOrder handles PATCH /api/tenants/{tenantID}/orders/{orderID}.
func (h *Handler) PatchOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodePatch(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = chi.URLParam(r, "tenantID")
	req.OrderID = chi.URLParam(r, "orderID")

	o, err := h.orders.Patch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &decodeError{msg: "read body", err: err}
	}
	return body, nil
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encodeOrder(o))
}
