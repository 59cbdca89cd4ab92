// Package handler exposes the order engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/pkg/httpmiddleware"
)

// OrderService is the engine surface used by the handlers.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Patch(ctx context.Context, req order.PatchRequest) (*order.Order, error)
	Get(ctx context.Context, tenantID, orderID string) (*order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the tenant-scoped order routes.
type Handler struct {
	orders OrderService
}

// NewHandler constructs a Handler.
func NewHandler(orders OrderService) *Handler {
	return &Handler{orders: orders}
}

// Routes mounts the order API on r. tenant middlewares run inside the
// tenant route, where the {tenantID} parameter is resolved.
func (h *Handler) Routes(r chi.Router, tenant ...httpmiddleware.Middleware) {
	r.Route("/api/tenants/{tenantID}/orders", func(r chi.Router) {
		for _, m := range tenant {
			r.Use(m)
		}
		r.Post("/", h.CreateOrder)
		r.Get("/{orderID}", h.GetOrder)
		r.Patch("/{orderID}", h.PatchOrder)
	})
}

// NewRouter returns a chi router with request logging and the order routes.
func NewRouter(h *Handler, tenant ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Routes(r, tenant...)
	return r
}
