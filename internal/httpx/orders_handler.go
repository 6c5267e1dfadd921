package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OrderService is the part of *orders.Service the HTTP layer drives.
type OrderService interface {
	CreateOrder(ctx context.Context, p auth.Principal, reqs []orders.LineRequest, idemKey string) (orders.OrderView, error)
	GetOrder(ctx context.Context, p auth.Principal, id string) (orders.OrderView, error)
	ListOrders(ctx context.Context, p auth.Principal, f orders.ListFilter) ([]orders.OrderView, error)
	UpdateOrder(ctx context.Context, p auth.Principal, id string, reqs []orders.LineRequest) (orders.OrderView, error)
	CancelOrder(ctx context.Context, p auth.Principal, id string) (orders.OrderView, error)
	DeleteOrder(ctx context.Context, p auth.Principal, id string) error
	OrderStatus(ctx context.Context, p auth.Principal, id string) (orders.Status, error)
}

type OrdersHandler struct {
	Orders OrderService
	Tokens TokenValidator
}

type orderReq struct {
	Items []orders.LineRequest `json:"items"`
}

type statusResp struct {
	OrderID string        `json:"orderId"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireBearer(h.Tokens))
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Put("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

// scope returns the request context tagged with the request id, plus the
// caller. RequireBearer guarantees the principal is present.
func scope(r *http.Request) (context.Context, auth.Principal) {
	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	p, _ := auth.FromContext(ctx)
	return ctx, p
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, p := scope(r)
	v, err := h.Orders.CreateOrder(ctx, p, req.Items, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, p := scope(r)
	v, err := h.Orders.GetOrder(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, p := scope(r)
	id := chi.URLParam(r, "id")
	st, err := h.Orders.OrderStatus(ctx, p, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: st})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, p := scope(r)
	f := orders.ListFilter{IDs: splitParam(r, "ids")}
	for _, s := range splitParam(r, "statuses") {
		f.Statuses = append(f.Statuses, orders.Status(strings.ToUpper(s)))
	}
	list, err := h.Orders.ListOrders(ctx, p, f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, p := scope(r)
	v, err := h.Orders.UpdateOrder(ctx, p, chi.URLParam(r, "id"), req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// deleteOrder hard-deletes for admins and cancels for everybody else.
func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, p := scope(r)
	id := chi.URLParam(r, "id")
	if p.Privileged() {
		if err := h.Orders.DeleteOrder(ctx, p, id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	v, err := h.Orders.CancelOrder(ctx, p, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// splitParam accepts both ?ids=a,b and ?ids=a&ids=b.
func splitParam(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch orders.Kind(err) {
	case orders.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case orders.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case orders.KindAccessDenied:
		writeError(w, http.StatusForbidden, "access denied")
	case orders.KindInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "timeout")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
