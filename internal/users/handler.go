package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/go-chi/chi/v5"
)

// Store is satisfied by *Repo.
type Store interface {
	GetByID(ctx context.Context, id string) (customers.Customer, error)
	GetByIDs(ctx context.Context, ids []string) ([]customers.Customer, error)
}

// Handler serves the customer directory consumed by the order service.
type Handler struct {
	Users Store
	Log   *slog.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/users", h.list)
	r.Get("/users/{id}", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Users.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	case err != nil:
		h.Log.Error("get user", "user_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, s := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ids required"})
		return
	}
	cs, err := h.Users.GetByIDs(r.Context(), ids)
	if err != nil {
		h.Log.Error("list users", "count", len(ids), "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
