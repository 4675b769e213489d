// Package statusapi is the small read-only HTTP surface: order status for
// diners' polling fallback and the live-orders kitchen view.
package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"livekitchen/internal/domain"
	"livekitchen/internal/lifecycle"
	"livekitchen/internal/repository"
)

type Handler struct {
	orders repository.Orders
	live   *lifecycle.Service
}

func NewHandler(orders repository.Orders, live *lifecycle.Service) *Handler {
	return &Handler{orders: orders, live: live}
}

func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("order_id")
	o, err := h.orders.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": o.ID,
		"status":   o.Status,
		"user_msg": o.Status.UserMessage(),
	})
}

func (h *Handler) GetLiveOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.PathValue("restaurant_id")
	orders, err := h.live.LiveOrders(r.Context(), restaurantID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restaurant_id": restaurantID,
		"orders":        orders,
	})
}

func Router(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/orders/{order_id}/status", h.GetOrderStatus)
	mux.HandleFunc("GET /api/v1/restaurants/{restaurant_id}/live-orders", h.GetLiveOrders)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem emits a simplified problem+json body.
func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	writeJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}
