package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/order"
)

type updateStatusRequest struct {
	Status     order.Status `json:"status"`
	TrackingID string       `json:"trackingId,omitempty"`
}

type reorderResponse struct {
	*order.ReorderResult
	Cart cart.Summary `json:"cart"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context(), user(r).ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForUser(r.Context(), user(r).ID, chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// reorder copies the items of a past order into the caller's cart at
// current catalog prices.
func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	res, err := h.orders.Reorder(r.Context(), user(r).ID, chi.URLParam(r, "orderID"), c)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reorderResponse{ReorderResult: res, Cart: c.Summary(h.calc)})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), req.Status, req.TrackingID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
