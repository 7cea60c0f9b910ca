package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/smartpick/internal/domain/cart"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// cartFor returns the cart of the authenticated user or writes an error.
func (h *Handler) cartFor(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	c, err := h.carts.Get(r.Context(), user(r).ID)
	if err != nil {
		fail(w, r, errors.Wrap(err, "open cart"))
		return nil, false
	}
	return c, true
}

func (h *Handler) writeCart(w http.ResponseWriter, c *cart.Store) {
	writeJSON(w, http.StatusOK, c.Summary(h.calc))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.writeCart(w, c)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		fail(w, r, cart.ErrInvalidQuantity)
		return
	}

	// Prices always come from the catalog, never from the client.
	p, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil {
		fail(w, r, errors.Wrap(err, "get product"))
		return
	}
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	if err := c.AddItem(r.Context(), h.present(*p), req.Quantity); err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, c)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	if err := c.SetQuantity(r.Context(), chi.URLParam(r, "productID"), req.Quantity); err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, c)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	if err := c.RemoveItem(r.Context(), chi.URLParam(r, "productID")); err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, c)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, c)
}
