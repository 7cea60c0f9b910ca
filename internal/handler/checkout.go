package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/smartpick/internal/domain/checkout"
	"github.com/xenking/smartpick/internal/domain/order"
)

type paymentRequest struct {
	PaymentMethod order.PaymentMethod `json:"paymentMethod"`
}

// session returns the live checkout of the authenticated user or writes
// 404.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	s, err := h.checkouts.Get(user(r).ID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	return s, true
}

// beginCheckout resumes the live session or starts one seeded from the
// token claims. Starting requires a non-empty cart.
func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	u := user(r)
	if s, err := h.checkouts.Get(u.ID); err == nil {
		writeJSON(w, http.StatusOK, s.View())
		return
	}

	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	if c.IsEmpty() {
		fail(w, r, checkout.ErrEmptyCart)
		return
	}
	s := h.checkouts.Begin(c, checkout.Profile{
		FirstName: u.FirstName(),
		LastName:  u.LastName(),
		Email:     u.Email,
		Phone:     u.Phone,
	})
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) submitShipping(w http.ResponseWriter, r *http.Request) {
	var info checkout.ShippingInfo
	if err := decode(r, &info); err != nil {
		fail(w, r, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SubmitShipping(info); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) selectPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SelectPayment(req.PaymentMethod); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) checkoutBack(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Back(); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) reviewCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	review, err := s.Review()
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *Handler) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	placed, err := s.Confirm(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "confirm checkout"))
		return
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (h *Handler) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Abandon(); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
