package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/smartpick/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	out := make([]product.Product, len(products))
	for i, p := range products {
		out[i] = h.present(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		fail(w, r, errors.Wrap(err, "get product"))
		return
	}
	writeJSON(w, http.StatusOK, h.present(*p))
}

// present prefixes relative image paths with the configured base URL.
func (h *Handler) present(p product.Product) product.Product {
	if h.imageBaseURL != "" && p.ImageURL != "" && !strings.Contains(p.ImageURL, "://") {
		p.ImageURL = strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(p.ImageURL, "/")
	}
	return p
}
