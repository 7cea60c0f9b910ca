// Package handler serves the SmartPick REST API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/smartpick/internal/domain/auth"
	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/checkout"
	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/domain/pricing"
	"github.com/xenking/smartpick/internal/domain/product"
	"github.com/xenking/smartpick/pkg/httpmiddleware"
)

// Carts hands out the cart of a user.
type Carts interface {
	Get(ctx context.Context, owner string) (*cart.Store, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler implements the REST API on top of the domain services.
type Handler struct {
	products     product.Repository
	carts        Carts
	checkouts    *checkout.Manager
	orders       *order.Service
	calc         *pricing.Calculator
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	carts Carts,
	checkouts *checkout.Manager,
	orders *order.Service,
	calc *pricing.Calculator,
) *Handler {
	if calc == nil {
		calc = pricing.Default()
	}
	return &Handler{
		products:     products,
		carts:        carts,
		checkouts:    checkouts,
		orders:       orders,
		calc:         calc,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API router. User routes require a bearer token parsed
// by tokens and then pass through userMiddlewares; admin routes require an
// API key with the manage_orders scope.
func (h *Handler) Routes(
	tokens httpmiddleware.TokenParser,
	keys httpmiddleware.APIKeyAuthenticator,
	userMiddlewares ...httpmiddleware.Middleware,
) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{productID}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(httpmiddleware.RequireUser(tokens))
			for _, mw := range userMiddlewares {
				r.Use(mw)
			}

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Put("/cart/items/{productID}", h.setCartQuantity)
			r.Delete("/cart/items/{productID}", h.removeCartItem)

			r.Post("/checkout", h.beginCheckout)
			r.Get("/checkout", h.getCheckout)
			r.Delete("/checkout", h.abandonCheckout)
			r.Put("/checkout/shipping", h.submitShipping)
			r.Put("/checkout/payment", h.selectPayment)
			r.Post("/checkout/back", h.checkoutBack)
			r.Get("/checkout/review", h.reviewCheckout)
			r.Post("/checkout/confirm", h.confirmCheckout)

			r.Get("/orders", h.listOrders)
			r.Get("/orders/{orderID}", h.getOrder)
			r.Post("/orders/{orderID}/reorder", h.reorder)
		})

		r.Group(func(r chi.Router) {
			r.Use(httpmiddleware.RequireAPIKey(keys, auth.ScopeManageOrders))
			r.Patch("/admin/orders/{orderID}/status", h.updateOrderStatus)
		})
	})
	return r
}

// user returns the authenticated user. RequireUser guarantees one exists on
// every route that calls it.
func user(r *http.Request) auth.User {
	u, _ := auth.UserFrom(r.Context())
	return u
}
