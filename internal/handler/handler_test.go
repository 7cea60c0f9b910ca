package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/auth"
	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/checkout"
	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/domain/pricing"
	"github.com/xenking/smartpick/internal/domain/product"
	"github.com/xenking/smartpick/internal/storage/kv"
	"github.com/xenking/smartpick/internal/storage/memory"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	listErr  error
}

func (m *mockProductRepo) List(context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.products {
		if slices.Contains(ids, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// flakyOrderRepo fails Create while failing is set.
type flakyOrderRepo struct {
	*memory.OrderRepository
	failing atomic.Bool
}

func (r *flakyOrderRepo) Create(ctx context.Context, o *order.Order) error {
	if r.failing.Load() {
		return errors.New("connection reset")
	}
	return r.OrderRepository.Create(ctx, o)
}

type mockAPIKeyRepo struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

// --- Helpers ---

var (
	testSecret = []byte("test-secret")
	testPepper = []byte("test-pepper")
)

const adminKey = "admin-key"

type env struct {
	t        *testing.T
	server   *httptest.Server
	tokens   *auth.Tokens
	repo     *flakyOrderRepo
	products *mockProductRepo
	token    string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	products := &mockProductRepo{products: []product.Product{
		{ID: "SP-1", Name: "Earbuds", Brand: "Sonic", Category: "audio", Price: decimal.RequireFromString("199.99"), ImageURL: "img/earbuds.jpg"},
		{ID: "SP-2", Name: "Charger", Brand: "Volt", Category: "power", Price: decimal.RequireFromString("49.50")},
	}}
	repo := &flakyOrderRepo{OrderRepository: memory.NewOrderRepository()}
	orders := order.NewService(repo, order.WithCatalog(products))
	checkouts, err := checkout.NewManager(orders)
	require.NoError(t, err)
	carts := cart.NewRegistry(kv.NewMemory(0), zap.NewNop())

	hash := auth.HashAPIKey(adminKey, testPepper)
	keys := auth.NewAPIKeys(&mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{
		hash: {ID: "k1", KeyHash: hash, Name: "admin", Scopes: []string{auth.ScopeManageOrders}},
	}}, testPepper)
	tokens := auth.NewTokens(testSecret, time.Hour)

	h := NewHandler(Config{ImageBaseURL: "https://cdn.example"}, products, carts, checkouts, orders, pricing.Default())
	srv := httptest.NewServer(h.Routes(tokens, keys))
	t.Cleanup(srv.Close)

	token, err := tokens.Issue(auth.User{ID: "u1", Email: "asha@example.com", Name: "Asha Rao", Phone: "9876543210"})
	require.NoError(t, err)

	return &env{t: t, server: srv, tokens: tokens, repo: repo, products: products, token: token}
}

func (e *env) do(method, path string, body any, out any, headers ...string) int {
	e.t.Helper()

	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(e.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(e.t, err)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var validShipping = checkout.ShippingInfo{
	FirstName:  "Asha",
	LastName:   "Rao",
	Email:      "asha@example.com",
	Phone:      "98765 43210",
	Address:    "12 MG Road",
	City:       "Bengaluru",
	State:      "KA",
	PostalCode: "560001",
}

// checkoutToReview fills the cart and walks the session to review.
func (e *env) checkoutToReview() {
	e.t.Helper()
	require.Equal(e.t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-1", Quantity: 2}, nil))
	require.Equal(e.t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout", nil, nil))
	require.Equal(e.t, http.StatusOK, e.do(http.MethodPut, "/api/checkout/shipping", validShipping, nil))
	require.Equal(e.t, http.StatusOK, e.do(http.MethodPut, "/api/checkout/payment", paymentRequest{PaymentMethod: order.PaymentCOD}, nil))
}

// --- Tests ---

func TestProducts(t *testing.T) {
	e := newEnv(t)
	e.token = ""

	var list []product.Product
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/products", nil, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "https://cdn.example/img/earbuds.jpg", list[0].ImageURL)
	assert.Empty(t, list[1].ImageURL)

	var p product.Product
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/products/SP-2", nil, &p))
	assert.True(t, decimal.RequireFromString("49.50").Equal(p.Price))

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/products/nope", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	e.token = ""
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/cart", nil, nil))

	e.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/orders", nil, nil))
}

func TestCart(t *testing.T) {
	e := newEnv(t)

	var s cart.Summary
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/cart", nil, &s))
	assert.Empty(t, s.Lines)
	assert.True(t, s.Pricing.Total.IsZero())

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-1", Quantity: 2}, &s))
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-2"}, &s))
	assert.Equal(t, 3, s.ItemCount)
	// 2*199.99 + 49.50 = 449.48; shipping 50; tax 80.91.
	assert.True(t, decimal.RequireFromString("449.48").Equal(s.Pricing.Subtotal))
	assert.True(t, decimal.RequireFromString("50").Equal(s.Pricing.ShippingFee))
	assert.True(t, decimal.RequireFromString("80.91").Equal(s.Pricing.Tax))
	assert.True(t, decimal.RequireFromString("580.39").Equal(s.Pricing.Total))

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/cart/items/SP-1", setQuantityRequest{Quantity: 3}, &s))
	assert.Equal(t, 4, s.ItemCount)
	assert.True(t, s.Pricing.FreeShipping())

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/cart/items/SP-1", setQuantityRequest{Quantity: 0}, &s))
	assert.Equal(t, 1, s.ItemCount)

	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/cart/items/SP-2", nil, &s))
	assert.Empty(t, s.Lines)

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-2"}, &s))
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/cart", nil, &s))
	assert.Empty(t, s.Lines)
}

func TestCart_Errors(t *testing.T) {
	e := newEnv(t)

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "nope", Quantity: 1}, &errResp))

	errResp = errorResponse{}
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-1", Quantity: -1}, &errResp))
	assert.Contains(t, errResp.Fields, "quantity")

	// A catalog entry with a negative price cannot be bought.
	e.products.products = append(e.products.products, product.Product{ID: "SP-BAD", Name: "Broken", Price: decimal.RequireFromString("-1")})
	errResp = errorResponse{}
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-BAD", Quantity: 1}, &errResp))
	assert.Contains(t, errResp.Fields, "productId")

	errResp = errorResponse{}
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/cart/items", "{not json", &errResp))
	assert.Equal(t, http.StatusBadRequest, errResp.Code)
}

func TestCheckout_HappyPath(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-1", Quantity: 2}, nil))

	var v checkout.View
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout", nil, &v))
	assert.Equal(t, checkout.StateCollectingShipping, v.State)
	assert.Equal(t, "Asha", v.Shipping.FirstName)
	assert.Equal(t, "Rao", v.Shipping.LastName)
	assert.Equal(t, "asha@example.com", v.Shipping.Email)

	// Resuming returns the same session.
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/checkout", nil, &v))

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/checkout/shipping", validShipping, &v))
	assert.Equal(t, checkout.StateCollectingPayment, v.State)

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/checkout/payment", paymentRequest{PaymentMethod: order.PaymentCard}, &v))
	assert.Equal(t, checkout.StateReviewingOrder, v.State)

	var review checkout.Review
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/checkout/review", nil, &review))
	assert.Equal(t, 2, review.ItemCount)
	// 399.98 + 50 shipping + 72.00 tax.
	assert.True(t, decimal.RequireFromString("521.98").Equal(review.Pricing.Total))

	var placed order.Order
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout/confirm", nil, &placed))
	assert.Regexp(t, `^ORD-\d+-[0-9A-F]{8}$`, placed.ID)
	assert.Equal(t, order.StatusConfirmed, placed.Status)
	assert.True(t, decimal.RequireFromString("521.98").Equal(placed.Summary.Total))
	assert.Equal(t, "Asha Rao", placed.ShippingAddress.Name)
	assert.Equal(t, order.PaymentCard, placed.PaymentMethod)

	var s cart.Summary
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/cart", nil, &s))
	assert.Empty(t, s.Lines, "cart is cleared after the order is placed")

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/checkout", nil, nil), "completed sessions are released")

	var list []order.Order
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/orders", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, placed.ID, list[0].ID)

	var got order.Order
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/orders/"+placed.ID, nil, &got))
	assert.Equal(t, placed.ID, got.ID)
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newEnv(t)
	var errResp errorResponse
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/checkout", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/checkout", nil, nil))
}

func TestCheckout_Validation(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "SP-1", Quantity: 1}, nil))
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout", nil, nil))

	bad := validShipping
	bad.Email = "not-an-email"
	bad.PostalCode = "12345"
	var errResp errorResponse
	require.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPut, "/api/checkout/shipping", bad, &errResp))
	assert.Contains(t, errResp.Fields, "email")
	assert.Contains(t, errResp.Fields, "postalCode")

	errResp = errorResponse{}
	require.Equal(t, http.StatusConflict, e.do(http.MethodPut, "/api/checkout/payment", paymentRequest{PaymentMethod: order.PaymentCOD}, &errResp),
		"payment before shipping is a state error")

	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/api/checkout/shipping", validShipping, nil))
	errResp = errorResponse{}
	require.Equal(t, http.StatusUnprocessableEntity, e.do(http.MethodPut, "/api/checkout/payment", paymentRequest{PaymentMethod: "bitcoin"}, &errResp))
	assert.Contains(t, errResp.Fields, "paymentMethod")

	var v checkout.View
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/checkout/back", nil, &v))
	assert.Equal(t, checkout.StateCollectingShipping, v.State)
	assert.Equal(t, "12 MG Road", v.Shipping.Address, "back keeps entered data")
}

func TestCheckout_PersistenceFailureAndRetry(t *testing.T) {
	e := newEnv(t)
	e.checkoutToReview()

	e.repo.failing.Store(true)
	var errResp errorResponse
	require.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodPost, "/api/checkout/confirm", nil, &errResp))
	assert.True(t, errResp.Retryable)

	var v checkout.View
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/checkout", nil, &v))
	assert.Equal(t, checkout.StateFailed, v.State)
	assert.Equal(t, 1, v.Attempts)

	var s cart.Summary
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/cart", nil, &s))
	assert.Equal(t, 2, s.ItemCount, "cart is untouched after a failed submission")

	var list []order.Order
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/orders", nil, &list))
	assert.Empty(t, list)

	e.repo.failing.Store(false)
	var placed order.Order
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout/confirm", nil, &placed))
	assert.Equal(t, order.StatusConfirmed, placed.Status)
}

func TestCheckout_Abandon(t *testing.T) {
	e := newEnv(t)
	e.checkoutToReview()

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/checkout", nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/checkout", nil, nil))

	var s cart.Summary
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/cart", nil, &s))
	assert.Equal(t, 2, s.ItemCount)
}

func TestOrders_OtherUser(t *testing.T) {
	e := newEnv(t)
	e.checkoutToReview()
	var placed order.Order
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout/confirm", nil, &placed))

	other, err := e.tokens.Issue(auth.User{ID: "u2"})
	require.NoError(t, err)
	e.token = other

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/orders/"+placed.ID, nil, nil))
	var list []order.Order
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/orders", nil, &list))
	assert.Empty(t, list)
	assert.NotNil(t, list)
}

func TestAdminUpdateStatus(t *testing.T) {
	e := newEnv(t)
	e.checkoutToReview()
	var placed order.Order
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout/confirm", nil, &placed))

	path := "/api/admin/orders/" + placed.ID + "/status"
	e.token = ""

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPatch, path, updateStatusRequest{Status: order.StatusProcessing}, nil))
	assert.Equal(t, http.StatusUnauthorized,
		e.do(http.MethodPatch, path, updateStatusRequest{Status: order.StatusProcessing}, nil, "api_key", "wrong"))

	var o order.Order
	require.Equal(t, http.StatusOK,
		e.do(http.MethodPatch, path, updateStatusRequest{Status: order.StatusProcessing}, &o, "api_key", adminKey))
	assert.Equal(t, order.StatusProcessing, o.Status)

	var errResp errorResponse
	assert.Equal(t, http.StatusConflict,
		e.do(http.MethodPatch, path, updateStatusRequest{Status: order.StatusConfirmed}, &errResp, "api_key", adminKey),
		"status never moves backwards")

	errResp = errorResponse{}
	assert.Equal(t, http.StatusUnprocessableEntity,
		e.do(http.MethodPatch, path, updateStatusRequest{Status: "lost"}, &errResp, "api_key", adminKey))

	require.Equal(t, http.StatusOK,
		e.do(http.MethodPatch, path, updateStatusRequest{Status: order.StatusShipped, TrackingID: "TRK1"}, &o, "api_key", adminKey))
	assert.Equal(t, "TRK1", o.TrackingID)

	assert.Equal(t, http.StatusNotFound,
		e.do(http.MethodPatch, "/api/admin/orders/ORD-missing/status", updateStatusRequest{Status: order.StatusProcessing}, nil, "api_key", adminKey))
}

func TestReorder(t *testing.T) {
	e := newEnv(t)
	e.checkoutToReview()
	var placed order.Order
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/checkout/confirm", nil, &placed))

	var resp struct {
		Added   []string     `json:"added"`
		Skipped []string     `json:"skipped"`
		Cart    cart.Summary `json:"cart"`
	}
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/orders/"+placed.ID+"/reorder", nil, &resp))
	assert.Equal(t, []string{"SP-1"}, resp.Added)
	assert.Empty(t, resp.Skipped)
	assert.Equal(t, 2, resp.Cart.ItemCount)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/orders/ORD-missing/reorder", nil, nil))
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/nope", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}
