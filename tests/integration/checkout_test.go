//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var orderIDPattern = regexp.MustCompile(`^ORD-\d+-[0-9A-F]{8}$`)

var validShipping = shippingInfo{
	FirstName:  "Asha",
	LastName:   "Rao",
	Email:      "asha@example.com",
	Phone:      "98765 43210",
	Address:    "12 MG Road",
	City:       "Bengaluru",
	State:      "KA",
	PostalCode: "560001",
}

func TestCart_RequiresToken(t *testing.T) {
	resp := doGet(t, "/api/cart")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCart_Pricing(t *testing.T) {
	token := mintToken(t, "it-cart")

	// 449 + 2*151 = 751: free shipping, 18% tax.
	asUser(t, token, http.MethodPost, "/api/cart/items", map[string]any{"productId": "SP-1004", "quantity": 1}, http.StatusOK).Body.Close()
	cart := decodeJSON[cartResponse](t, asUser(t, token, http.MethodPost, "/api/cart/items",
		map[string]any{"productId": "SP-1007", "quantity": 2}, http.StatusOK))

	if cart.ItemCount != 3 {
		t.Fatalf("itemCount: got %d, want 3", cart.ItemCount)
	}
	if cart.Pricing.Subtotal != "751" || cart.Pricing.Shipping != "0" || cart.Pricing.Tax != "135.18" || cart.Pricing.Total != "886.18" {
		t.Fatalf("pricing: got %+v", cart.Pricing)
	}

	cart = decodeJSON[cartResponse](t, asUser(t, token, http.MethodPut, "/api/cart/items/SP-1007",
		map[string]any{"quantity": 0}, http.StatusOK))
	if cart.ItemCount != 1 || cart.Pricing.Shipping != "50" {
		t.Fatalf("after removing SP-1007: got %+v", cart)
	}

	cart = decodeJSON[cartResponse](t, asUser(t, token, http.MethodGet, "/api/cart", nil, http.StatusOK))
	if cart.ItemCount != 1 {
		t.Fatalf("reloaded itemCount: got %d", cart.ItemCount)
	}

	asUser(t, token, http.MethodDelete, "/api/cart", nil, http.StatusOK).Body.Close()
}

func TestCheckout_EndToEnd(t *testing.T) {
	token := mintToken(t, "it-checkout")

	asUser(t, token, http.MethodPost, "/api/cart/items", map[string]any{"productId": "SP-1005", "quantity": 1}, http.StatusOK).Body.Close()

	view := decodeJSON[checkoutResponse](t, asUser(t, token, http.MethodPost, "/api/checkout", nil, http.StatusCreated))
	if view.State != "collecting_shipping" {
		t.Fatalf("state: got %q", view.State)
	}
	if view.Shipping.Email != "it-checkout@example.com" {
		t.Errorf("prefilled email: got %q", view.Shipping.Email)
	}

	bad := validShipping
	bad.PostalCode = "12"
	errBody := decodeJSON[errorResponse](t, asUser(t, token, http.MethodPut, "/api/checkout/shipping", bad, http.StatusUnprocessableEntity))
	if _, ok := errBody.Fields["postalCode"]; !ok {
		t.Errorf("expected postalCode field error, got %+v", errBody.Fields)
	}

	asUser(t, token, http.MethodPut, "/api/checkout/shipping", validShipping, http.StatusOK).Body.Close()
	asUser(t, token, http.MethodPut, "/api/checkout/payment", map[string]string{"paymentMethod": "cod"}, http.StatusOK).Body.Close()

	review := decodeJSON[struct {
		Pricing pricingResponse `json:"pricing"`
	}](t, asUser(t, token, http.MethodGet, "/api/checkout/review", nil, http.StatusOK))
	// 299 + 50 shipping + 53.82 tax.
	if review.Pricing.Total != "402.82" {
		t.Fatalf("review total: got %+v", review.Pricing)
	}

	placed := decodeJSON[orderResponse](t, asUser(t, token, http.MethodPost, "/api/checkout/confirm", nil, http.StatusCreated))
	if !orderIDPattern.MatchString(placed.ID) {
		t.Errorf("order id %q does not match %s", placed.ID, orderIDPattern)
	}
	if placed.Status != "confirmed" || placed.OrderSummary.Total != "402.82" {
		t.Errorf("placed order: got %+v", placed)
	}

	cart := decodeJSON[cartResponse](t, asUser(t, token, http.MethodGet, "/api/cart", nil, http.StatusOK))
	if cart.ItemCount != 0 {
		t.Errorf("cart not cleared: %+v", cart)
	}

	orders := decodeJSON[[]orderResponse](t, asUser(t, token, http.MethodGet, "/api/orders", nil, http.StatusOK))
	if len(orders) != 1 || orders[0].ID != placed.ID {
		t.Fatalf("orders: got %+v", orders)
	}

	// Another shopper cannot see the order.
	other := mintToken(t, "it-other")
	asUser(t, other, http.MethodGet, "/api/orders/"+placed.ID, nil, http.StatusNotFound).Body.Close()

	// Fulfilment moves the order forward only.
	statusPath := "/api/admin/orders/" + placed.ID + "/status"
	resp := doRequest(t, http.MethodPatch, statusPath, map[string]string{"status": "processing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("admin without key: expected 401, got %d", resp.StatusCode)
	}

	for _, status := range []string{"processing", "shipped"} {
		resp := doRequest(t, http.MethodPatch, statusPath, map[string]string{"status": status}, "api_key", testAPIKey)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("set %s: expected 200, got %d", status, resp.StatusCode)
		}
		o := decodeJSON[orderResponse](t, resp)
		if o.Status != status {
			t.Fatalf("status: got %q, want %q", o.Status, status)
		}
		if status == "shipped" && o.TrackingID == "" {
			t.Error("shipped order has no tracking id")
		}
	}

	resp = doRequest(t, http.MethodPatch, statusPath, map[string]string{"status": "confirmed"}, "api_key", testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("backwards transition: expected 409, got %d", resp.StatusCode)
	}

	// Reorder puts the items back into the cart.
	reorder := decodeJSON[struct {
		Added []string     `json:"added"`
		Cart  cartResponse `json:"cart"`
	}](t, asUser(t, token, http.MethodPost, "/api/orders/"+placed.ID+"/reorder", nil, http.StatusOK))
	if len(reorder.Added) != 1 || reorder.Cart.ItemCount != 1 {
		t.Fatalf("reorder: got %+v", reorder)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	token := mintToken(t, "it-empty")
	asUser(t, token, http.MethodPost, "/api/checkout", nil, http.StatusConflict).Body.Close()
}
