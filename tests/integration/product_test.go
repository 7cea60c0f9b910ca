//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/products")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != seededCount {
		t.Fatalf("expected %d products, got %d", seededCount, len(products))
	}
	for _, p := range products {
		if p.ID == "" || p.Name == "" || p.Price == "" {
			t.Errorf("incomplete product: %+v", p)
		}
	}
}

func TestGetProduct(t *testing.T) {
	resp := doGet(t, "/api/products/SP-1004")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	p := decodeJSON[productResponse](t, resp)
	if p.Name != "Stainless Steel Water Bottle" {
		t.Errorf("name: got %q", p.Name)
	}
	if p.Price != "449" {
		t.Errorf("price: got %q, want %q", p.Price, "449")
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/products/SP-0000")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("code: got %d", body.Code)
	}
}
