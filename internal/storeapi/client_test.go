package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cartsync/internal/adapter"
	"cartsync/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Config:     adapter.Config{BaseURL: srv.URL + "/", APIKey: "key-123"},
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing URL", Config{Config: adapter.Config{APIKey: "k"}}},
		{"missing key", Config{Config: adapter.Config{BaseURL: "https://shop.example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestFetchCartForUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/carts/user/u 1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cart-1",
			"user_id": "u 1",
			"items": [
				{"variant_id": "v1", "quantity": 2, "price": "12.50",
				 "product": {"id": "p1", "title": "Tee", "handle": "tee", "images": [{"src": "https://img/tee.png"}]},
				 "variant": {"title": "Large", "sku": "TEE-L"}},
				{"variant_id": "v2", "quantity": 1, "price": "3.00"}
			]
		}`))
	})

	snap, err := c.FetchCartForUser(context.Background(), "u 1")
	if err != nil {
		t.Fatalf("FetchCartForUser() error = %v", err)
	}
	if snap.ID != "cart-1" || snap.Identity.UserID != "u 1" || len(snap.Items) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	first := snap.Items[0]
	if first.Price != 1250 || first.Product.ImageURL != "https://img/tee.png" || first.Variant.SKU != "TEE-L" {
		t.Errorf("first line = %+v", first)
	}
	if snap.Items[1].Product != nil {
		t.Error("missing product block should stay nil")
	}
}

func TestFetchCartForSession_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/carts/session/tok" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"cart_not_found","message":"no cart"}`))
	})

	_, err := c.FetchCartForSession(context.Background(), "tok")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateCart(t *testing.T) {
	var got CreateCartRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/carts" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"cart-new","session_token":"tok","items":[]}`))
	})

	snap, err := c.CreateCart(context.Background(), model.CartIdentity{SessionToken: "tok"})
	if err != nil {
		t.Fatalf("CreateCart() error = %v", err)
	}
	if got.SessionToken != "tok" || got.UserID != "" {
		t.Errorf("request body = %+v", got)
	}
	if snap.ID != "cart-new" {
		t.Errorf("ID = %q, want cart-new", snap.ID)
	}

	if _, err := c.CreateCart(context.Background(), model.CartIdentity{}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("CreateCart(zero) error = %v, want ErrInvalidRequest", err)
	}
}

func TestChangeQuantity(t *testing.T) {
	tests := []struct {
		name     string
		call     func(*Client, context.Context, model.QuantityChange) error
		wantPath string
	}{
		{"add", (*Client).AddQuantity, "/api/v1/carts/cart-1/items/v1/add"},
		{"remove", (*Client).RemoveQuantity, "/api/v1/carts/cart-1/items/v1/remove"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body QuantityRequest
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != tt.wantPath {
					t.Errorf("request = %s %s, want POST %s", r.Method, r.URL.Path, tt.wantPath)
				}
				json.NewDecoder(r.Body).Decode(&body)
				w.WriteHeader(http.StatusNoContent)
			})

			err := tt.call(c, context.Background(), model.QuantityChange{CartID: "cart-1", VariantID: "v1", Quantity: 3})
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if body.Quantity != 3 {
				t.Errorf("quantity = %d, want 3", body.Quantity)
			}
		})
	}
}

func TestChangeQuantity_Guards(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if err := c.AddQuantity(context.Background(), model.QuantityChange{VariantID: "v1", Quantity: 1}); !errors.Is(err, model.ErrCartIdentityMissing) {
		t.Errorf("missing cart error = %v", err)
	}
	if err := c.RemoveQuantity(context.Background(), model.QuantityChange{CartID: "c", VariantID: "v1"}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("zero quantity error = %v", err)
	}
	if err := c.ClearCart(context.Background(), ""); !errors.Is(err, model.ErrCartIdentityMissing) {
		t.Errorf("clear without cart error = %v", err)
	}
}

func TestClearCart(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = r.Method == http.MethodDelete && r.URL.Path == "/api/v1/carts/cart-1/items"
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.ClearCart(context.Background(), "cart-1"); err != nil {
		t.Fatalf("ClearCart() error = %v", err)
	}
	if !called {
		t.Error("DELETE /carts/cart-1/items not called")
	}
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		code     string
	}{
		{404, `{}`, model.ErrNotFound, "NOT_FOUND"},
		{401, `{}`, model.ErrUnauthorized, "UNAUTHORIZED"},
		{403, `{}`, model.ErrUnauthorized, "UNAUTHORIZED"},
		{400, `{"message":"bad variant"}`, model.ErrInvalidRequest, "VALIDATION_ERROR"},
		{409, `{"code":"out_of_stock","message":"only 2 left"}`, model.ErrRejected, "REJECTED"},
		{422, `not json`, model.ErrRejected, "REJECTED"},
		{429, `{}`, model.ErrRateLimited, "RATE_LIMITED"},
		{503, `{"code":"maintenance"}`, model.ErrUpstreamError, "UPSTREAM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := parseErrorResponse(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error = %v, want %v", err, tt.sentinel)
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.code {
				t.Errorf("code = %v, want %s", apiErr, tt.code)
			}
		})
	}

	var apiErr *model.APIError
	errors.As(parseErrorResponse(409, []byte(`{"message":"only 2 left"}`)), &apiErr)
	if apiErr.Message != "only 2 left" {
		t.Errorf("Message = %q, want server message", apiErr.Message)
	}
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c, _ := New(Config{Config: adapter.Config{BaseURL: srv.URL, APIKey: "k"}, HTTPClient: srv.Client()})
	srv.Close()

	_, err := c.FetchCartForUser(context.Background(), "u1")
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want ErrUpstreamError", err)
	}
}
