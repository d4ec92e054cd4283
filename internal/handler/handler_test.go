package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cartsync/internal/adapter"
	"cartsync/internal/model"
	"cartsync/internal/sched"
	"cartsync/internal/tabs"
)

// recordingService wraps a Mock and records add/remove/clear calls.
type recordingService struct {
	adapter.Mock
	mu      sync.Mutex
	adds    []model.QuantityChange
	removes []model.QuantityChange
	clears  []string
}

func newRecordingService(items ...model.LineItem) *recordingService {
	s := &recordingService{}
	s.FetchCartForUserFunc = func(ctx context.Context, userID string) (*model.CartSnapshot, error) {
		return &model.CartSnapshot{
			ID:       "cart-" + userID,
			Identity: model.CartIdentity{UserID: userID},
			Items:    append([]model.LineItem(nil), items...),
		}, nil
	}
	s.AddQuantityFunc = func(ctx context.Context, ch model.QuantityChange) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.adds = append(s.adds, ch)
		return nil
	}
	s.RemoveQuantityFunc = func(ctx context.Context, ch model.QuantityChange) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removes = append(s.removes, ch)
		return nil
	}
	s.ClearCartFunc = func(ctx context.Context, cartID string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.clears = append(s.clears, cartID)
		return nil
	}
	return s
}

func testHandler(t *testing.T, svc adapter.CartService) (*Handler, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := tabs.New(tabs.Config{
		Service:   svc,
		UserID:    "u1",
		Scheduler: sched.NewManual(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("tabs.New() error = %v", err)
	}
	t.Cleanup(reg.Close)

	h := New(reg, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, h.TabMiddleware(mux)
}

func line(variantID string, qty int) model.LineItem {
	return model.LineItem{VariantID: variantID, Quantity: qty, Price: 1250}
}

// do sends a request for tab (no Cart-Tab header when tab is empty).
func do(t *testing.T, srv http.Handler, method, path, tab string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = bytes.NewBufferString(s)
		} else {
			data, _ := json.Marshal(body)
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if tab != "" {
		req.Header.Set(TabHeader, `id="`+tab+`"`)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) CartResponse {
	t.Helper()
	var resp CartResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cart: %v\nBody: %s", err, w.Body.String())
	}
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v\nBody: %s", err, w.Body.String())
	}
	return resp.Error.Code
}

func quantityOf(resp CartResponse, variantID string) int {
	for _, item := range resp.Items {
		if item.VariantID == variantID {
			return item.Quantity
		}
	}
	return -1
}

func TestHandleHealth(t *testing.T) {
	_, srv := testHandler(t, newRecordingService())

	w := do(t, srv, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %s, want ok", resp.Status)
	}
}

func TestCartRequiresTabHeader(t *testing.T) {
	_, srv := testHandler(t, newRecordingService())

	w := do(t, srv, "GET", "/cart", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != "TAB_REQUIRED" {
		t.Errorf("code = %s, want TAB_REQUIRED", code)
	}

	req := httptest.NewRequest("GET", "/cart", nil)
	req.Header.Set(TabHeader, `id="unterminated`)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed header status = %d, want 400", w.Code)
	}
}

func TestHandleGetCart(t *testing.T) {
	_, srv := testHandler(t, newRecordingService(line("v1", 2)))

	w := do(t, srv, "GET", "/cart", "a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\nBody: %s", w.Code, w.Body.String())
	}
	resp := decodeCart(t, w)
	if resp.Tab != "a" {
		t.Errorf("Tab = %q, want a", resp.Tab)
	}
	if resp.CartID != "cart-u1" {
		t.Errorf("CartID = %q, want cart-u1", resp.CartID)
	}
	if resp.Summary.ItemCount != 2 || resp.Summary.Subtotal != 2500 {
		t.Errorf("Summary = %+v, want 2 items / 2500", resp.Summary)
	}
}

func TestHandleSetQuantityThenFlush(t *testing.T) {
	svc := newRecordingService(line("v1", 1))
	_, srv := testHandler(t, svc)

	w := do(t, srv, "PUT", "/cart/items/v1", "a", map[string]int{"quantity": 3})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, want 202\nBody: %s", w.Code, w.Body.String())
	}
	resp := decodeCart(t, w)
	if got := quantityOf(resp, "v1"); got != 3 {
		t.Errorf("optimistic v1 = %d, want 3", got)
	}
	if len(resp.Pending) != 1 || resp.Pending[0] != "v1" {
		t.Errorf("Pending = %v, want [v1]", resp.Pending)
	}

	w = do(t, srv, "POST", "/cart/flush", "a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("flush status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if resp := decodeCart(t, w); len(resp.Pending) != 0 {
		t.Errorf("Pending after flush = %v, want none", resp.Pending)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.adds) != 1 || svc.adds[0].Quantity != 2 || svc.adds[0].CartID != "cart-u1" {
		t.Errorf("adds = %+v, want one +2 on cart-u1", svc.adds)
	}
}

func TestHandleSetQuantityErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown line", "/cart/items/nope", map[string]int{"quantity": 1}, http.StatusNotFound, "UNKNOWN_LINE"},
		{"missing quantity", "/cart/items/v1", map[string]int{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative quantity", "/cart/items/v1", map[string]int{"quantity": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid JSON", "/cart/items/v1", "{bad", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := testHandler(t, newRecordingService(line("v1", 1)))
			w := do(t, srv, "PUT", tt.path, "a", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d\nBody: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestHandleSetQuantityWithoutCart(t *testing.T) {
	// Default mock: no cart exists for the user.
	_, srv := testHandler(t, &adapter.Mock{})

	w := do(t, srv, "PUT", "/cart/items/v1", "a", map[string]int{"quantity": 1})
	if w.Code != http.StatusConflict {
		t.Errorf("Status = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "NO_CART" {
		t.Errorf("code = %s, want NO_CART", code)
	}
}

func TestHandleAddItem(t *testing.T) {
	var added []model.QuantityChange
	svc := &adapter.Mock{
		AddQuantityFunc: func(ctx context.Context, ch model.QuantityChange) error {
			added = append(added, ch)
			return nil
		},
	}
	_, srv := testHandler(t, svc)

	w := do(t, srv, "POST", "/cart/items", "a", model.LineItem{VariantID: "v7", Quantity: 2, Price: 300})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\nBody: %s", w.Code, w.Body.String())
	}
	resp := decodeCart(t, w)
	if resp.CartID != "cart-mock" {
		t.Errorf("CartID = %q, want lazily created cart-mock", resp.CartID)
	}
	if got := quantityOf(resp, "v7"); got != 2 {
		t.Errorf("v7 = %d, want 2", got)
	}
	if len(added) != 1 || added[0].Quantity != 2 {
		t.Errorf("added = %+v, want one +2", added)
	}
}

func TestHandleAddItemRejected(t *testing.T) {
	svc := &adapter.Mock{
		AddQuantityFunc: func(ctx context.Context, ch model.QuantityChange) error {
			return model.NewRejectedError("out of stock")
		},
	}
	_, srv := testHandler(t, svc)

	w := do(t, srv, "POST", "/cart/items", "a", model.LineItem{VariantID: "v7", Quantity: 1})
	if w.Code != http.StatusConflict {
		t.Errorf("Status = %d, want 409\nBody: %s", w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != "REJECTED" {
		t.Errorf("code = %s, want REJECTED", code)
	}

	// The rollback is visible on the next read, with the error kept.
	resp := decodeCart(t, do(t, srv, "GET", "/cart", "a", nil))
	if quantityOf(resp, "v7") != -1 {
		t.Error("rejected line should be rolled back")
	}
	if resp.Error == "" {
		t.Error("cart should carry the sync error")
	}
}

func TestHandleClearCart(t *testing.T) {
	svc := newRecordingService(line("v1", 1), line("v2", 4))
	_, srv := testHandler(t, svc)

	w := do(t, srv, "DELETE", "/cart", "a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\nBody: %s", w.Code, w.Body.String())
	}
	if resp := decodeCart(t, w); len(resp.Items) != 0 {
		t.Errorf("Items = %+v, want empty", resp.Items)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.clears) != 1 || svc.clears[0] != "cart-u1" {
		t.Errorf("clears = %v, want [cart-u1]", svc.clears)
	}
}

func TestHandleRefresh(t *testing.T) {
	_, srv := testHandler(t, newRecordingService(line("v1", 5)))

	w := do(t, srv, "POST", "/cart/refresh", "a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if got := quantityOf(decodeCart(t, w), "v1"); got != 5 {
		t.Errorf("v1 = %d, want 5", got)
	}
}

func TestHandleTabs(t *testing.T) {
	_, srv := testHandler(t, newRecordingService())
	do(t, srv, "GET", "/cart", "a", nil)
	do(t, srv, "GET", "/cart", "b", nil)

	w := do(t, srv, "GET", "/tabs", "", nil)
	var list struct {
		Tabs []string `json:"tabs"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Tabs) != 2 {
		t.Errorf("tabs = %v, want 2", list.Tabs)
	}

	if w := do(t, srv, "DELETE", "/tabs/a", "", nil); w.Code != http.StatusNoContent {
		t.Errorf("close status = %d, want 204", w.Code)
	}
	if w := do(t, srv, "DELETE", "/tabs/a", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", w.Code)
	}
}

func TestHandleLogin(t *testing.T) {
	svc := newRecordingService()
	h, srv := testHandler(t, svc)
	do(t, srv, "GET", "/cart", "a", nil)

	w := do(t, srv, "POST", "/session/login", "", LoginRequest{UserID: "u2"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200\nBody: %s", w.Code, w.Body.String())
	}
	if h.tabs.UserID() != "u2" {
		t.Errorf("registry user = %q, want u2", h.tabs.UserID())
	}
	if resp := decodeCart(t, do(t, srv, "GET", "/cart", "a", nil)); resp.CartID != "cart-u2" {
		t.Errorf("CartID after login = %q, want cart-u2", resp.CartID)
	}

	w = do(t, srv, "POST", "/session/login", "", LoginRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty user status = %d, want 400", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	h, _ := testHandler(t, &adapter.Mock{})

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{model.NewNotFoundError("cart"), 404, "NOT_FOUND"},
		{model.NewUpstreamError("cart API", io.EOF), 502, "UPSTREAM_ERROR"},
		{model.ErrCartIdentityMissing, 409, "NO_CART"},
		{model.ErrUnknownLine, 404, "UNKNOWN_LINE"},
		{tabs.ErrClosed, 503, "UNAVAILABLE"},
		{io.ErrUnexpectedEOF, 500, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.writeError(w, tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}
