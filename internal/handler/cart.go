package handler

import (
	"log/slog"
	"net/http"

	"cartsync/internal/engine"
	"cartsync/internal/model"
)

// CartResponse is the cart of one tab as the API returns it.
type CartResponse struct {
	Tab string `json:"tab"`
	model.CartState
	Error string `json:"error,omitempty"` // sticky sync error, cleared by refresh or push
}

func newCartResponse(tabID string, st model.CartState) CartResponse {
	resp := CartResponse{Tab: tabID, CartState: st}
	if resp.Items == nil {
		resp.Items = []model.LineItem{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// SetQuantityRequest is the body of PUT /cart/items/{variant}.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// handleGetCart returns the tab's cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}
	h.writeCart(w, r, http.StatusOK, eng)
}

// handleSetQuantity records a quantity edit. The sync happens after the
// debounce window, so the response shows the optimistic cart.
// PUT /cart/items/{variant}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}
	variantID := r.PathValue("variant")
	if variantID == "" {
		h.writeError(w, model.NewValidationError("variant", "variant ID required"))
		return
	}

	var req SetQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewValidationError("quantity", "required"))
		return
	}

	h.logger.DebugContext(r.Context(), "quantity change",
		slog.String("variant_id", variantID),
		slog.Int("quantity", *req.Quantity),
	)

	if err := eng.RequestQuantityChange(variantID, *req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, http.StatusAccepted, eng)
}

// handleAddItem adds a line, or increases an existing one.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}

	var item model.LineItem
	if err := decodeJSON(r, &item); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "adding item",
		slog.String("variant_id", item.VariantID),
		slog.Int("quantity", item.Quantity),
	)

	if err := eng.AddItem(r.Context(), item); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, http.StatusOK, eng)
}

// handleFlush syncs every pending edit of the tab now.
// POST /cart/flush
func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}
	if err := eng.Flush(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, http.StatusOK, eng)
}

// handleRefresh refetches the authoritative cart.
// POST /cart/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}
	if err := eng.Refresh(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, http.StatusOK, eng)
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.requireTab(w, r)
	if !ok {
		return
	}
	if err := eng.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, r, http.StatusOK, eng)
}

// handleListTabs lists open tabs.
// GET /tabs
func (h *Handler) handleListTabs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"tabs": h.tabs.Tabs()})
}

// handleCloseTab closes a tab, dropping its unflushed edits.
// DELETE /tabs/{tab}
func (h *Handler) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	if !h.tabs.CloseTab(r.PathValue("tab")) {
		h.writeError(w, model.NewNotFoundError("tab"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogin switches every tab to a user cart.
// POST /session/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "login", slog.String("user_id", req.UserID))

	if err := h.tabs.Login(r.Context(), req.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "tabs": h.tabs.Tabs()})
}

// requireTab returns the engine resolved by TabMiddleware.
func (h *Handler) requireTab(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	eng, ok := tabEngine(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code: "TAB_REQUIRED", Message: "Cart-Tab header is required",
		}})
		return nil, false
	}
	return eng, true
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, status int, eng *engine.Engine) {
	tabID, _ := ParseTabHeader(r.Header.Get(TabHeader))
	h.writeJSON(w, status, newCartResponse(tabID, eng.State()))
}
