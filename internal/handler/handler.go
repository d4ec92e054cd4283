// Package handler exposes the tab engines of the sync daemon over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cartsync/internal/model"
	"cartsync/internal/tabs"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	tabs   *tabs.Registry
	logger *slog.Logger
}

// New creates a new Handler serving the tabs of reg.
func New(reg *tabs.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		tabs:   reg,
		logger: logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Cart routes need the Cart-Tab header, see TabMiddleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("PUT /cart/items/{variant}", h.handleSetQuantity)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("POST /cart/flush", h.handleFlush)
	mux.HandleFunc("POST /cart/refresh", h.handleRefresh)

	mux.HandleFunc("GET /tabs", h.handleListTabs)
	mux.HandleFunc("DELETE /tabs/{tab}", h.handleCloseTab)
	mux.HandleFunc("POST /session/login", h.handleLogin)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Tabs: len(h.tabs.Tabs())})
}

type healthResponse struct {
	Status string `json:"status"`
	Tabs   int    `json:"tabs"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// toAPIError maps err onto the response taxonomy.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		// Found APIError in error chain - use it
		return apiErr
	case errors.Is(err, model.ErrUnknownLine):
		return &model.APIError{Code: model.CodeUnknownLine, Message: err.Error(), StatusCode: http.StatusNotFound}
	case errors.Is(err, model.ErrCartIdentityMissing):
		return &model.APIError{Code: model.CodeNoCart, Message: "no cart exists yet, add an item first", StatusCode: http.StatusConflict}
	case errors.Is(err, tabs.ErrClosed):
		return &model.APIError{Code: model.CodeUnavailable, Message: "shutting down", StatusCode: http.StatusServiceUnavailable}
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		return model.NewInternalError(err)
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
