package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"

	"cartsync/internal/engine"
)

// TabHeader names the tab a cart request acts for.
// Format: id="tab-1" (RFC 8941 Dictionary); a token value is accepted too.
const TabHeader = "Cart-Tab"

type contextKey string

const engineKey contextKey = "cart-tab-engine"

// ParseTabHeader extracts the tab ID from a Cart-Tab header.
// Parameters on the id member are ignored.
func ParseTabHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("empty Cart-Tab header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return "", fmt.Errorf("invalid Cart-Tab header: %w", err)
	}

	member, ok := dict.Get("id")
	if !ok {
		return "", errors.New("id key not found in Cart-Tab header")
	}

	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", errors.New("id value must be an item")
	}

	var id string
	switch v := item.Value.(type) {
	case string:
		id = v
	case httpsfv.Token:
		id = string(v)
	default:
		return "", errors.New("id value must be a string or token")
	}
	if id == "" {
		return "", errors.New("empty tab id")
	}
	return id, nil
}

// FormatTabHeader builds a Cart-Tab header value for tabID.
func FormatTabHeader(tabID string) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("id", httpsfv.NewItem(tabID))
	return httpsfv.Marshal(dict)
}

// TabMiddleware resolves the Cart-Tab header to the tab's engine, opening
// the tab on first use, and stores it in the request context.
// Requests without the header are rejected with 400 Bad Request.
func (h *Handler) TabMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(TabHeader)
		if header == "" {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
				Code: "TAB_REQUIRED", Message: "Cart-Tab header is required",
			}})
			return
		}

		tabID, err := ParseTabHeader(header)
		if err != nil {
			h.logger.Warn("invalid Cart-Tab header",
				slog.String("header", header),
				slog.String("error", err.Error()))
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
				Code: "TAB_REQUIRED", Message: err.Error(),
			}})
			return
		}

		eng, err := h.tabs.Open(r.Context(), tabID)
		if eng == nil {
			h.writeError(w, err)
			return
		}
		// A failed first load is visible in the tab's state; serve it anyway.

		ctx := context.WithValue(r.Context(), engineKey, eng)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isExemptPath returns true for paths that are not scoped to one tab.
func isExemptPath(path string) bool {
	switch {
	case path == "/health" || path == "/healthz" || path == "/metrics":
		return true
	case path == "/mcp" || path == "/session/login":
		return true
	case path == "/tabs" || strings.HasPrefix(path, "/tabs/"):
		return true
	default:
		return false
	}
}

// tabEngine retrieves the engine stored by TabMiddleware.
func tabEngine(ctx context.Context) (*engine.Engine, bool) {
	eng, ok := ctx.Value(engineKey).(*engine.Engine)
	return eng, ok
}
