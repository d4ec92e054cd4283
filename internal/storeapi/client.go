package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cartsync/internal/adapter"
	"cartsync/internal/model"
	"cartsync/internal/transport"
)

// =============================================================================
// CART API CLIENT
// =============================================================================
//
// Endpoints (all JSON, Bearer API key):
//
//   GET    /carts/user/{userId}                       fetch user cart
//   GET    /carts/session/{token}                     fetch guest cart
//   POST   /carts                                     create cart
//   POST   /carts/{cartId}/items/{variantId}/add      add quantity
//   POST   /carts/{cartId}/items/{variantId}/remove   remove quantity
//   DELETE /carts/{cartId}/items                      clear cart
//
// Quantity endpoints take deltas. The server drops a line that reaches zero
// and answers 409/422 when a business rule (stock, limits) rejects a change.
// =============================================================================

const (
	apiPath   = "/api/v1"
	userAgent = "cartsync/1.0"
)

// Config holds cart API client configuration.
type Config struct {
	adapter.Config
	Timeout    time.Duration
	HTTPClient *http.Client // optional; defaults to the Chrome TLS transport
}

// Client implements adapter.CartService against the cart REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a cart API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("store base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("store API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Chrome TLS fingerprint avoids JA3-based rate limiting at the CDN.
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport.NewChromeTransport(cfg.Timeout),
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

// FetchCartForUser returns the cart of an authenticated user.
func (c *Client) FetchCartForUser(ctx context.Context, userID string) (*model.CartSnapshot, error) {
	return c.fetch(ctx, "/carts/user/"+url.PathEscape(userID))
}

// FetchCartForSession returns the guest cart of a session token.
func (c *Client) FetchCartForSession(ctx context.Context, sessionToken string) (*model.CartSnapshot, error) {
	return c.fetch(ctx, "/carts/session/"+url.PathEscape(sessionToken))
}

func (c *Client) fetch(ctx context.Context, path string) (*model.CartSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var cart CartResponse
	if err := c.do(req, &cart); err != nil {
		return nil, err
	}
	return ToSnapshot(&cart), nil
}

// CreateCart creates an empty cart for identity.
func (c *Client) CreateCart(ctx context.Context, identity model.CartIdentity) (*model.CartSnapshot, error) {
	if identity.IsZero() {
		return nil, model.NewValidationError("identity", "user or session token required")
	}
	body := CreateCartRequest{UserID: identity.UserID}
	if !identity.IsUser() {
		body.SessionToken = identity.SessionToken
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/carts", body)
	if err != nil {
		return nil, err
	}
	var cart CartResponse
	if err := c.do(req, &cart); err != nil {
		return nil, err
	}
	return ToSnapshot(&cart), nil
}

// AddQuantity adds change.Quantity units of a variant.
func (c *Client) AddQuantity(ctx context.Context, change model.QuantityChange) error {
	return c.changeQuantity(ctx, change, "add")
}

// RemoveQuantity removes change.Quantity units of a variant.
func (c *Client) RemoveQuantity(ctx context.Context, change model.QuantityChange) error {
	return c.changeQuantity(ctx, change, "remove")
}

func (c *Client) changeQuantity(ctx context.Context, change model.QuantityChange, action string) error {
	if change.CartID == "" {
		return model.ErrCartIdentityMissing
	}
	if change.Quantity <= 0 {
		return model.NewValidationError("quantity", "must be positive")
	}

	path := fmt.Sprintf("/carts/%s/items/%s/%s",
		url.PathEscape(change.CartID), url.PathEscape(change.VariantID), action)
	req, err := c.newRequest(ctx, http.MethodPost, path, QuantityRequest{Quantity: change.Quantity})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ClearCart removes every line of a cart.
func (c *Client) ClearCart(ctx context.Context, cartID string) error {
	if cartID == "" {
		return model.ErrCartIdentityMissing
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/carts/"+url.PathEscape(cartID)+"/items", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// newRequest creates an HTTP request with Bearer API key authentication.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// User-Agent is required: the CDN rate-limits requests without one.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// do executes the request and decodes the response into result if non-nil.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("cart API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse converts a cart API error to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var apiErr ErrorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	switch statusCode {
	case http.StatusNotFound:
		return model.NewNotFoundError("cart")
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewUnauthorizedError("cart API authentication failed")
	case http.StatusBadRequest:
		msg := apiErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		msg := apiErr.Message
		if msg == "" {
			msg = "change rejected"
		}
		return model.NewRejectedError(msg)
	case http.StatusTooManyRequests:
		return model.NewRateLimitError("cart API")
	default:
		return model.NewUpstreamError("cart API",
			fmt.Errorf("status %d: %s - %s", statusCode, apiErr.Code, apiErr.Message))
	}
}

// Verify Client implements CartService interface at compile time.
var _ adapter.CartService = (*Client)(nil)
