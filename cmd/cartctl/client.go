package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cartsync/internal/handler"
)

// client talks to the daemon on behalf of one tab.
type client struct {
	addr string
	tab  string
	http *http.Client
}

// errorResponse mirrors the daemon's error body.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// cart performs a request whose response is a cart, returning it decoded
// and raw.
func (c *client) cart(ctx context.Context, method, path string, body any) (*handler.CartResponse, []byte, error) {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return nil, nil, err
	}
	var cart handler.CartResponse
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, nil, fmt.Errorf("parsing cart: %w", err)
	}
	return &cart, raw, nil
}

// do sends a JSON request and decodes a JSON response into out, if non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.addr, "/")+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	header, err := handler.FormatTabHeader(c.tab)
	if err != nil {
		return fmt.Errorf("tab header: %w", err)
	}
	req.Header.Set(handler.TabHeader, header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error.Code != "" {
			return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
