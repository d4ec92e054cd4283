// Package transport provides the network transports used to reach the store:
// an HTTP round tripper for the cart API and a websocket dialer for pushes.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Go's standard TLS client has a distinctive fingerprint that triggers
// aggressive rate limiting on some CDNs. Both the cart API and the push
// socket sit behind such a CDN.
//
// uTLS presents Chrome's ClientHello instead:
//
//   1. HTTP: HelloChrome_Auto with natural ALPN (h2, http/1.1); Go's
//      http2.Transport frames h2, an HTTP/1.1 transport is the fallback.
//   2. Websocket: the same Chrome hello with ALPN pinned to http/1.1,
//      since the upgrade handshake cannot run over h2.
//
// =============================================================================

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint to upstream servers. Supports both HTTP/2 and HTTP/1.1 based on
// ALPN negotiation.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return DialChromeTLS(ctx, dialer, network, addr)
		},
	}

	// The fallback must not be offered h2, or a server preferring it would
	// answer in a protocol this transport cannot speak.
	h1Transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialChromeTLS(ctx, dialer, network, addr, "http/1.1")
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{
		h2: h2Transport,
		h1: h1Transport,
	}
}

// chromeTransport wraps HTTP/2 and HTTP/1.1 transports with Chrome TLS fingerprint.
type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip implements http.RoundTripper.
// Tries HTTP/2 first, falls back to HTTP/1.1 if server doesn't support h2.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	return t.h1.RoundTrip(req)
}

// NewWebSocketDialer returns a websocket dialer whose wss:// connections use
// Chrome's TLS fingerprint.
func NewWebSocketDialer(timeout time.Duration) *websocket.Dialer {
	dialer := &net.Dialer{Timeout: timeout}
	return &websocket.Dialer{
		HandshakeTimeout: timeout,
		NetDialContext:   dialer.DialContext,
		NetDialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialChromeTLS(ctx, dialer, network, addr, "http/1.1")
		},
	}
}

// DialChromeTLS establishes a TLS connection with Chrome's fingerprint.
// alpn, when given, replaces Chrome's protocol list.
func DialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string, alpn ...string) (net.Conn, error) {
	// Extract hostname for SNI
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConfig := &utls.Config{ServerName: host}
	var tlsConn *utls.UConn
	if len(alpn) == 0 {
		tlsConn = utls.UClient(conn, tlsConfig, utls.HelloChrome_Auto)
	} else {
		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("chrome hello spec: %w", err)
		}
		for _, ext := range spec.Extensions {
			if a, ok := ext.(*utls.ALPNExtension); ok {
				a.AlpnProtocols = alpn
			}
		}
		tlsConn = utls.UClient(conn, tlsConfig, utls.HelloCustom)
		if err := tlsConn.ApplyPreset(&spec); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply hello spec: %w", err)
		}
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
