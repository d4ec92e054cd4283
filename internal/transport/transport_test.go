package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChromeTransport_FallsBackForPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewChromeTransport(5 * time.Second), Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestNewWebSocketDialer(t *testing.T) {
	d := NewWebSocketDialer(3 * time.Second)
	if d.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", d.HandshakeTimeout)
	}
	if d.NetDialTLSContext == nil || d.NetDialContext == nil {
		t.Error("dialer should install custom dial functions")
	}
}

func TestDialChromeTLS_DialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialChromeTLS(context.Background(), &net.Dialer{Timeout: time.Second}, "tcp", addr)
	if err == nil {
		t.Fatal("expected dial error against closed port")
	}
}
