// Package push listens for authoritative cart changes on the store's
// websocket. Pushes exist only for authenticated users; guest carts have
// no push channel.
//
// Protocol: the server opens with {"type":"hello","protocol":"v1.x.y"} and
// then sends {"type":"cart_updated","action":...,"cart":{...}} frames whose
// cart uses the cart API document format. Any v1 protocol is accepted.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/mod/semver"

	"cartsync/internal/model"
	"cartsync/internal/storeapi"
	"cartsync/internal/transport"
)

// SupportedMajor is the protocol major version this listener speaks.
const SupportedMajor = "v1"

const (
	typeHello       = "hello"
	typeCartUpdated = "cart_updated"
)

// ErrUnsupportedProtocol means the server speaks an incompatible protocol.
// Reconnecting will not help, so Run gives up.
var ErrUnsupportedProtocol = errors.New("unsupported push protocol")

// Event is a frame received from the push socket.
type Event struct {
	Type     string                 `json:"type"`
	Protocol string                 `json:"protocol,omitempty"`
	Action   string                 `json:"action,omitempty"`
	Cart     *storeapi.CartResponse `json:"cart,omitempty"`
}

// Config holds push listener configuration.
type Config struct {
	URL        string // ws:// or wss:// endpoint
	UserID     string
	APIKey     string
	Dialer     *websocket.Dialer // defaults to the Chrome TLS dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Listener maintains the push connection for one user.
type Listener struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// New creates a listener. UserID is required: guests have no push channel.
func New(cfg Config) (*Listener, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("push URL is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("push requires an authenticated user")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid push URL: %w", err)
	}
	q := u.Query()
	q.Set("user_id", cfg.UserID)
	u.RawQuery = q.Encode()

	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewWebSocketDialer(10 * time.Second)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Listener{
		url:        u.String(),
		header:     header,
		dialer:     cfg.Dialer,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     cfg.Logger.With(slog.String("component", "push")),
	}, nil
}

// Run delivers every pushed cart to handle until ctx is done, reconnecting
// with exponential backoff after connection loss. Returns ctx.Err() on
// cancellation or ErrUnsupportedProtocol when the server is incompatible.
func (l *Listener) Run(ctx context.Context, handle func(*model.CartSnapshot)) error {
	backoff := l.minBackoff
	for {
		established, err := l.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnsupportedProtocol) {
			return err
		}
		if established {
			backoff = l.minBackoff
		}
		l.logger.Warn("push connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// session runs one connection. established reports whether the hello
// handshake succeeded.
func (l *Listener) session(ctx context.Context, handle func(*model.CartSnapshot)) (established bool, err error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, l.header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var hello Event
	if err := conn.ReadJSON(&hello); err != nil {
		return false, fmt.Errorf("read hello: %w", err)
	}
	if err := checkHello(hello); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, err.Error()))
		return false, err
	}
	l.logger.Info("push connected", slog.String("protocol", hello.Protocol))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			l.logger.Warn("skipping undecodable push frame", slog.String("error", err.Error()))
			continue
		}

		switch ev.Type {
		case typeCartUpdated:
			if ev.Cart == nil {
				l.logger.Warn("cart_updated without cart", slog.String("action", ev.Action))
				continue
			}
			l.logger.Debug("cart pushed",
				slog.String("action", ev.Action),
				slog.String("cart_id", ev.Cart.ID),
			)
			handle(storeapi.ToSnapshot(ev.Cart))
		default:
			l.logger.Debug("ignoring push frame", slog.String("type", ev.Type))
		}
	}
}

// checkHello validates the server's opening frame.
func checkHello(ev Event) error {
	if ev.Type != typeHello {
		return fmt.Errorf("%w: expected hello, got %q", ErrUnsupportedProtocol, ev.Type)
	}
	if !semver.IsValid(ev.Protocol) || semver.Major(ev.Protocol) != SupportedMajor {
		return fmt.Errorf("%w: %q (want %s.x)", ErrUnsupportedProtocol, ev.Protocol, SupportedMajor)
	}
	return nil
}
