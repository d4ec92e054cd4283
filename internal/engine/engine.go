// Package engine implements the per-tab cart synchronization engine.
//
// An Engine owns the displayed cart lines and three maps keyed by variant:
// the quantity the server last confirmed, the pending target of an
// unconfirmed local edit, and the stamp of that edit. Local edits are applied
// optimistically and debounced per variant; reconciliation sends only the
// difference between target and confirmed quantity. Server pushes and
// sibling-tab broadcasts are merged without ever overwriting a line that
// has a pending local edit of equal or newer stamp.
//
// All state sits behind one mutex that is never held across a cart service
// call, a timer wait or a subscriber callback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cartsync/internal/adapter"
	"cartsync/internal/model"
	"cartsync/internal/sched"
)

// DefaultDebounce is the quiet window before an edited line is synced.
const DefaultDebounce = 300 * time.Millisecond

// SessionStore persists the guest session token for this origin.
type SessionStore interface {
	// Token returns the stored token, or "" when none exists yet.
	Token(ctx context.Context) (string, error)
	// Ensure returns the stored token, generating and persisting one if needed.
	Ensure(ctx context.Context) (string, error)
	// Discard forgets the token, typically after login.
	Discard(ctx context.Context) error
}

// Broadcaster delivers a snapshot to every sibling tab but this one.
type Broadcaster interface {
	Post(b model.Broadcast)
}

// Config holds engine dependencies. Service is required.
type Config struct {
	Service     adapter.CartService
	UserID      string       // authenticated user, empty for guests
	Sessions    SessionStore // required for guest carts
	Scheduler   sched.Scheduler
	Broadcaster Broadcaster
	Debounce    time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
	Now         func() time.Time
	TabID       string
}

// Engine synchronizes one tab's view of the cart with the server.
type Engine struct {
	service  adapter.CartService
	sessions SessionStore
	sched    sched.Scheduler
	bc       Broadcaster
	debounce time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	clock    *Clock

	ctx    context.Context // parent of timer-driven work, cancelled by Close
	cancel context.CancelFunc
	create singleflight.Group

	mu       sync.Mutex
	st       state
	gen      uint64
	inflight map[string]chan struct{} // variant -> closed when its call returns
	subs     map[uint64]func(model.CartState)
	subSeq   uint64
	closed   bool
}

// New creates an engine. Call Load to fetch the initial cart.
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, errors.New("engine: cart service is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.Real{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	logger := cfg.Logger
	if cfg.TabID != "" {
		logger = logger.With(slog.String("tab", cfg.TabID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		service:  cfg.Service,
		sessions: cfg.Sessions,
		sched:    cfg.Scheduler,
		bc:       cfg.Broadcaster,
		debounce: cfg.Debounce,
		logger:   logger,
		metrics:  cfg.Metrics,
		clock:    NewClock(cfg.Now),
		ctx:      ctx,
		cancel:   cancel,
		st:       newState(model.CartIdentity{UserID: cfg.UserID}),
		inflight: make(map[string]chan struct{}),
		subs:     make(map[uint64]func(model.CartState)),
	}, nil
}

// Subscribe registers fn for every state change and returns its unsubscribe.
// fn runs outside the engine lock and may be called from several goroutines;
// each call carries a complete snapshot.
func (e *Engine) Subscribe(fn func(model.CartState)) (unsubscribe func()) {
	e.mu.Lock()
	e.subSeq++
	id := e.subSeq
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// State returns the current cart as subscribers see it.
func (e *Engine) State() model.CartState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.snapshot()
}

// Close cancels every debounce task and in-progress timer-driven call.
// Pending edits that were not flushed are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for v := range e.st.timers {
		e.st.cancelTimer(v)
	}
	e.subs = make(map[uint64]func(model.CartState))
	e.mu.Unlock()
	e.cancel()
}

// Load resolves the cart identity and adopts the server's cart.
// A missing cart is an empty cart, not an error.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	identity := e.st.identity
	e.mu.Unlock()

	if !identity.IsUser() && identity.SessionToken == "" && e.sessions != nil {
		token, err := e.sessions.Token(ctx)
		if err != nil {
			return fmt.Errorf("read session token: %w", err)
		}
		e.mu.Lock()
		e.st.identity.SessionToken = token
		e.mu.Unlock()
	}
	return e.Refresh(ctx)
}

// Refresh fetches the authoritative cart and clears any error state.
// Lines with pending edits keep their displayed quantity.
func (e *Engine) Refresh(ctx context.Context) error {
	snap, err := e.fetch(ctx)
	if err != nil {
		e.metrics.Refetches.WithLabelValues("failed").Inc()
		e.mu.Lock()
		e.st.err = err
		e.mu.Unlock()
		e.notify()
		return err
	}
	e.metrics.Refetches.WithLabelValues("ok").Inc()

	e.mu.Lock()
	e.applyServerLocked(snap, "refetch")
	e.st.err = nil
	e.mu.Unlock()
	e.notify()
	return nil
}

// fetch reads the cart for the current identity.
func (e *Engine) fetch(ctx context.Context) (*model.CartSnapshot, error) {
	e.mu.Lock()
	identity := e.st.identity
	e.mu.Unlock()

	var (
		snap *model.CartSnapshot
		err  error
	)
	switch {
	case identity.IsUser():
		snap, err = e.service.FetchCartForUser(ctx, identity.UserID)
	case identity.SessionToken != "":
		snap, err = e.service.FetchCartForSession(ctx, identity.SessionToken)
	default:
		// No guest token yet means no cart can exist.
		return &model.CartSnapshot{Identity: identity}, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		e.logger.Debug("no cart for identity, starting empty")
		return &model.CartSnapshot{Identity: identity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	return snap, nil
}

// ensureCart returns the cart ID, creating the cart on first use.
// Concurrent callers share one creation.
func (e *Engine) ensureCart(ctx context.Context) (string, error) {
	e.mu.Lock()
	cartID, identity := e.st.cartID, e.st.identity
	e.mu.Unlock()
	if cartID != "" {
		return cartID, nil
	}

	v, err, _ := e.create.Do("cart", func() (any, error) {
		if !identity.IsUser() {
			if e.sessions == nil {
				return "", model.ErrCartIdentityMissing
			}
			token, err := e.sessions.Ensure(ctx)
			if err != nil {
				return "", fmt.Errorf("ensure session token: %w", err)
			}
			identity = model.CartIdentity{SessionToken: token}
		}

		snap, err := e.service.CreateCart(ctx, identity)
		if err != nil {
			return "", fmt.Errorf("create cart: %w", err)
		}
		if snap.ID == "" {
			return "", fmt.Errorf("create cart: %w", model.ErrCartIdentityMissing)
		}

		e.mu.Lock()
		e.st.identity = identity
		if e.st.cartID == "" {
			e.st.cartID = snap.ID
		}
		id := e.st.cartID
		e.mu.Unlock()

		e.logger.Info("cart created", slog.String("cart_id", id))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// applyServerLocked adopts authoritative server state: wholesale when no
// edit is pending, per line otherwise. Returns true on wholesale adoption.
func (e *Engine) applyServerLocked(snap *model.CartSnapshot, source string) bool {
	if len(e.st.pending) == 0 {
		e.st.adopt(snap, func() { e.malformed(source) })
		return true
	}
	e.mergeLocked(snap, source)
	return false
}

func (e *Engine) malformed(source string) {
	e.metrics.MalformedLines.WithLabelValues(source).Inc()
	e.logger.Warn("skipping line",
		slog.String("source", source),
		slog.String("error", model.ErrMalformedUpdate.Error()),
	)
}

// broadcastLocked stamps a payload of the confirmed cart.
func (e *Engine) broadcastLocked() model.Broadcast {
	return e.st.broadcast(e.clock.Now())
}

func (e *Engine) post(b model.Broadcast) {
	if e.bc != nil {
		e.bc.Post(b)
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	if len(e.subs) == 0 {
		e.mu.Unlock()
		return
	}
	state := e.st.snapshot()
	subs := make([]func(model.CartState), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
