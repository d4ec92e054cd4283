// Package tabs hosts the cart engines of several tabs of one origin.
//
// Every tab gets its own engine joined to a shared broadcast hub, so a
// change confirmed in one tab reaches the others. Server pushes are fanned
// out to every open tab.
package tabs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"cartsync/internal/adapter"
	"cartsync/internal/broadcast"
	"cartsync/internal/engine"
	"cartsync/internal/model"
	"cartsync/internal/sched"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("tab registry closed")

// Config holds what every tab engine shares. Service is required.
type Config struct {
	Service   adapter.CartService
	UserID    string
	Sessions  engine.SessionStore
	Scheduler sched.Scheduler
	Debounce  time.Duration
	Logger    *slog.Logger
	Metrics   *engine.Metrics
	Buffer    int // per-tab broadcast queue, see broadcast.DefaultBuffer

	// OnLogin, if set, runs after Login switched the tabs to a user.
	OnLogin func(userID string)
}

type tab struct {
	eng *engine.Engine
	ch  *broadcast.Channel
}

// Registry owns the tabs of one origin.
type Registry struct {
	cfg    Config
	hub    *broadcast.Hub
	logger *slog.Logger

	ctx    context.Context // parent of pump-driven reloads
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tabs   map[string]*tab
	userID string
	closed bool
}

// New creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Service == nil {
		return nil, errors.New("tabs: cart service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = engine.NewMetrics(nil)
	}

	r := &Registry{
		cfg:    cfg,
		logger: cfg.Logger,
		tabs:   make(map[string]*tab),
		userID: cfg.UserID,
	}
	r.hub = broadcast.NewHub(func(tabID string) {
		cfg.Metrics.CrossTab.WithLabelValues("dropped").Inc()
		r.logger.Warn("tab queue full, broadcast dropped", slog.String("tab", tabID))
	})
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Open returns the engine of tabID, creating and loading it on first use.
// A tab whose load failed is still registered; its state carries the error.
func (r *Registry) Open(ctx context.Context, tabID string) (*engine.Engine, error) {
	if tabID == "" {
		return nil, model.NewValidationError("tab", "required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := r.tabs[tabID]; ok {
		r.mu.Unlock()
		return t.eng, nil
	}

	ch := r.hub.Join(tabID, r.cfg.Buffer)
	eng, err := engine.New(engine.Config{
		Service:     r.cfg.Service,
		UserID:      r.userID,
		Sessions:    r.cfg.Sessions,
		Scheduler:   r.cfg.Scheduler,
		Broadcaster: ch,
		Debounce:    r.cfg.Debounce,
		Logger:      r.logger,
		Metrics:     r.cfg.Metrics,
		TabID:       tabID,
	})
	if err != nil {
		r.mu.Unlock()
		ch.Close()
		return nil, err
	}
	r.tabs[tabID] = &tab{eng: eng, ch: ch}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.pump(eng, ch)

	r.logger.Info("tab opened", slog.String("tab", tabID))
	if err := eng.Load(ctx); err != nil {
		r.logger.Warn("tab load failed",
			slog.String("tab", tabID),
			slog.String("error", err.Error()),
		)
		return eng, err
	}
	return eng, nil
}

// pump feeds sibling broadcasts into eng until its channel closes.
func (r *Registry) pump(eng *engine.Engine, ch *broadcast.Channel) {
	defer r.wg.Done()
	for b := range ch.Messages() {
		eng.OnCrossTabBroadcast(b)

		// A sibling created the cart after this tab loaded.
		if st := eng.State(); st.CartID == "" && len(st.Items) > 0 {
			if err := eng.Load(r.ctx); err != nil {
				r.logger.Warn("rebind to sibling cart failed",
					slog.String("tab", ch.TabID()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Get returns the engine of an open tab.
func (r *Registry) Get(tabID string) (*engine.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	return t.eng, true
}

// Tabs returns the open tab IDs, sorted.
func (r *Registry) Tabs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CloseTab closes one tab. Unflushed edits of that tab are dropped.
func (r *Registry) CloseTab(tabID string) bool {
	r.mu.Lock()
	t, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.ch.Close()
	t.eng.Close()
	r.logger.Info("tab closed", slog.String("tab", tabID))
	return true
}

// OnServerCartEvent hands a pushed snapshot to every open tab.
func (r *Registry) OnServerCartEvent(snap *model.CartSnapshot) {
	for _, eng := range r.engines() {
		eng.OnServerCartEvent(snap)
	}
}

// Login switches every open tab, and every tab opened later, to userID.
// All tabs are attempted; their errors are joined.
func (r *Registry) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return model.NewValidationError("user_id", "required")
	}
	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()

	var errs []error
	for _, eng := range r.engines() {
		if err := eng.Login(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	if r.cfg.OnLogin != nil {
		r.cfg.OnLogin(userID)
	}
	return errors.Join(errs...)
}

// UserID returns the identity new tabs are opened with.
func (r *Registry) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// Flush flushes every open tab.
func (r *Registry) Flush(ctx context.Context) error {
	var errs []error
	for _, eng := range r.engines() {
		if err := eng.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every tab and waits for their broadcast pumps to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	open := r.tabs
	r.tabs = make(map[string]*tab)
	r.mu.Unlock()

	r.cancel()
	for _, t := range open {
		t.ch.Close()
		t.eng.Close()
	}
	r.wg.Wait()
}

func (r *Registry) engines() []*engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*engine.Engine, 0, len(r.tabs))
	for _, t := range r.tabs {
		out = append(out, t.eng)
	}
	return out
}
