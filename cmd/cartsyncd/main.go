// cartsyncd - Cart sync daemon. Hosts the cart engines of a browser's tabs
// and exposes them over REST and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cartsync/internal/adapter"
	"cartsync/internal/config"
	"cartsync/internal/engine"
	"cartsync/internal/handler"
	"cartsync/internal/localstore"
	"cartsync/internal/middleware"
	"cartsync/internal/model"
	"cartsync/internal/push"
	"cartsync/internal/session"
	"cartsync/internal/storeapi"
	"cartsync/internal/tabs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := initLogger()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("store", cfg.Store.BaseURL),
		slog.String("origin", cfg.Storage.Origin),
		slog.Bool("guest", cfg.Identity.UserID == ""),
		slog.Duration("debounce", cfg.Sync.Debounce),
	)

	store, err := localstore.Open(cfg.Storage.Path, cfg.Storage.Origin)
	if err != nil {
		return fmt.Errorf("opening local storage: %w", err)
	}
	defer store.Close()

	client, err := storeapi.New(storeapi.Config{
		Config: adapter.Config{BaseURL: cfg.Store.BaseURL, APIKey: cfg.Store.APIKey},
	})
	if err != nil {
		return fmt.Errorf("creating store client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Push is started for the configured user now, or on login later.
	var registry *tabs.Registry
	pusher := &pushSupervisor{
		url:     cfg.Store.PushURL,
		apiKey:  cfg.Store.APIKey,
		logger:  logger,
		deliver: func(snap *model.CartSnapshot) { registry.OnServerCartEvent(snap) },
	}

	registry, err = tabs.New(tabs.Config{
		Service:  client,
		UserID:   cfg.Identity.UserID,
		Sessions: session.NewGuest(store),
		Debounce: cfg.Sync.Debounce,
		Logger:   logger,
		Metrics:  engine.NewMetrics(reg),
		OnLogin:  pusher.Start,
	})
	if err != nil {
		return fmt.Errorf("creating tab registry: %w", err)
	}
	if cfg.Identity.UserID != "" {
		pusher.Start(cfg.Identity.UserID)
	}

	h := handler.New(registry, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Apply middleware chain: recovery → logging → metrics → tab → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpMetrics := middleware.NewHTTPMetrics(reg, "cart", "tabs", "session", "mcp", "health", "healthz", "metrics")
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Metrics(httpMetrics),
		h.TabMiddleware,
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		pusher.Stop()
		registry.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		// Unflushed edits would be lost with the process.
		pusher.Stop()
		if err := registry.Flush(shutdownCtx); err != nil {
			logger.Warn("flush on shutdown failed", slog.String("error", err.Error()))
		}
		registry.Close()
	}

	logger.Info("server stopped")
	return nil
}

// pushSupervisor runs at most one push listener, for the current user.
type pushSupervisor struct {
	url     string
	apiKey  string
	logger  *slog.Logger
	deliver func(*model.CartSnapshot)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start replaces any running listener with one for userID.
// A no-op when no push URL is configured.
func (p *pushSupervisor) Start(userID string) {
	if p.url == "" {
		return
	}
	l, err := push.New(push.Config{
		URL:    p.url,
		UserID: userID,
		APIKey: p.apiKey,
		Logger: p.logger,
	})
	if err != nil {
		p.logger.Error("push listener not started", slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := l.Run(ctx, p.deliver)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("push listener stopped", slog.String("error", err.Error()))
		}
	}()
	p.logger.Info("push listener started", slog.String("user_id", userID))
}

// Stop cancels the listener and waits for it to exit.
func (p *pushSupervisor) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
