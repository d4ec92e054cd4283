package engine

import (
	"context"
	"fmt"
	"log/slog"

	"cartsync/internal/model"
)

// RequestQuantityChange applies a local edit optimistically and schedules
// its sync. It never waits on the network: the displayed quantity changes
// before it returns, and repeated calls for one variant inside the debounce
// window collapse into a single reconciliation carrying the final target.
//
// Zero removes the line from the display at once; the server removal
// follows with the sync.
func (e *Engine) RequestQuantityChange(variantID string, quantity int) error {
	if variantID == "" {
		return model.NewValidationError("variant_id", "required")
	}
	if quantity < 0 {
		return model.NewValidationError("quantity", "must not be negative")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	if e.st.cartID == "" {
		e.mu.Unlock()
		e.logger.Error("quantity change without a cart",
			slog.String("variant_id", variantID),
		)
		return model.ErrCartIdentityMissing
	}
	_, shown := e.st.displayed(variantID)
	_, pending := e.st.pending[variantID]
	_, confirmed := e.st.confirmed[variantID]
	if !shown && !pending && !confirmed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrUnknownLine, variantID)
	}

	e.st.editedAt[variantID] = e.clock.Now()
	e.st.pending[variantID] = quantity
	e.st.setQuantity(variantID, quantity)
	if e.st.cancelTimer(variantID) {
		e.metrics.CoalescedEdits.Inc()
	}
	e.scheduleLocked(variantID)
	e.mu.Unlock()

	e.notify()
	return nil
}

// scheduleLocked starts the variant's debounce task.
// A fire that lost the race with a newer schedule or a cancel is ignored.
func (e *Engine) scheduleLocked(variantID string) {
	e.gen++
	gen := e.gen
	task := e.sched.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		t, ok := e.st.timers[variantID]
		if !ok || t.gen != gen || e.closed {
			e.mu.Unlock()
			return
		}
		delete(e.st.timers, variantID)
		e.mu.Unlock()

		if err := e.reconcile(e.ctx, variantID); err != nil {
			e.logger.Warn("debounced sync failed",
				slog.String("variant_id", variantID),
				slog.String("error", err.Error()),
			)
		}
	})
	e.st.timers[variantID] = timer{task: task, gen: gen}
}

// AddItem puts a variant in the cart. A line already in the cart is routed
// through RequestQuantityChange with its quantity increased. A new line is
// inserted optimistically and added on the server right away, creating the
// cart first when none exists; on failure the line is rolled back.
//
// Cancellation of ctx does not abort a call already sent, since the engine
// must learn its outcome to keep the confirmed baseline right.
func (e *Engine) AddItem(ctx context.Context, item model.LineItem) error {
	if item.VariantID == "" {
		return model.NewValidationError("variant_id", "required")
	}
	if item.Quantity <= 0 {
		return model.NewValidationError("quantity", "must be positive")
	}
	v := item.VariantID
	ctx = context.WithoutCancel(ctx)

	if current, ok := e.existingQuantity(v); ok {
		return e.RequestQuantityChange(v, current+item.Quantity)
	}

	cartID, err := e.ensureCart(ctx)
	if err != nil {
		e.logger.Error("add item: no cart",
			slog.String("variant_id", v),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	// Another add may have landed while the cart was being created.
	if _, busy := e.inflight[v]; busy || e.hasLineLocked(v) {
		current, _ := e.st.displayed(v)
		if p, ok := e.st.pending[v]; ok {
			current = p
		}
		e.mu.Unlock()
		return e.RequestQuantityChange(v, current+item.Quantity)
	}
	e.st.editedAt[v] = e.clock.Now()
	e.st.upsert(item)
	// Pushes landing during the call may rewrite confirmed.
	base := e.st.confirmed[v]
	done := make(chan struct{})
	e.inflight[v] = done
	e.mu.Unlock()
	e.notify()

	err = e.service.AddQuantity(ctx, model.QuantityChange{CartID: cartID, VariantID: v, Quantity: item.Quantity})

	e.mu.Lock()
	delete(e.inflight, v)
	close(done)
	if err != nil {
		e.st.discard(v)
		e.st.remove(v)
		e.st.err = fmt.Errorf("%w: add %s: %w", model.ErrReconciliationFailed, v, err)
		e.mu.Unlock()

		e.metrics.Reconciliations.WithLabelValues("failed").Inc()
		e.logger.Warn("add item rejected, refetching",
			slog.String("variant_id", v),
			slog.String("error", err.Error()),
		)
		e.notify()
		e.refetchAfterFailure(ctx)
		return fmt.Errorf("%w: %w", model.ErrReconciliationFailed, err)
	}
	e.st.confirmed[v] = base + item.Quantity
	if _, edited := e.st.pending[v]; !edited {
		e.st.setQuantity(v, base+item.Quantity)
	}
	b := e.broadcastLocked()
	e.mu.Unlock()

	e.metrics.Reconciliations.WithLabelValues("ok").Inc()
	e.post(b)
	e.notify()
	return nil
}

// existingQuantity returns the quantity the user currently sees as wanted
// for a variant already in the cart.
func (e *Engine) existingQuantity(variantID string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.st.pending[variantID]; ok {
		return p, true
	}
	if !e.hasLineLocked(variantID) {
		return 0, false
	}
	q, _ := e.st.displayed(variantID)
	return q, true
}

func (e *Engine) hasLineLocked(variantID string) bool {
	if _, ok := e.st.displayed(variantID); ok {
		return true
	}
	_, pending := e.st.pending[variantID]
	return pending
}

// Clear empties the cart optimistically and clears it on the server.
// Pending edits are dropped. A failed clear restores server truth.
// Like AddItem, the call outlives cancellation of ctx.
func (e *Engine) Clear(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	e.mu.Lock()
	cartID := e.st.cartID
	if cartID == "" {
		e.mu.Unlock()
		e.logger.Error("clear without a cart")
		return model.ErrCartIdentityMissing
	}
	// The clear is the newest edit of every line it drops.
	now := e.clock.Now()
	for _, l := range e.st.lines {
		e.st.editedAt[l.VariantID] = now
	}
	for v := range e.st.confirmed {
		e.st.editedAt[v] = now
	}
	for v := range e.st.pending {
		e.st.editedAt[v] = now
		e.st.discard(v)
	}
	for v := range e.st.timers {
		e.st.cancelTimer(v)
	}
	e.st.lines = nil
	e.mu.Unlock()
	e.notify()

	if err := e.service.ClearCart(ctx, cartID); err != nil {
		e.mu.Lock()
		e.st.err = fmt.Errorf("%w: clear: %w", model.ErrReconciliationFailed, err)
		e.mu.Unlock()
		e.logger.Warn("clear rejected, refetching", slog.String("error", err.Error()))
		e.notify()
		e.refetchAfterFailure(ctx)
		return fmt.Errorf("%w: %w", model.ErrReconciliationFailed, err)
	}

	e.mu.Lock()
	for v := range e.st.confirmed {
		e.st.confirmed[v] = 0
	}
	b := e.broadcastLocked()
	e.mu.Unlock()

	e.post(b)
	e.notify()
	return nil
}

// Login flushes outstanding edits, drops the guest token and rebinds the
// engine to the user's cart. The server merges the guest cart on its side.
func (e *Engine) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return model.NewValidationError("user_id", "required")
	}
	if err := e.Flush(ctx); err != nil {
		e.logger.Warn("flush before login failed", slog.String("error", err.Error()))
	}
	if e.sessions != nil {
		if err := e.sessions.Discard(ctx); err != nil {
			return fmt.Errorf("discard guest session: %w", err)
		}
	}

	e.mu.Lock()
	e.st.identity = model.CartIdentity{UserID: userID}
	e.st.cartID = ""
	e.st.lines = nil
	e.st.confirmed = make(map[string]int)
	e.mu.Unlock()

	e.logger.Info("switched to user cart", slog.String("user_id", userID))
	return e.Refresh(ctx)
}
