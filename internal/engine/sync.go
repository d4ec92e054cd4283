package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"cartsync/internal/model"
	"cartsync/internal/reconcile"
)

var errClosed = errors.New("engine closed")

// reconcile sends the difference between a variant's pending target and its
// confirmed quantity. Calls for one variant are serialized: a second caller
// waits for the in-flight call and then diffs against the new baseline.
func (e *Engine) reconcile(ctx context.Context, variantID string) error {
	logger := e.logger.With(slog.String("variant_id", variantID))

	for {
		e.mu.Lock()
		if done, busy := e.inflight[variantID]; busy {
			e.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		target, ok := e.st.pending[variantID]
		if !ok {
			// Already satisfied or superseded by an external update.
			e.mu.Unlock()
			return nil
		}
		confirmed, ok := e.st.confirmed[variantID]
		if !ok {
			e.mu.Unlock()
			e.metrics.Reconciliations.WithLabelValues("aborted").Inc()
			logger.Error("no confirmed quantity for pending edit, skipping sync",
				slog.Int("target", target),
			)
			return nil
		}
		cartID := e.st.cartID
		if cartID == "" {
			e.mu.Unlock()
			logger.Error("sync without a cart")
			return model.ErrCartIdentityMissing
		}

		m := reconcile.PlanQuantity(variantID, target, confirmed)
		// Cleared before the call so a push or broadcast arriving meanwhile
		// can adopt server truth for this line.
		delete(e.st.pending, variantID)
		if m.IsNoop() {
			e.mu.Unlock()
			e.metrics.Reconciliations.WithLabelValues("noop").Inc()
			e.notify()
			return nil
		}
		done := make(chan struct{})
		e.inflight[variantID] = done
		e.mu.Unlock()

		err := e.apply(ctx, cartID, m)

		e.mu.Lock()
		delete(e.inflight, variantID)
		close(done)
		if err != nil {
			e.st.discard(variantID)
			e.st.err = fmt.Errorf("%w: %s %s: %w", model.ErrReconciliationFailed, m.Op, variantID, err)
			e.mu.Unlock()

			e.metrics.Reconciliations.WithLabelValues("failed").Inc()
			logger.Warn("sync rejected, refetching",
				slog.String("op", m.Op.String()),
				slog.Int("quantity", m.Quantity),
				slog.String("error", err.Error()),
			)
			e.notify()
			e.refetchAfterFailure(ctx)
			return fmt.Errorf("%w: %w", model.ErrReconciliationFailed, err)
		}

		e.st.confirmed[variantID] = target
		if _, edited := e.st.pending[variantID]; !edited {
			e.st.setQuantity(variantID, target)
		}
		b := e.broadcastLocked()
		e.mu.Unlock()

		e.metrics.Reconciliations.WithLabelValues("ok").Inc()
		logger.Debug("synced",
			slog.String("op", m.Op.String()),
			slog.Int("quantity", m.Quantity),
			slog.Int("confirmed", target),
		)
		e.post(b)
		e.notify()
		return nil
	}
}

// apply issues the collaborator call for m.
func (e *Engine) apply(ctx context.Context, cartID string, m reconcile.Mutation) error {
	timer := prometheus.NewTimer(e.metrics.ReconcileDuration.WithLabelValues(m.Op.String()))
	defer timer.ObserveDuration()

	change := model.QuantityChange{CartID: cartID, VariantID: m.VariantID, Quantity: m.Quantity}
	if m.Op == reconcile.OpAdd {
		return e.service.AddQuantity(ctx, change)
	}
	return e.service.RemoveQuantity(ctx, change)
}

// Flush cancels every debounce task and reconciles all pending and
// in-flight variants in parallel, returning once all have finished.
// On a nil return every such variant's confirmed quantity equals its last
// requested target.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	for v := range e.st.timers {
		e.st.cancelTimer(v)
	}
	variants := slices.Sorted(maps.Keys(e.st.pending))
	for v := range e.inflight {
		if _, ok := e.st.pending[v]; !ok {
			variants = append(variants, v)
		}
	}
	e.mu.Unlock()

	if len(variants) == 0 {
		return nil
	}
	e.logger.Debug("flushing pending edits", slog.Int("variants", len(variants)))

	// Plain group: one failure must not cancel the other variants' calls.
	var g errgroup.Group
	for _, v := range variants {
		g.Go(func() error {
			return e.reconcile(ctx, v)
		})
	}
	return g.Wait()
}

// refetchAfterFailure restores server truth after a rejected call.
// The error state set by the caller stays visible until the next
// successful push or Refresh. Not retried.
func (e *Engine) refetchAfterFailure(ctx context.Context) {
	snap, err := e.fetch(ctx)
	if err != nil {
		e.metrics.Refetches.WithLabelValues("failed").Inc()
		e.logger.Error("refetch after failure failed", slog.String("error", err.Error()))
		e.mu.Lock()
		e.st.err = errors.Join(e.st.err, err)
		e.mu.Unlock()
		e.notify()
		return
	}
	e.metrics.Refetches.WithLabelValues("ok").Inc()

	e.mu.Lock()
	e.applyServerLocked(snap, "refetch")
	e.mu.Unlock()
	e.notify()
}
