package engine

import (
	"log/slog"

	"cartsync/internal/model"
	"cartsync/internal/reconcile"
)

// OnServerCartEvent merges an authoritative cart pushed by the server.
//
// With no edit pending the snapshot is adopted wholesale, confirmed
// quantities included, and relayed to sibling tabs. Otherwise lines are
// merged one by one: a line with a pending edit keeps its displayed
// quantity and only gains display fields it lacks; every other line takes
// the server's quantity, which also becomes its confirmed baseline.
func (e *Engine) OnServerCartEvent(snap *model.CartSnapshot) {
	if snap == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	wholesale := e.applyServerLocked(snap, "push")
	e.st.err = nil
	var b model.Broadcast
	if wholesale {
		b = e.broadcastLocked()
	}
	e.mu.Unlock()

	if wholesale {
		e.metrics.PushEvents.WithLabelValues("adopt").Inc()
		e.post(b)
	} else {
		e.metrics.PushEvents.WithLabelValues("merge").Inc()
	}
	e.notify()
}

// mergeLocked applies snap line by line, protecting pending edits.
func (e *Engine) mergeLocked(snap *model.CartSnapshot, source string) {
	if snap.ID != "" {
		e.st.cartID = snap.ID
	}
	diff := reconcile.DiffVariants(e.st.quantities(), snap.Quantities())

	incoming := make(map[string]bool, len(snap.Items))
	for _, item := range snap.Items {
		v := item.VariantID
		if v == "" {
			e.malformed(source)
			continue
		}
		incoming[v] = true

		if _, pending := e.st.pending[v]; pending {
			e.st.fill(item)
			continue
		}
		e.st.upsert(item)
		e.st.confirmed[v] = max(item.Quantity, 0)
	}

	for _, v := range diff.Removed {
		if _, pending := e.st.pending[v]; pending {
			continue
		}
		e.st.remove(v)
	}
	for v := range e.st.confirmed {
		if _, pending := e.st.pending[v]; !incoming[v] && !pending {
			delete(e.st.confirmed, v)
		}
	}

	e.logger.Debug("merged server cart",
		slog.String("source", source),
		slog.Int("added", len(diff.Added)),
		slog.Int("removed", len(diff.Removed)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("pending", len(e.st.pending)),
	)
}
