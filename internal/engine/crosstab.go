package engine

import (
	"maps"
	"slices"

	"cartsync/internal/model"
)

// OnCrossTabBroadcast merges a sibling tab's confirmed cart.
//
// Each line is judged on its own stamp (the per-variant stamp, else the
// payload stamp). A pending local edit stamped at or after the remote
// stamp wins, ties included. Otherwise the remote quantity is adopted,
// any local debounce for the line is dropped and the confirmed baseline
// follows. A local line missing from the payload counts as removed by the
// sibling, unless a pending local edit is at least as recent.
//
// Never re-broadcasts.
func (e *Engine) OnCrossTabBroadcast(b model.Broadcast) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	stampOf := func(v string) int64 {
		if ts, ok := b.PerVariantTimestamps[v]; ok {
			return ts
		}
		return b.Timestamp
	}

	var adopted, kept int
	seen := make(map[string]bool, len(b.Items))
	for _, item := range b.Items {
		v := item.VariantID
		if v == "" {
			e.malformed("crosstab")
			continue
		}
		seen[v] = true

		if e.localWinsLocked(v, stampOf(v)) {
			e.st.fill(item)
			kept++
			continue
		}
		e.st.discard(v)
		e.st.upsert(item)
		e.st.confirmed[v] = max(item.Quantity, 0)
		adopted++
	}

	// Lines the sibling no longer has.
	local := e.st.quantities()
	for v := range e.st.pending {
		local[v] = e.st.pending[v]
	}
	for _, v := range slices.Sorted(maps.Keys(local)) {
		if seen[v] {
			continue
		}
		if e.localWinsLocked(v, stampOf(v)) {
			kept++
			continue
		}
		e.st.discard(v)
		e.st.remove(v)
		e.st.confirmed[v] = 0
		adopted++
	}
	e.mu.Unlock()

	e.metrics.CrossTab.WithLabelValues("adopted").Add(float64(adopted))
	e.metrics.CrossTab.WithLabelValues("kept").Add(float64(kept))
	e.notify()
}

// localWinsLocked reports whether a pending local edit outranks a remote
// update stamped remote.
func (e *Engine) localWinsLocked(variantID string, remote int64) bool {
	if _, pending := e.st.pending[variantID]; !pending {
		return false
	}
	return e.st.editedAt[variantID] >= remote
}
