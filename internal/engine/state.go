package engine

import (
	"maps"
	"slices"

	"cartsync/internal/model"
	"cartsync/internal/sched"
)

// state is the cart store plus the pending edit tracker of one engine.
// Every method must be called with Engine.mu held.
type state struct {
	cartID   string
	identity model.CartIdentity

	lines     []model.LineItem // displayed, in cart order
	confirmed map[string]int   // last quantity the server accepted
	pending   map[string]int   // target of an unconfirmed local edit
	editedAt  map[string]int64 // clock stamp of the latest local edit

	// known keeps the last-known-good price and snapshots per variant so
	// display data survives a line disappearing and coming back.
	known map[string]model.LineItem

	timers map[string]timer
	err    error
}

type timer struct {
	task sched.Task
	gen  uint64
}

func newState(identity model.CartIdentity) state {
	return state{
		identity:  identity,
		confirmed: make(map[string]int),
		pending:   make(map[string]int),
		editedAt:  make(map[string]int64),
		known:     make(map[string]model.LineItem),
		timers:    make(map[string]timer),
	}
}

func (s *state) index(variantID string) int {
	return slices.IndexFunc(s.lines, func(l model.LineItem) bool {
		return l.VariantID == variantID
	})
}

// displayed returns the quantity currently shown for a variant.
func (s *state) displayed(variantID string) (int, bool) {
	if i := s.index(variantID); i >= 0 {
		return s.lines[i].Quantity, true
	}
	return 0, false
}

// remember folds item's display data into the last-known-good cache.
func (s *state) remember(item model.LineItem) model.LineItem {
	prev, ok := s.known[item.VariantID]
	if ok {
		item.Product = model.MergeProduct(item.Product, prev.Product)
		item.Variant = model.MergeVariant(item.Variant, prev.Variant)
		if item.Price == 0 {
			item.Price = prev.Price
		}
	}
	cached := item
	cached.Quantity = 0
	s.known[item.VariantID] = cached
	return item
}

// upsert adopts item's quantity and fields, keeping known snapshots.
// A non-positive quantity removes the line.
func (s *state) upsert(item model.LineItem) {
	item = s.remember(item)
	if item.Quantity <= 0 {
		s.remove(item.VariantID)
		return
	}
	if i := s.index(item.VariantID); i >= 0 {
		s.lines[i] = item
		return
	}
	s.lines = append(s.lines, item)
}

// fill adopts only the display fields of item the local line lacks.
// The displayed quantity is left alone.
func (s *state) fill(item model.LineItem) {
	merged := s.remember(item)
	i := s.index(item.VariantID)
	if i < 0 {
		return
	}
	line := &s.lines[i]
	line.Product = model.MergeProduct(line.Product, merged.Product)
	line.Variant = model.MergeVariant(line.Variant, merged.Variant)
	if line.Price == 0 {
		line.Price = merged.Price
	}
}

// setQuantity shows quantity for a variant, re-inserting the line from the
// known cache when it was removed earlier.
func (s *state) setQuantity(variantID string, quantity int) {
	if quantity <= 0 {
		s.remove(variantID)
		return
	}
	if i := s.index(variantID); i >= 0 {
		s.lines[i].Quantity = quantity
		return
	}
	line := s.known[variantID]
	line.VariantID = variantID
	line.Quantity = quantity
	s.lines = append(s.lines, line)
}

func (s *state) remove(variantID string) {
	s.lines = slices.DeleteFunc(s.lines, func(l model.LineItem) bool {
		return l.VariantID == variantID
	})
}

// cancelTimer stops a variant's debounce task. Returns true if one was pending.
func (s *state) cancelTimer(variantID string) bool {
	t, ok := s.timers[variantID]
	if !ok {
		return false
	}
	t.task.Cancel()
	delete(s.timers, variantID)
	return true
}

// discard drops every trace of a local edit for a variant.
func (s *state) discard(variantID string) {
	s.cancelTimer(variantID)
	delete(s.pending, variantID)
}

// adopt replaces lines and the confirmed baseline with snap wholesale.
// Only valid while nothing is pending.
func (s *state) adopt(snap *model.CartSnapshot, malformed func()) {
	if snap.ID != "" {
		s.cartID = snap.ID
	}
	s.lines = nil
	s.confirmed = make(map[string]int, len(snap.Items))
	for _, item := range snap.Items {
		if item.VariantID == "" {
			malformed()
			continue
		}
		s.upsert(item)
		s.confirmed[item.VariantID] = max(item.Quantity, 0)
	}
}

func (s *state) quantities() map[string]int {
	out := make(map[string]int, len(s.lines))
	for _, l := range s.lines {
		out[l.VariantID] = l.Quantity
	}
	return out
}

// broadcast builds the cross-tab payload from server-confirmed quantities.
func (s *state) broadcast(stamp int64) model.Broadcast {
	b := model.Broadcast{
		Items:                []model.LineItem{},
		Timestamp:            stamp,
		PerVariantTimestamps: maps.Clone(s.editedAt),
	}
	seen := make(map[string]bool, len(s.lines))
	add := func(item model.LineItem) {
		q := s.confirmed[item.VariantID]
		if q <= 0 || seen[item.VariantID] {
			return
		}
		seen[item.VariantID] = true
		item.Quantity = q
		b.Items = append(b.Items, item)
		b.TotalItems += q
	}
	for _, l := range s.lines {
		add(l)
	}
	// Confirmed lines hidden by a pending zero still exist server-side.
	for _, v := range slices.Sorted(maps.Keys(s.confirmed)) {
		item := s.known[v]
		item.VariantID = v
		add(item)
	}
	return b
}

func (s *state) snapshot() model.CartState {
	items := slices.Clone(s.lines)
	if items == nil {
		items = []model.LineItem{}
	}
	var pending []string
	if len(s.pending) > 0 {
		pending = slices.Sorted(maps.Keys(s.pending))
	}
	return model.CartState{
		CartID:   s.cartID,
		Identity: s.identity,
		Items:    items,
		Summary:  model.Summarize(items),
		Pending:  pending,
		Err:      s.err,
	}
}
