// Package reconcile computes the minimal mutations that move confirmed server
// state towards a desired state. It holds no state of its own: the engine
// feeds it the confirmed baseline and the pending target and executes the
// resulting mutation against the cart service.
package reconcile

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Op is the collaborator call a mutation maps to.
type Op int

const (
	OpNone   Op = iota // target already confirmed
	OpAdd              // add Quantity units
	OpRemove           // remove Quantity units
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "none"
	}
}

// Mutation is a single add/remove call for one variant.
// Quantity is always a positive delta (0 only for OpNone).
type Mutation struct {
	VariantID string
	Op        Op
	Quantity  int
}

// IsNoop returns true if the target already equals the confirmed quantity.
func (m Mutation) IsNoop() bool {
	return m.Op == OpNone
}

// PlanQuantity computes the mutation that moves confirmed to target.
// The diff is taken against the server-confirmed quantity, never the
// displayed one, so a burst of edits collapses into one delta.
func PlanQuantity(variantID string, target, confirmed int) Mutation {
	diff := target - confirmed
	switch {
	case diff > 0:
		return Mutation{VariantID: variantID, Op: OpAdd, Quantity: diff}
	case diff < 0:
		return Mutation{VariantID: variantID, Op: OpRemove, Quantity: -diff}
	default:
		return Mutation{VariantID: variantID, Op: OpNone}
	}
}

// VariantDiff describes how an incoming quantity map differs from a local one.
// Each slice is sorted so callers process variants in a stable order.
type VariantDiff struct {
	Added   []string // in incoming, not local
	Removed []string // in local, not incoming
	Changed []string // in both with a different quantity
}

// IsEmpty returns true if both maps carry the same variants and quantities.
func (d *VariantDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffVariants compares local and incoming quantity maps by variant ID.
func DiffVariants(local, incoming map[string]int) *VariantDiff {
	localSet := keySet(local)
	incomingSet := keySet(incoming)

	diff := &VariantDiff{
		Added:   sorted(incomingSet.Difference(localSet)),
		Removed: sorted(localSet.Difference(incomingSet)),
	}

	for _, v := range sorted(localSet.Intersect(incomingSet)) {
		if local[v] != incoming[v] {
			diff.Changed = append(diff.Changed, v)
		}
	}
	return diff
}

func keySet(m map[string]int) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for k := range m {
		s.Add(k)
	}
	return s
}

func sorted(s mapset.Set[string]) []string {
	if s.Cardinality() == 0 {
		return nil
	}
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
