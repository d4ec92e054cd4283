// Package model defines the cart data structures shared by the sync engine,
// the store API client and the transports.
package model

// === Identity ===

// CartIdentity names the cart the engine is bound to.
// A user-scoped cart wins over a guest cart when both are known.
type CartIdentity struct {
	UserID       string `json:"user_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"` // guest carts only
}

// IsUser reports whether the cart is scoped to an authenticated user.
func (i CartIdentity) IsUser() bool {
	return i.UserID != ""
}

// IsZero reports whether neither a user nor a guest session is known.
func (i CartIdentity) IsZero() bool {
	return i.UserID == "" && i.SessionToken == ""
}

// === Line Items ===

// LineItem is one variant in the cart.
// VariantID is the identity key for every reconciliation decision.
type LineItem struct {
	VariantID string           `json:"variant_id"`
	Quantity  int              `json:"quantity"`
	Price     int64            `json:"price"` // minor units, unit price
	Product   *ProductSnapshot `json:"product,omitempty"`
	Variant   *VariantSnapshot `json:"variant,omitempty"`
}

// ProductSnapshot is denormalized display data for the line's product.
// Any field may be missing on a given update.
type ProductSnapshot struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Handle   string `json:"handle,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// VariantSnapshot is denormalized display data for the line's variant.
type VariantSnapshot struct {
	Title    string `json:"title,omitempty"`
	SKU      string `json:"sku,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// MergeProduct returns primary with every empty field filled from fallback.
// Returns nil only when both are nil, so known data never regresses to missing.
func MergeProduct(primary, fallback *ProductSnapshot) *ProductSnapshot {
	if primary == nil && fallback == nil {
		return nil
	}
	if primary == nil {
		cp := *fallback
		return &cp
	}
	out := *primary
	if fallback != nil {
		out.ID = withDefault(out.ID, fallback.ID)
		out.Title = withDefault(out.Title, fallback.Title)
		out.Handle = withDefault(out.Handle, fallback.Handle)
		out.ImageURL = withDefault(out.ImageURL, fallback.ImageURL)
	}
	return &out
}

// MergeVariant returns primary with every empty field filled from fallback.
func MergeVariant(primary, fallback *VariantSnapshot) *VariantSnapshot {
	if primary == nil && fallback == nil {
		return nil
	}
	if primary == nil {
		cp := *fallback
		return &cp
	}
	out := *primary
	if fallback != nil {
		out.Title = withDefault(out.Title, fallback.Title)
		out.SKU = withDefault(out.SKU, fallback.SKU)
		out.ImageURL = withDefault(out.ImageURL, fallback.ImageURL)
	}
	return &out
}

func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// === Snapshots & Events ===

// CartSnapshot is the server's view of a cart.
type CartSnapshot struct {
	ID       string       `json:"id"`
	Identity CartIdentity `json:"identity"`
	Items    []LineItem   `json:"items"`
}

// Quantities returns the snapshot's quantity per variant.
// Lines without a variant ID are skipped.
func (s *CartSnapshot) Quantities() map[string]int {
	out := make(map[string]int, len(s.Items))
	for _, item := range s.Items {
		if item.VariantID == "" {
			continue
		}
		out[item.VariantID] = item.Quantity
	}
	return out
}

// QuantityChange is the argument of the add/remove collaborator calls.
// Quantity is always a positive delta, never an absolute value.
type QuantityChange struct {
	CartID    string `json:"cart_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Broadcast is the message exchanged between tabs of the same session.
// Timestamps are engine clock milliseconds.
type Broadcast struct {
	Items                []LineItem       `json:"items"`
	TotalItems           int              `json:"totalItems"`
	Timestamp            int64            `json:"timestamp"`
	PerVariantTimestamps map[string]int64 `json:"perVariantTimestamps,omitempty"`
}

// CartState is what subscribers and read APIs see.
type CartState struct {
	CartID   string       `json:"cart_id,omitempty"`
	Identity CartIdentity `json:"identity"`
	Items    []LineItem   `json:"items"`
	Summary  Summary      `json:"summary"`
	Pending  []string     `json:"pending,omitempty"` // variants with unconfirmed edits
	Err      error        `json:"-"`
}
