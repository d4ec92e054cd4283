// Package adapter defines the cart service contract the sync engine consumes.
// The store API client implements it over HTTP; tests use Mock.
package adapter

import (
	"context"

	"cartsync/internal/model"
)

// CartService abstracts the server-side cart operations.
//
// Fetch methods return an error wrapping model.ErrNotFound when no cart
// exists for the identity; callers treat that as an empty cart.
// Quantity methods take positive deltas, never absolute quantities.
type CartService interface {
	// FetchCartForUser returns the cart scoped to an authenticated user.
	FetchCartForUser(ctx context.Context, userID string) (*model.CartSnapshot, error)

	// FetchCartForSession returns the guest cart keyed by a session token.
	FetchCartForSession(ctx context.Context, sessionToken string) (*model.CartSnapshot, error)

	// CreateCart creates an empty cart for exactly one of user or session.
	CreateCart(ctx context.Context, identity model.CartIdentity) (*model.CartSnapshot, error)

	// AddQuantity adds change.Quantity units of a variant.
	// Creates the line server-side when it does not exist yet.
	AddQuantity(ctx context.Context, change model.QuantityChange) error

	// RemoveQuantity removes change.Quantity units of a variant.
	// The server drops the line when it reaches zero.
	RemoveQuantity(ctx context.Context, change model.QuantityChange) error

	// ClearCart removes every line from the cart.
	ClearCart(ctx context.Context, cartID string) error
}

// Config holds common configuration for cart service clients.
type Config struct {
	BaseURL string
	APIKey  string
}
