package adapter

import (
	"context"

	"cartsync/internal/model"
)

// Mock implements CartService for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchCartForUserFunc    func(ctx context.Context, userID string) (*model.CartSnapshot, error)
	FetchCartForSessionFunc func(ctx context.Context, token string) (*model.CartSnapshot, error)
	CreateCartFunc          func(ctx context.Context, identity model.CartIdentity) (*model.CartSnapshot, error)
	AddQuantityFunc         func(ctx context.Context, change model.QuantityChange) error
	RemoveQuantityFunc      func(ctx context.Context, change model.QuantityChange) error
	ClearCartFunc           func(ctx context.Context, cartID string) error
}

// FetchCartForUser calls the configured FetchCartForUserFunc or reports no cart.
func (m *Mock) FetchCartForUser(ctx context.Context, userID string) (*model.CartSnapshot, error) {
	if m.FetchCartForUserFunc != nil {
		return m.FetchCartForUserFunc(ctx, userID)
	}
	return nil, model.NewNotFoundError("cart")
}

// FetchCartForSession calls the configured FetchCartForSessionFunc or reports no cart.
func (m *Mock) FetchCartForSession(ctx context.Context, token string) (*model.CartSnapshot, error) {
	if m.FetchCartForSessionFunc != nil {
		return m.FetchCartForSessionFunc(ctx, token)
	}
	return nil, model.NewNotFoundError("cart")
}

// CreateCart calls the configured CreateCartFunc or returns an empty cart.
func (m *Mock) CreateCart(ctx context.Context, identity model.CartIdentity) (*model.CartSnapshot, error) {
	if m.CreateCartFunc != nil {
		return m.CreateCartFunc(ctx, identity)
	}
	return &model.CartSnapshot{ID: "cart-mock", Identity: identity}, nil
}

// AddQuantity calls the configured AddQuantityFunc or succeeds.
func (m *Mock) AddQuantity(ctx context.Context, change model.QuantityChange) error {
	if m.AddQuantityFunc != nil {
		return m.AddQuantityFunc(ctx, change)
	}
	return nil
}

// RemoveQuantity calls the configured RemoveQuantityFunc or succeeds.
func (m *Mock) RemoveQuantity(ctx context.Context, change model.QuantityChange) error {
	if m.RemoveQuantityFunc != nil {
		return m.RemoveQuantityFunc(ctx, change)
	}
	return nil
}

// ClearCart calls the configured ClearCartFunc or succeeds.
func (m *Mock) ClearCart(ctx context.Context, cartID string) error {
	if m.ClearCartFunc != nil {
		return m.ClearCartFunc(ctx, cartID)
	}
	return nil
}

// Verify Mock implements CartService interface at compile time.
var _ CartService = (*Mock)(nil)
