// Package session manages the guest cart session token.
// The token is generated once per origin, persisted in local storage and
// reused across restarts until the user logs in.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"cartsync/internal/localstore"
)

// Key is the local storage key holding the guest token.
const Key = "cart_session_id"

// KV is the subset of local storage the session needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Guest implements the engine's session store over local storage.
type Guest struct {
	kv KV
	mu sync.Mutex // serializes Ensure so one token is generated
}

// NewGuest returns a guest session store backed by kv.
func NewGuest(kv KV) *Guest {
	return &Guest{kv: kv}
}

// Token returns the persisted token, or "" when none exists yet.
func (g *Guest) Token(ctx context.Context) (string, error) {
	token, err := g.kv.Get(ctx, Key)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read guest session: %w", err)
	}
	return token, nil
}

// Ensure returns the persisted token, generating and storing a new ULID
// when none exists.
func (g *Guest) Ensure(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	token, err := g.Token(ctx)
	if err != nil || token != "" {
		return token, err
	}
	token = ulid.Make().String()
	if err := g.kv.Set(ctx, Key, token); err != nil {
		return "", fmt.Errorf("persist guest session: %w", err)
	}
	return token, nil
}

// Discard forgets the token.
func (g *Guest) Discard(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("discard guest session: %w", err)
	}
	return nil
}
