package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"

	"cartsync/internal/localstore"
)

func newTestGuest(t *testing.T) (*Guest, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "storage.db"), "https://shop.example.com")
	if err != nil {
		t.Fatalf("localstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewGuest(store), store
}

func TestGuest_Lifecycle(t *testing.T) {
	ctx := context.Background()
	g, store := newTestGuest(t)

	token, err := g.Token(ctx)
	if err != nil || token != "" {
		t.Fatalf("Token() = %q, %v; want empty", token, err)
	}

	first, err := g.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := ulid.Parse(first); err != nil {
		t.Errorf("token %q is not a ULID: %v", first, err)
	}

	second, _ := g.Ensure(ctx)
	if second != first {
		t.Errorf("Ensure() = %q, want stored %q", second, first)
	}
	if stored, _ := store.Get(ctx, Key); stored != first {
		t.Errorf("persisted %q under %s, want %q", stored, Key, first)
	}

	// A new Guest over the same storage sees the token (restart).
	if got, _ := NewGuest(store).Token(ctx); got != first {
		t.Errorf("Token() after restart = %q, want %q", got, first)
	}

	if err := g.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if got, _ := g.Token(ctx); got != "" {
		t.Errorf("Token() after discard = %q", got)
	}
	if third, _ := g.Ensure(ctx); third == first {
		t.Error("Ensure() after discard should generate a new token")
	}
}
