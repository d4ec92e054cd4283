package broadcast

import (
	"testing"

	"cartsync/internal/model"
)

func TestPost_DeliversToOthersOnly(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Join("a", 4)
	b := hub.Join("b", 4)
	c := hub.Join("c", 4)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	a.Post(model.Broadcast{TotalItems: 3, Timestamp: 10})

	for _, ch := range []*Channel{b, c} {
		select {
		case msg := <-ch.Messages():
			if msg.TotalItems != 3 || msg.Timestamp != 10 {
				t.Errorf("tab %s got %+v", ch.TabID(), msg)
			}
		default:
			t.Errorf("tab %s received nothing", ch.TabID())
		}
	}
	select {
	case msg := <-a.Messages():
		t.Errorf("sender received its own message: %+v", msg)
	default:
	}
}

func TestPost_FullQueueDrops(t *testing.T) {
	var dropped []string
	hub := NewHub(func(tabID string) { dropped = append(dropped, tabID) })
	a := hub.Join("a", 1)
	b := hub.Join("b", 1)
	defer a.Close()
	defer b.Close()

	a.Post(model.Broadcast{Timestamp: 1})
	a.Post(model.Broadcast{Timestamp: 2})

	if len(dropped) != 1 || dropped[0] != "b" {
		t.Errorf("dropped = %v, want [b]", dropped)
	}
	if msg := <-b.Messages(); msg.Timestamp != 1 {
		t.Errorf("kept message = %d, want the first", msg.Timestamp)
	}
}

func TestClose(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Join("a", 0)
	b := hub.Join("b", 0)

	b.Close()
	b.Close()
	if hub.Size() != 1 {
		t.Errorf("Size() = %d, want 1", hub.Size())
	}
	if _, ok := <-b.Messages(); ok {
		t.Error("closed channel should be drained and closed")
	}

	// Posting after a member left must not panic.
	a.Post(model.Broadcast{})
	a.Close()
}
