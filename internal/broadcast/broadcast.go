// Package broadcast is the same-origin channel sibling tabs use to share
// confirmed cart snapshots. Delivery is best effort: every joined tab
// except the sender gets each message, and a tab that falls behind loses
// messages instead of stalling the others.
package broadcast

import (
	"sync"

	"cartsync/internal/model"
)

// DefaultBuffer is the per-tab queue length used when Join is given none.
const DefaultBuffer = 16

// Hub connects the tabs of one origin.
type Hub struct {
	mu      sync.RWMutex
	members map[*Channel]struct{}
	dropped func(tabID string)
}

// NewHub creates an empty hub. onDrop, if non-nil, is called for every
// message a full tab queue could not take.
func NewHub(onDrop func(tabID string)) *Hub {
	return &Hub{
		members: make(map[*Channel]struct{}),
		dropped: onDrop,
	}
}

// Channel is one tab's endpoint on the hub.
type Channel struct {
	hub   *Hub
	tabID string
	ch    chan model.Broadcast
	once  sync.Once
}

// Join attaches a tab. buffer <= 0 selects DefaultBuffer.
func (h *Hub) Join(tabID string, buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	c := &Channel{hub: h, tabID: tabID, ch: make(chan model.Broadcast, buffer)}
	h.mu.Lock()
	h.members[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Size returns the number of joined tabs.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Post delivers b to every other tab without blocking.
func (c *Channel) Post(b model.Broadcast) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for m := range c.hub.members {
		if m == c {
			continue
		}
		select {
		case m.ch <- b:
		default:
			if c.hub.dropped != nil {
				c.hub.dropped(m.tabID)
			}
		}
	}
}

// Messages returns the tab's inbound queue. It is closed by Close.
func (c *Channel) Messages() <-chan model.Broadcast {
	return c.ch
}

// TabID returns the tab the channel belongs to.
func (c *Channel) TabID() string {
	return c.tabID
}

// Close leaves the hub. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.members, c)
		c.hub.mu.Unlock()
		close(c.ch)
	})
}
