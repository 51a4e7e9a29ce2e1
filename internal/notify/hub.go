// Package notify implements the push half of the notification fan-out: an
// in-process registry of live connections keyed by owner id. Cross-process
// delivery rides the Redis pub/sub bridge; each gateway instance forwards
// incoming events to its local hub.
package notify

import (
	"log/slog"
	"sync"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// sendBuffer is the per-subscription event buffer. A subscriber that falls
// this far behind is dropped; it can recover current truth via the poll path.
const sendBuffer = 16

// Subscription is one live connection's view of an owner's channel.
type Subscription struct {
	ownerID string
	ch      chan domain.Event
	hub     *Hub
	once    sync.Once
}

// Events returns the channel the hub delivers on. The channel is closed
// when the subscription is dropped or closed.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub routes events to every subscription registered for an owner.
// Many subscriptions may exist per owner; a subscription owns no job state.
type Hub struct {
	mu     sync.RWMutex
	owners map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		owners: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new live connection for ownerID.
func (h *Hub) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		ownerID: ownerID,
		ch:      make(chan domain.Event, sendBuffer),
		hub:     h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.owners[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.owners[ownerID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	set, ok := h.owners[sub.ownerID]
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.owners, sub.ownerID)
			}
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.mu.Unlock()
}

// Deliver fans an event out to every subscription for ownerID. Delivery is
// best-effort: a subscriber whose buffer is full is dropped rather than
// allowed to stall the rest.
//
// Sends happen under the read lock. A channel is only ever closed under the
// write lock after its subscription leaves the map, so a subscription still
// in the map has an open channel and the non-blocking send cannot panic on a
// concurrent Close.
func (h *Hub) Deliver(ownerID string, ev domain.Event) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.owners[ownerID] {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	// Dropping needs the write lock, so it waits until the read lock is gone.
	for _, sub := range slow {
		h.logger.Warn("dropping slow fanout subscriber",
			slog.String("owner_id", ownerID),
			slog.String("job_id", ev.JobID),
		)
		h.unsubscribe(sub)
	}
}

// Subscribers returns how many live subscriptions exist across all owners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.owners {
		n += len(set)
	}
	return n
}
