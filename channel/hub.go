package channel

import (
	"log"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-subscriber send buffer. When it fills, new
// events for that subscriber are dropped (drop-new policy): the oldest
// unconsumed events are kept, and observers reconcile via idempotent merge.
const subscriberBuffer = 16

// Subscriber is one attached observer of a review room.
type Subscriber struct {
	reviewID string
	events   chan Event
	dropped  atomic.Int64
}

// Events returns the subscriber's event stream. The channel is closed on
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event { return s.events }

// ReviewID returns the room this subscriber is attached to.
func (s *Subscriber) ReviewID() string { return s.reviewID }

// Hub is the per-review broadcast registry. Publishing never blocks and
// never fails the caller: a publish with no subscribers is a no-op, and a
// saturated subscriber just misses events.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]bool)}
}

// Subscribe attaches a new observer to the review's room.
func (h *Hub) Subscribe(reviewID string) *Subscriber {
	sub := &Subscriber{
		reviewID: reviewID,
		events:   make(chan Event, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[reviewID]
	if !ok {
		room = make(map[*Subscriber]bool)
		h.rooms[reviewID] = room
	}
	room[sub] = true
	log.Printf("[Hub] Subscriber attached to review %s (%d in room)", reviewID, len(room))
	return sub
}

// Unsubscribe detaches the observer and closes its event channel. Safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.reviewID]
	if !ok || !room[sub] {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.reviewID)
	}
	close(sub.events)
	if n := sub.dropped.Load(); n > 0 {
		log.Printf("[Hub] Subscriber left review %s, %d events dropped", sub.reviewID, n)
	}
}

// Publish fans ev out to every subscriber of the review's room without
// blocking. Events are dropped per subscriber when their buffer is full.
func (h *Hub) Publish(reviewID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[reviewID] {
		select {
		case sub.events <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of observers attached to a review.
func (h *Hub) SubscriberCount(reviewID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[reviewID])
}
