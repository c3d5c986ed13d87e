package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishReachesAllRoomSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("review-1")
	b := hub.Subscribe("review-1")
	other := hub.Subscribe("review-2")

	hub.Publish("review-1", Event{Type: EventCellUpdated, ColumnID: "c1", FileID: "d1"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, EventCellUpdated, ev.Type)
			assert.Equal(t, "c1", ev.ColumnID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("review-2 subscriber received foreign event: %+v", ev)
	default:
	}
}

func TestHubPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub()
	// Must not block or panic.
	hub.Publish("empty-room", Event{Type: EventExtractionProgress, Progress: 1, Total: 2})
	assert.Equal(t, 0, hub.SubscriberCount("empty-room"))
}

func TestHubDropsNewEventsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("review-1")

	// Saturate the buffer without consuming, then overflow it.
	total := subscriberBuffer + 5
	for i := 0; i < total; i++ {
		hub.Publish("review-1", Event{Type: EventExtractionProgress, Progress: i + 1, Total: total})
	}

	hub.Unsubscribe(sub)

	var received []Event
	for ev := range sub.Events() {
		received = append(received, ev)
	}
	require.Len(t, received, subscriberBuffer)
	// Drop-new policy: the oldest events survive.
	assert.Equal(t, 1, received[0].Progress)
	assert.Equal(t, subscriberBuffer, received[len(received)-1].Progress)
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("review-1")
	require.Equal(t, 1, hub.SubscriberCount("review-1"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // second call must not panic on the closed channel
	assert.Equal(t, 0, hub.SubscriberCount("review-1"))

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestHubPublishAfterUnsubscribeDoesNotPanic(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("review-1")
	hub.Unsubscribe(sub)

	hub.Publish("review-1", Event{Type: EventError, Message: "late"})
	assert.Equal(t, 0, hub.SubscriberCount("review-1"))
}
