package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitForEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// TestBrokerPublishSubscribe tests basic event delivery
func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:     EventTaskAssigned,
		Message:  "task assigned",
		Metadata: map[string]string{"task_id": "J1_task_0"},
	})

	event := waitForEvent(t, sub)
	assert.Equal(t, EventTaskAssigned, event.Type)
	assert.Equal(t, "J1_task_0", event.Metadata["task_id"])
	assert.False(t, event.Timestamp.IsZero(), "Publish should stamp the event")
}

// TestBrokerSlowSubscriber tests that a full subscriber buffer never blocks delivery
func TestBrokerSlowSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)
	live := broker.Subscribe()
	defer broker.Unsubscribe(live)

	// Overrun the slow subscriber's buffer without draining it
	for i := 0; i < 80; i++ {
		broker.Publish(&Event{Type: EventTaskCompleted, Message: fmt.Sprintf("event %d", i)})
	}

	// The live subscriber still receives events
	event := waitForEvent(t, live)
	assert.Equal(t, EventTaskCompleted, event.Type)

	assert.Equal(t, 2, broker.SubscriberCount())
}

// TestRingRetainsRecent tests the bounded recent-events window
func TestRingRetainsRecent(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	ring := NewRing(broker, 5)
	ring.Start()
	defer ring.Stop()

	for i := 0; i < 8; i++ {
		broker.Publish(&Event{Type: EventWorkerOnline, Message: fmt.Sprintf("worker-%d", i)})
	}

	// Delivery is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ring.Recent()) == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	recent := ring.Recent()
	assert.Len(t, recent, 5)
	assert.Equal(t, "worker-3", recent[0].Message, "oldest retained event first")
	assert.Equal(t, "worker-7", recent[4].Message)
}
