package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(Action(EventContainerRestarted, "env-1", "web", "0123456789abcdef", "restarted", "restarted"))

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventContainerRestarted, ev.Type)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
			assert.Equal(t, "web", ev.Metadata[KeyService])
			assert.Equal(t, "0123456789ab", ev.Metadata[KeyContainer])
			assert.Equal(t, "restarted", ev.Metadata[KeyOutcome])
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	broker := NewBroker() // not started: nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventReplicaCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full queue")
	}
}

func TestNilBrokerPublish(t *testing.T) {
	var broker *Broker
	require.NotPanics(t, func() {
		broker.Publish(&Event{Type: EventServiceScaled})
	})
}

func TestBrokerStopIsIdempotent(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()
	require.NotPanics(t, broker.Stop)
}
