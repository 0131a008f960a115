package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventContainerRestarted EventType = "container.restarted"
	EventRestartFailed      EventType = "container.restart_failed"
	EventReplicaCreated     EventType = "replica.created"
	EventReplicaFailed      EventType = "replica.failed"
	EventServiceScaled      EventType = "service.scaled"
	EventScaleCapped        EventType = "service.scale_capped"
	EventContainerRemoved   EventType = "container.removed"
	EventNetworkRemoved     EventType = "network.removed"
	EventRemoveFailed       EventType = "resource.remove_failed"
)

// Metadata keys carried by every action event
const (
	KeyEnvironment = "env"
	KeyService     = "service"
	KeyContainer   = "container"
	KeyOutcome     = "outcome"
)

// Event reports one action taken against the runtime
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for subscribers. It never blocks the caller:
// when the queue is full the event is dropped, since the log already
// carries the same record. A nil broker discards everything.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Action builds an action event with the standard metadata keys
func Action(t EventType, envID, service, containerID, outcome, message string) *Event {
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	return &Event{
		Type:    t,
		Message: message,
		Metadata: map[string]string{
			KeyEnvironment: envID,
			KeyService:     service,
			KeyContainer:   containerID,
			KeyOutcome:     outcome,
		},
	}
}
