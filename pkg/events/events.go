package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventVolumeCreated     EventType = "volume.created"
	EventVolumeAttached    EventType = "volume.attached"
	EventVolumeDetached    EventType = "volume.detached"
	EventVolumeDeleted     EventType = "volume.deleted"
	EventVolumeMounted     EventType = "volume.mounted"
	EventVolumeUnmounted   EventType = "volume.unmounted"
	EventVolumeFormatted   EventType = "volume.formatted"
	EventOperationFailed   EventType = "volume.operation_failed"
	EventMemberJoined      EventType = "member.joined"
	EventMemberRemoved     EventType = "member.removed"
	EventMemberUnreachable EventType = "member.unreachable"
	EventMemberReachable   EventType = "member.reachable"
	EventLeadershipChanged EventType = "cluster.leadership_changed"
)

// VolumeEvents lists every event published by volume lifecycle operations
var VolumeEvents = []EventType{
	EventVolumeCreated,
	EventVolumeAttached,
	EventVolumeDetached,
	EventVolumeDeleted,
	EventVolumeMounted,
	EventVolumeUnmounted,
	EventVolumeFormatted,
	EventOperationFailed,
}

// MemberEvents lists every event about store membership
var MemberEvents = []EventType{
	EventMemberJoined,
	EventMemberRemoved,
	EventMemberUnreachable,
	EventMemberReachable,
}

// Event represents a lifecycle or cluster event
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
	subscribers map[Subscriber]filter
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]filter),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// filter selects the event types a subscriber receives; nil selects all
type filter map[EventType]bool

func (f filter) accepts(t EventType) bool {
	return f == nil || f[t]
}

// Subscribe creates a subscription to the given event types, or to every
// event when none are given
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var f filter
	if len(types) > 0 {
		f = make(filter, len(types))
		for _, t := range types {
			f[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = f
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

// Publish publishes an event to all subscribers.
// A nil broker discards the event.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}

	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
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

	for sub, f := range b.subscribers {
		if !f.accepts(event.Type) {
			continue
		}
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
