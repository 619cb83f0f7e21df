package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:     EventVolumeAttached,
		Message:  "volume vol-1 attached",
		Metadata: map[string]string{"volume_id": "vol-1", "device": "/dev/xvdf"},
	})

	select {
	case event := <-sub:
		require.NotNil(t, event)
		assert.Equal(t, EventVolumeAttached, event.Type)
		assert.Equal(t, "/dev/xvdf", event.Metadata["device"])
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)

	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBroker_NilAndStopped(t *testing.T) {
	var nilBroker *Broker
	assert.NotPanics(t, func() { nilBroker.Publish(&Event{Type: EventVolumeCreated}) })

	broker := NewBroker()
	broker.Start()
	broker.Stop()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventVolumeCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stopped broker")
	}
}

func TestBroker_FilteredSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	members := broker.Subscribe(MemberEvents...)
	all := broker.Subscribe()

	broker.Publish(&Event{Type: EventVolumeMounted, Message: "mounted /dev/xvdf"})
	broker.Publish(&Event{Type: EventMemberUnreachable, Message: "member node-2 is unreachable"})

	for _, want := range []EventType{EventVolumeMounted, EventMemberUnreachable} {
		select {
		case event := <-all:
			assert.Equal(t, want, event.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	select {
	case event := <-members:
		assert.Equal(t, EventMemberUnreachable, event.Type, "volume events are filtered out")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for member event")
	}
}
