/*
Package events is an in-process publish/subscribe broker.

The lifecycle manager publishes an event after every volume operation
(volume.operation_failed when it fails), the manager publishes membership and
leadership changes, and the reconciler publishes member reachability changes.
Subscribers receive events on a buffered channel; a subscriber that falls
behind misses events rather than blocking the publisher. Subscribe takes the event types a
subscriber cares about; VolumeEvents and MemberEvents group the usual sets.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.VolumeEvents...)
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Println(event.Type, event.Message)
	}

Publishing on a nil *Broker is a no-op.
*/
package events
