/*
Package events distributes action reports to in-process observers.

Every restart, scale and removal the system performs is both logged and
published here as an Event whose metadata carries the environment, service,
container and outcome. The monitor command subscribes and prints each event
as a one-line report; tests subscribe to assert on what was done.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("%s %s %s\n", ev.Type, ev.Metadata[events.KeyService], ev.Metadata[events.KeyOutcome])
		}
	}()

Publishing never blocks: a full queue or a slow subscriber drops events
rather than stalling a reconciliation tick.
*/
package events
