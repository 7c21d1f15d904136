// Package bus is the in-process message bus that routes addressed calls and
// topic broadcasts to agent instances.
//
// An agent type is a name bound to a Factory. The first delivery addressed to
// (type, topic) materializes an instance, which is then reused for the life of
// the bus. Every instance owns a commandqueue lane with concurrency 1, so its
// handler never runs concurrently with itself and sees deliveries in FIFO
// order. Instances bound to different topics run in parallel.
//
// Invariants:
//   - Agent type names are unique (ErrDuplicateRegistration).
//   - A direct-only instance (AcceptsBroadcast false) is materialized by a
//     matching broadcast but the delivery is dropped without calling it.
//   - Broadcasts reach each receiving instance in publish order.
//   - A handler must not Send to its own instance; that call would wait on
//     itself and is rejected with ErrSelfSend.
//   - Stop(ctx, true) keeps accepting calls made from running handlers until
//     the queue is idle, then halts; Stop(ctx, false) cancels running handler
//     contexts and fails queued deliveries with ErrBusStopped.
//
// Usage:
//
//	b := bus.New(bus.Config{Logger: logger})
//	_, err := b.Register("Echo", func(id bus.AgentID) (bus.Handler, error) {
//		return bus.HandlerFunc(func(ctx context.Context, env bus.Envelope) (any, error) {
//			return env.Payload, nil
//		}), nil
//	}, bus.Options{})
//	_ = b.Start()
//	reply, err := b.Send(ctx, "ping", "Echo", sessionID)
package bus
