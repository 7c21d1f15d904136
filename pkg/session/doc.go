// Package session owns per-session state: the processing flag, the outbound
// event queue and the single stream attached to it.
//
// Invariants:
//   - Session ids are unique for the lifetime of a Registry and path safe.
//   - Events are queued in Emit order and numbered from 1 per session.
//   - At most one EventStream is attached to a session; it ends with io.EOF
//     right after yielding an event with Final set. A new stream may then be
//     attached to read the next request's events.
//   - Opening a session publishes Bootstrap on its topic so per-session
//     agents exist before the first request arrives.
//
// Usage:
//
//	reg := session.NewRegistry(session.Config{Logger: logger, Bus: b})
//	id, _ := reg.Open(ctx, "")
//	stream, _ := reg.Stream(id)
//	for ev, err := range stream.All(ctx) {
//		...
//	}
package session
