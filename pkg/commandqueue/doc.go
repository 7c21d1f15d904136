// Package commandqueue runs tasks on named lanes with per-lane FIFO ordering
// and a per-lane concurrency limit. The message bus uses one lane per agent
// instance with concurrency 1, which makes every instance single-flight.
//
// Invariants:
//   - Tasks in the same lane start in submission order.
//   - Tasks in different lanes may run concurrently.
//   - The pending count covers queued and running tasks; a task submitted by a
//     running task is counted before its parent finishes, so WaitIdle never
//     observes a false idle point while nested work is outstanding.
//   - After Abort or Close no task starts: queued tasks fail with ErrClosed and
//     running tasks see their context cancelled.
//
// Usage:
//
//	q := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer q.Close(ctx)
//	fut, err := q.Submit(ctx, "Orchestrator/abc", func(ctx context.Context) (any, error) {
//		return "ok", nil
//	}, nil)
//	value, err := fut.Wait(ctx)
package commandqueue
