// Package bridge runs blocking repository calls on a dedicated goroutine and hands
// their results to a synchronous consumer through a bounded channel.
//
// A consumer starts a fetch, drains it, and always finishes it:
//
//	ch, task := bridge.Start(ctx, 16, fetchIDs)
//	for {
//		id, ok := ch.Get()
//		if !ok {
//			break
//		}
//		// ...
//	}
//	if err := task.Finish(); err != nil {
//		switch bridge.KindOf(err) { ... }
//	}
//
// Finish abandons the channel if the consumer stopped early, joins the producer
// goroutine and returns its failure classified as RemoteIO, Protocol, Interrupted or
// ContractViolation. A consumer that abandoned the work gets a nil error and
// OutcomeCancelled. Items are never lost before the terminal signal, the producer
// blocks once Capacity items are pending, and no goroutine outlives Finish.
package bridge
