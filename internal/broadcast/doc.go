// Package broadcast provides a multi-producer, multi-consumer notification
// channel with fan-out delivery.
//
// Every Receiver observes every value sent after it subscribed, in send order.
// Values sent before a Receiver subscribed are never replayed. Senders are
// reference counted: Clone hands out another sending handle and Close releases
// one. When the last sending handle is closed, every Receiver's channel is
// closed once its buffered values have been consumed, so "all senders gone"
// is itself observable as a terminal event.
//
// Example usage:
//
//	tx := broadcast.New[struct{}](8)
//	rx := tx.Subscribe()
//	defer rx.Close()
//
//	go func() {
//		tx.Send(struct{}{})
//		tx.Close()
//	}()
//
//	for range rx.C() {
//		// one iteration per value, loop ends once every sender is closed
//	}
//
// Delivery never blocks the sender. A Receiver whose buffer is full drops the
// value and records it; see Receiver.Dropped.
package broadcast
