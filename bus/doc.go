// Package bus carries task lifecycle events between processes.
//
// The MessageBus interface is fire-and-forget pub/sub with NATS-style
// subject wildcards. Two implementations are provided:
//
//   - NATSBus: NATS core messaging
//   - MemoryBus: in-process channels for tests and single-process use
//
// Subscribers read from a buffered channel; a slow subscriber drops
// messages instead of blocking publishers.
//
//	sub, _ := b.Subscribe("taskkit.events.>")
//	for msg := range sub.Messages() {
//	    fmt.Println(msg.Subject, string(msg.Data))
//	}
package bus
