// Package sink delivers events emitted by the protocol handlers to their
// destinations.
//
// Handlers never write to storage directly. They hand each Event to an
// AsyncWriter, which queues it on a bounded channel and returns at once.
// A single goroutine drains the queue in FIFO order into the target sink,
// usually a Fanout over the event store and, optionally, a NATS subject.
// When the queue is full the Event is dropped and counted; a slow store
// never stalls a connection.
package sink
