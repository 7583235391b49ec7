// Package queue implements the bounded Process Queue and the per-destination
// Sender Queue, plus the manager types that multiplex many queues behind a
// single priority-aware consumer loop.
package queue

import "sync/atomic"

// QueueKey identifies one Process Queue or Sender Queue for the lifetime of
// the pipeline that owns it. Keys are minted by NextQueueKey when a
// pipeline creates its Process Queue, from a process-wide counter, so a
// key is never reused while any item tagged with it could still be in
// flight.
type QueueKey uint64

var keyCounter uint64

// NextQueueKey mints a new, process-wide unique QueueKey.
func NextQueueKey() QueueKey {
	return QueueKey(atomic.AddUint64(&keyCounter, 1))
}
