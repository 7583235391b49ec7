package queue

import "github.com/pkg/errors"

// ErrQueueFull is returned by Push when a queue is at capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrQueueClosed is returned by Push once a queue has been closed, which
// ProcessQueueManager.Delete does at once, before any grace period runs.
var ErrQueueClosed = errors.New("queue: closed")

// ErrUnknownQueue identifies a QueueKey that was never created or has
// already been reaped. The managers in this package do not return it:
// ProcessQueueManager.Delete ignores an unknown key.
var ErrUnknownQueue = errors.New("queue: unknown key")
