package queue

import (
	"time"

	"github.com/hostcollector/agent/pkg/event"
)

// ProcessQueueItem is one unit of work carried by a Process Queue: a sealed
// event.Group plus the bookkeeping the manager needs to schedule it.
type ProcessQueueItem struct {
	Group      *event.Group
	ReceivedAt time.Time
	Priority   int
}

// SenderQueueItem is one serialized payload on its way to a remote backend.
// PipelineKey is a weak back-reference: looking it up through a registry
// can return "not found" if the owning pipeline has since been torn down,
// which callers must treat as a metric-only no-op rather than an error.
type SenderQueueItem struct {
	Payload       []byte
	Destination   string
	Attempt       int
	EarliestRetry time.Time
	PipelineKey   QueueKey

	// HashKey identifies this item's exactly-once sequencing key, set only
	// when the item originates from an exactly-once pipeline. Empty for
	// best-effort (at-most-once/at-least-once without dedup) pipelines.
	HashKey string
	// SequenceID is this item's position within HashKey's sequence, valid
	// only when HashKey is non-empty.
	SequenceID uint64
}
