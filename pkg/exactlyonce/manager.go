// Package exactlyonce implements the Exactly-Once Queue Manager: a
// variant of the Process/Sender Queue pair for sources that hand us a
// stable hash key per chunk of input (e.g. a log file's inode+offset
// range) and need at-most-once delivery per key even across a crash.
//
// Unlike the ordinary Sender Queue (pkg/queue), at most one item per hash
// key may be in flight at a time, and the Sending transition is persisted
// to a checkpoint.Store before PushSenderQueue returns, so a crash between
// persistence and network send is recoverable: Store.Open replays
// Sending checkpoints as work still owed to a sender.
package exactlyonce

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostcollector/agent/pkg/checkpoint"
	"github.com/hostcollector/agent/pkg/metrics"
	"github.com/hostcollector/agent/pkg/queue"
)

// ErrUnknownQueue is returned by any Manager method given a QueueKey that
// was never created via CreateOrUpdateQueue.
var ErrUnknownQueue = errors.New("exactlyonce: unknown queue")

// ErrAlreadySending is returned by PushSenderQueue when the item's
// HashKey already has an unacknowledged send in flight.
var ErrAlreadySending = errors.New("exactlyonce: hash key already sending")

type queueState struct {
	priority int
	store    *checkpoint.Store
	process  *queue.ProcessQueue

	mu      sync.Mutex
	sending map[string]*queue.SenderQueueItem
	deleted bool
}

// Manager pairs one bounded Process Queue with one checkpoint-backed
// exactly-once Sender Queue per QueueKey.
type Manager struct {
	mu     sync.Mutex
	queues map[queue.QueueKey]*queueState

	logger        log.Logger
	checkpointStuck prometheus.Gauge
}

// NewManager creates an empty Manager. checkpointStuck, if non-nil, is
// incremented whenever OnNack is called with permanent=true; the Manager
// never decrements it. Callers that don't want the gauge may pass nil.
func NewManager(logger log.Logger, checkpointStuck prometheus.Gauge) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		queues:          make(map[queue.QueueKey]*queueState),
		logger:          logger,
		checkpointStuck: checkpointStuck,
	}
}

// defaultProcessQueueCapacity sizes the Process Queue half of a pair
// created via CreateOrUpdateQueue, which (per SPEC_FULL.md's C7 contract)
// takes no explicit capacity — exactly-once sources are low-throughput,
// high-durability paths (e.g. tailing one file), not the bulk multi-input
// fan-in the ordinary Process Queue Manager sizes per pipeline config.
const defaultProcessQueueCapacity = 256

// CreateOrUpdateQueue registers (or updates the priority of) the queue
// pair for key, backed by store. When the pair is first created, replays
// any checkpoints left in StateSending from a prior run as sending
// entries, so PushSenderQueue refuses those hash keys and OnAck/OnNack can
// still resolve them once the corresponding retry completes.
func (m *Manager) CreateOrUpdateQueue(key queue.QueueKey, priority int, store *checkpoint.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs, ok := m.queues[key]
	if !ok {
		qs = &queueState{
			store: store,
			process: queue.NewProcessQueue(
				key, defaultProcessQueueCapacity,
				defaultProcessQueueCapacity/4, defaultProcessQueueCapacity-defaultProcessQueueCapacity/4,
			),
			sending: make(map[string]*queue.SenderQueueItem),
		}
		for _, cp := range store.Snapshot() {
			if cp.State == checkpoint.StateSending {
				qs.sending[cp.HashKey] = &queue.SenderQueueItem{HashKey: cp.HashKey, SequenceID: cp.SequenceID, PipelineKey: key}
			}
		}
		m.queues[key] = qs
	}
	qs.priority = priority
	return nil
}

// DeleteQueue marks key's queue pair as gone; further Push calls against
// it fail with ErrUnknownQueue. It does not close the underlying store;
// the ClearTimeoutQueues call that reaps the drained pair closes it.
func (m *Manager) DeleteQueue(key queue.QueueKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs, ok := m.queues[key]; ok {
		qs.mu.Lock()
		qs.deleted = true
		qs.mu.Unlock()
	}
}

func (m *Manager) get(key queue.QueueKey) (*queueState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[key]
	if !ok || qs.deleted {
		return nil, ErrUnknownQueue
	}
	return qs, nil
}

// PushProcessQueue enqueues item on key's Process Queue.
func (m *Manager) PushProcessQueue(key queue.QueueKey, item queue.ProcessQueueItem) error {
	qs, err := m.get(key)
	if err != nil {
		return err
	}
	return qs.process.Push(item)
}

// PushSenderQueue refuses if item.HashKey already has a send in flight,
// otherwise persists the Sending transition to key's checkpoint.Store
// before admitting the item — so a crash after this call returns cannot
// lose the fact that this range was handed to a sender.
func (m *Manager) PushSenderQueue(key queue.QueueKey, item *queue.SenderQueueItem) error {
	qs, err := m.get(key)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, inFlight := qs.sending[item.HashKey]; inFlight {
		return ErrAlreadySending
	}

	item.PipelineKey = key

	if err := qs.store.Persist(&checkpoint.RangeCheckpoint{
		HashKey:    item.HashKey,
		SequenceID: item.SequenceID,
		State:      checkpoint.StateSending,
	}); err != nil {
		return errors.Wrapf(err, "exactlyonce: persist sending for %s", item.HashKey)
	}

	qs.sending[item.HashKey] = item
	return nil
}

// OnAck persists item's checkpoint as Acked and releases its in-flight
// slot. Idempotent: acking an item whose HashKey is no longer tracked as
// sending (e.g. a duplicate ack) is a no-op. The owning queue is found
// via item.PipelineKey, which PushSenderQueue sets.
func (m *Manager) OnAck(item *queue.SenderQueueItem) {
	qs, err := m.get(item.PipelineKey)
	if err != nil {
		return
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, inFlight := qs.sending[item.HashKey]; !inFlight {
		level.Debug(m.logger).Log("msg", "ack for hash key with no in-flight send, ignoring", "hash_key", item.HashKey)
		return
	}
	delete(qs.sending, item.HashKey)

	if err := qs.store.Persist(&checkpoint.RangeCheckpoint{
		HashKey:    item.HashKey,
		SequenceID: item.SequenceID,
		State:      checkpoint.StateAcked,
	}); err != nil {
		level.Warn(m.logger).Log("msg", "failed to persist acked checkpoint", "hash_key", item.HashKey, "err", err)
	}
}

// OnNack releases item's in-flight slot. If permanent is false, the
// checkpoint reverts to Unsent so the caller can retry after retryAfter
// (the caller owns re-enqueuing onto the Process Queue; Manager only
// tracks checkpoint state here, not a retry timer). If permanent is
// true, the checkpoint is left Sending and checkpointStuck is raised —
// per the exactly-once contract, a stuck checkpoint must not silently
// revert to Unsent and risk a duplicate send once the root cause is
// fixed and the process restarts.
func (m *Manager) OnNack(item *queue.SenderQueueItem, retryAfter time.Duration, permanent bool) {
	qs, err := m.get(item.PipelineKey)
	if err != nil {
		return
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if permanent {
		if m.checkpointStuck != nil {
			m.checkpointStuck.Inc()
		}
		level.Warn(m.logger).Log("msg", "checkpoint stuck sending, needs operator intervention",
			"reason", metrics.ErrorReasonCheckpointStuck, "hash_key", item.HashKey)
		return
	}

	delete(qs.sending, item.HashKey)
	item.EarliestRetry = time.Now().Add(retryAfter)

	if err := qs.store.Persist(&checkpoint.RangeCheckpoint{
		HashKey:    item.HashKey,
		SequenceID: item.SequenceID,
		State:      checkpoint.StateUnsent,
	}); err != nil {
		level.Warn(m.logger).Log("msg", "failed to persist unsent checkpoint after nack", "hash_key", item.HashKey, "err", err)
	}
}

// ClearTimeoutQueues reaps any queue marked deleted whose Process Queue
// has fully drained and which has no send in flight, closing its
// checkpoint store and removing it from the manager.
func (m *Manager) ClearTimeoutQueues() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, qs := range m.queues {
		qs.mu.Lock()
		drained := qs.deleted && qs.process.Len() == 0 && len(qs.sending) == 0
		qs.mu.Unlock()

		if drained {
			if err := qs.store.Close(); err != nil {
				level.Warn(m.logger).Log("msg", "failed to close checkpoint store during reap", "err", err)
			}
			delete(m.queues, key)
		}
	}
}

// IsSending reports whether hashKey currently has an unacknowledged send
// in flight on key's queue. Exposed for tests and for callers deciding
// whether to skip re-reading a range already owned by a pending send.
func (m *Manager) IsSending(key queue.QueueKey, hashKey string) bool {
	qs, err := m.get(key)
	if err != nil {
		return false
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	_, ok := qs.sending[hashKey]
	return ok
}
