package queue

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostcollector/agent/pkg/backoff"
)

// DeadLetterFunc is invoked for an item that has exhausted MaxAttempts.
// The default (set by NewSenderQueueManager) only increments a metric and
// logs; callers needing to persist dead-lettered payloads to disk supply
// their own.
type DeadLetterFunc func(item *SenderQueueItem, lastErr error)

// SenderQueueManagerOption configures a SenderQueueManager at construction.
type SenderQueueManagerOption func(*SenderQueueManager)

// WithMaxAttempts overrides the default retry ceiling before an item is
// dead-lettered.
func WithMaxAttempts(n int) SenderQueueManagerOption {
	return func(m *SenderQueueManager) { m.maxAttempts = n }
}

// WithBackoff overrides the default NACK retry schedule.
func WithBackoff(b backoff.Backoff) SenderQueueManagerOption {
	return func(m *SenderQueueManager) { m.backoff = b }
}

// WithDeadLetter overrides the default dead-letter handler.
func WithDeadLetter(f DeadLetterFunc) SenderQueueManagerOption {
	return func(m *SenderQueueManager) { m.deadLetter = f }
}

// WithInflightCap overrides the default global in-flight concurrency cap.
func WithInflightCap(n int) SenderQueueManagerOption {
	return func(m *SenderQueueManager) { m.inflightCap = n }
}

// SenderQueueManager multiplexes one SenderQueue per destination behind a
// single global in-flight concurrency cap, enforced by a buffered channel
// semaphore: Drain only returns as many items as it can acquire tokens
// for, and OnAck/OnNack/dead-lettering release the token.
type SenderQueueManager struct {
	mu    sync.Mutex
	byDst map[string]*SenderQueue

	inflightCap    int
	inflightTokens chan struct{}

	maxAttempts int
	backoff     backoff.Backoff
	deadLetter  DeadLetterFunc

	logger  log.Logger
	dropped prometheus.Counter
}

const defaultMaxAttempts = 8
const defaultInflightCap = 64

// NewSenderQueueManager creates a manager with the given defaults, applying
// any options over them.
func NewSenderQueueManager(logger log.Logger, droppedCounter prometheus.Counter, opts ...SenderQueueManagerOption) *SenderQueueManager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &SenderQueueManager{
		byDst:       make(map[string]*SenderQueue),
		inflightCap: defaultInflightCap,
		maxAttempts: defaultMaxAttempts,
		backoff:     backoff.Default,
		logger:      logger,
		dropped:     droppedCounter,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.inflightTokens = make(chan struct{}, m.inflightCap)
	if m.deadLetter == nil {
		m.deadLetter = m.defaultDeadLetter
	}
	return m
}

func (m *SenderQueueManager) defaultDeadLetter(item *SenderQueueItem, lastErr error) {
	if m.dropped != nil {
		m.dropped.Inc()
	}
	level.Warn(m.logger).Log(
		"msg", "sender item exceeded max attempts, dropping",
		"destination", item.Destination,
		"attempts", item.Attempt,
		"err", lastErr,
	)
}

// queueFor returns (creating if necessary) the SenderQueue for destination.
func (m *SenderQueueManager) queueFor(destination string, persistent bool) *SenderQueue {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.byDst[destination]
	if !ok {
		q = NewSenderQueue(destination, persistent)
		m.byDst[destination] = q
	}
	return q
}

// Push enqueues item on its destination's queue, creating the queue on
// first use.
func (m *SenderQueueManager) Push(item *SenderQueueItem, persistent bool) error {
	return m.queueFor(item.Destination, persistent).Push(item)
}

// Drain returns up to limit items across every destination that are both
// ready (EarliestRetry has passed) and within the global in-flight cap.
// Each returned item holds an in-flight token until OnAck, OnNack, or
// dead-lettering releases it.
func (m *SenderQueueManager) Drain(limit int) []*SenderQueueItem {
	m.mu.Lock()
	queues := make([]*SenderQueue, 0, len(m.byDst))
	for _, q := range m.byDst {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	now := time.Now()
	var out []*SenderQueueItem

	for _, q := range queues {
		for len(out) < limit {
			select {
			case m.inflightTokens <- struct{}{}:
			default:
				return out
			}

			item, ok := q.Pop()
			if !ok {
				<-m.inflightTokens
				break
			}
			if item.EarliestRetry.After(now) {
				q.PushFront(item)
				<-m.inflightTokens
				break
			}
			out = append(out, item)
		}
	}

	return out
}

// OnAck releases item's in-flight token. It must be called exactly once
// per item returned by Drain that is not also passed to OnNack.
func (m *SenderQueueManager) OnAck(item *SenderQueueItem) {
	m.release()
}

// OnNack releases item's in-flight token and either re-queues it at the
// head of its destination's queue with an incremented attempt count and a
// retryAfter-derived EarliestRetry, or dead-letters it once the
// incremented attempt count reaches MaxAttempts.
func (m *SenderQueueManager) OnNack(item *SenderQueueItem, retryAfter time.Duration) {
	defer m.release()

	item.Attempt++
	if item.Attempt >= m.maxAttempts {
		m.deadLetter(item, nil)
		return
	}

	if retryAfter <= 0 {
		retryAfter = m.backoff.Delay(item.Attempt)
	}
	item.EarliestRetry = time.Now().Add(retryAfter)

	m.queueFor(item.Destination, false).PushFront(item)
}

func (m *SenderQueueManager) release() {
	select {
	case <-m.inflightTokens:
	default:
	}
}

// Len reports the combined occupancy across every destination queue.
func (m *SenderQueueManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, q := range m.byDst {
		total += q.Len()
	}
	return total
}
