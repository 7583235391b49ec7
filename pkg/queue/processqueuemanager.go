package queue

import (
	"context"
	"sync"
	"time"
)

type trackedQueue struct {
	key       QueueKey
	priority  int
	q         *ProcessQueue
	deletedAt time.Time
}

func (t *trackedQueue) isDeleted() bool {
	return !t.deletedAt.IsZero()
}

// ProcessQueueManager multiplexes every Process Queue in a running agent
// behind one consumer loop. Queues are grouped into priority tiers
// `[0..maxPriority]` (0 is served first); within a tier, queues are served
// round robin via a per-tier cursor that always advances, so a
// permanently-empty queue cannot park the cursor and starve its
// tier-mates.
type ProcessQueueManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxPriority  int
	tiers        [][]*trackedQueue
	cursor       []int
	byKey        map[QueueKey]*trackedQueue
	gracePeriods map[QueueKey]time.Duration

	// agingThreshold is 0 unless WithAging was supplied: strict priority
	// is preserved by default (an explicit Open Question decision — see
	// DESIGN.md), with no default aging.
	agingThreshold time.Duration
}

// ManagerOption configures a ProcessQueueManager at construction.
type ManagerOption func(*ProcessQueueManager)

// WithAging opts into starvation prevention: scanLocked first looks for
// any queue (at any priority) whose head item has waited at least
// threshold, and serves it ahead of strict priority order if found. This
// is off by default; most deployments should rely on priority alone and
// size higher tiers generously enough that lower tiers still get served
// in practice.
func WithAging(threshold time.Duration) ManagerOption {
	return func(m *ProcessQueueManager) { m.agingThreshold = threshold }
}

// NewProcessQueueManager creates a manager with priority tiers
// `0..maxPriority` inclusive.
func NewProcessQueueManager(maxPriority int, opts ...ManagerOption) *ProcessQueueManager {
	if maxPriority < 0 {
		maxPriority = 0
	}
	m := &ProcessQueueManager{
		maxPriority:  maxPriority,
		tiers:        make([][]*trackedQueue, maxPriority+1),
		cursor:       make([]int, maxPriority+1),
		byKey:        make(map[QueueKey]*trackedQueue),
		gracePeriods: make(map[QueueKey]time.Duration),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func clampPriority(p, max int) int {
	if p < 0 {
		return 0
	}
	if p > max {
		return max
	}
	return p
}

// queueWatermarks derives low/high watermarks from capacity: a queue is
// reported full to its Input's feedback at 3/4 occupancy and clear again
// at 1/4, giving headroom on both sides of the swing instead of
// oscillating right at the edges.
func queueWatermarks(capacity int) (low, high int) {
	high = capacity - capacity/4
	if high < 1 {
		high = capacity
	}
	low = capacity / 4
	return low, high
}

// CreateOrUpdate returns the ProcessQueue bound to key, creating it (and
// minting its tier membership) on first call. A later call with a
// different priority moves the existing queue to the new tier without
// losing buffered items; a later call is otherwise a no-op on the
// existing queue — capacity is fixed at creation, matching the "queues
// are reused when key and capacity match" reload rule: a capacity change
// is treated as a new logical queue by the caller, which should Delete
// the old key and CreateOrUpdate a fresh one.
func (m *ProcessQueueManager) CreateOrUpdate(key QueueKey, priority int, capacity int) *ProcessQueue {
	priority = clampPriority(priority, m.maxPriority)

	m.mu.Lock()
	defer m.mu.Unlock()

	if tq, ok := m.byKey[key]; ok {
		tq.deletedAt = time.Time{}
		if tq.priority != priority {
			m.removeFromTier(tq)
			tq.priority = priority
			m.tiers[priority] = append(m.tiers[priority], tq)
		}
		m.cond.Broadcast()
		return tq.q
	}

	low, high := queueWatermarks(capacity)
	pq := NewProcessQueue(key, capacity, low, high)
	tq := &trackedQueue{key: key, priority: priority, q: pq}
	m.tiers[priority] = append(m.tiers[priority], tq)
	m.byKey[key] = tq

	m.cond.Broadcast()
	return pq
}

// caller must hold m.mu.
func (m *ProcessQueueManager) removeFromTier(tq *trackedQueue) {
	tier := m.tiers[tq.priority]
	for i, cand := range tier {
		if cand == tq {
			m.tiers[tq.priority] = append(tier[:i], tier[i+1:]...)
			if m.cursor[tq.priority] > i {
				m.cursor[tq.priority]--
			}
			return
		}
	}
}

// Delete marks key for removal and closes the queue to further pushes.
// Next keeps serving whatever the queue still holds until a ReapDeleted
// call unlinks it, which happens only once grace has elapsed since Delete
// was called and the queue is empty. A grace of 0 makes an empty queue
// eligible for the next ReapDeleted call.
func (m *ProcessQueueManager) Delete(key QueueKey, grace time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tq, ok := m.byKey[key]
	if !ok {
		return
	}
	tq.deletedAt = time.Now()
	tq.q.Close()
	m.gracePeriods[key] = grace
	m.cond.Broadcast()
}

// ReapDeleted permanently removes queues whose grace period (set by
// Delete) has elapsed and which have fully drained. Queues that still
// have buffered items are left in place so Next continues to serve them
// during the grace window even though they are Closed to new pushes.
func (m *ProcessQueueManager) ReapDeleted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, tq := range m.byKey {
		if !tq.isDeleted() {
			continue
		}
		grace := m.gracePeriods[key]
		if now.Sub(tq.deletedAt) < grace {
			continue
		}
		if tq.q.Len() > 0 {
			continue
		}
		m.removeFromTier(tq)
		delete(m.byKey, key)
		delete(m.gracePeriods, key)
	}
}

// Next blocks until an item is available across every tracked queue or
// ctx is cancelled. CreateOrUpdate and Delete wake it at once; a Push or
// EnablePop on a ProcessQueue does not signal the manager, so Next also
// rescans every 10ms and picks such an item up within that interval.
// Unless WithAging is set it honors strict priority: tier 0 is drained
// before tier 1 is even considered, every call.
func (m *ProcessQueueManager) Next(ctx context.Context) (QueueKey, ProcessQueueItem, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
				return
			case <-ticker.C:
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if key, item, ok := m.scanLocked(); ok {
			return key, item, true
		}
		if ctx.Err() != nil {
			return 0, ProcessQueueItem{}, false
		}
		m.cond.Wait()
	}
}

// caller must hold m.mu.
func (m *ProcessQueueManager) scanLocked() (QueueKey, ProcessQueueItem, bool) {
	if m.agingThreshold > 0 {
		if key, item, ok := m.agedLocked(); ok {
			return key, item, true
		}
	}

	for p := 0; p <= m.maxPriority; p++ {
		tier := m.tiers[p]
		n := len(tier)
		if n == 0 {
			continue
		}
		start := m.cursor[p] % n
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			tq := tier[idx]
			m.cursor[p] = (idx + 1) % n

			if tq.q.PopDisabled() {
				continue
			}
			if item, ok := tq.q.Pop(); ok {
				return tq.key, item, true
			}
		}
	}
	return 0, ProcessQueueItem{}, false
}

// caller must hold m.mu. agedLocked looks across every tier (lowest
// priority number first, so a tie between two starved queues still
// favors the more important one) for a queue whose head item has waited
// at least agingThreshold, popping and returning the first one found.
func (m *ProcessQueueManager) agedLocked() (QueueKey, ProcessQueueItem, bool) {
	now := time.Now()
	for p := 0; p <= m.maxPriority; p++ {
		for _, tq := range m.tiers[p] {
			if tq.q.PopDisabled() {
				continue
			}
			head, ok := tq.q.PeekHead()
			if !ok || now.Sub(head.ReceivedAt) < m.agingThreshold {
				continue
			}
			if item, ok := tq.q.Pop(); ok {
				return tq.key, item, true
			}
		}
	}
	return 0, ProcessQueueItem{}, false
}
