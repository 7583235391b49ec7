// Package batch implements the Timeout Flush Manager: a single process-
// wide registry of batches that should be force-flushed once they have
// gone too long without a new event, independent of size-based batching
// done inside each flusher.
package batch

import (
	"sync"
	"time"
)

// BatchFlusher is the callback surface a timeout record flushes through.
// It is intentionally narrower than the Flusher plugin interface: the
// Timeout Flush Manager only ever needs to tell a flusher "your batch for
// this key is due," never to configure or serialize it.
type BatchFlusher interface {
	FlushBatch(batchKey string)
}

type recordKey struct {
	flusherIndex int
	batchKey     string
}

type record struct {
	flusher   BatchFlusher
	timeout   time.Duration
	updatedAt time.Time
}

func (r *record) due(now time.Time) bool {
	return r.timeout <= 0 || now.Sub(r.updatedAt) >= r.timeout
}

// TimeoutFlushManager tracks, per pipeline config, one record per
// (flusherIndex, batchKey) pair. FlushTimeoutBatch is expected to be
// called periodically (e.g. once a second) by the pipeline runtime.
type TimeoutFlushManager struct {
	mu      sync.Mutex
	records map[string]map[recordKey]*record

	// deferred holds flushers removed by UnregisterFlushers: they are
	// flushed exactly once more on the next FlushTimeoutBatch tick (to
	// emit whatever they were still holding) and then forgotten, rather
	// than being flushed immediately under the caller's lock.
	deferred []BatchFlusher
}

// NewTimeoutFlushManager creates an empty manager.
func NewTimeoutFlushManager() *TimeoutFlushManager {
	return &TimeoutFlushManager{records: make(map[string]map[recordKey]*record)}
}

// UpdateRecord records that configName's flusher at flusherIndex has a
// live batch under batchKey with the given timeout, refreshing its
// update time. A timeout of 0 marks the batch for unconditional flush on
// the next tick (the immediate-flush path used by flushers that batch
// purely by size and want timeout enforcement disabled).
func (m *TimeoutFlushManager) UpdateRecord(configName string, flusherIndex int, batchKey string, timeout time.Duration, flusher BatchFlusher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.records[configName]
	if !ok {
		cfg = make(map[recordKey]*record)
		m.records[configName] = cfg
	}

	key := recordKey{flusherIndex: flusherIndex, batchKey: batchKey}
	r, ok := cfg[key]
	if !ok {
		r = &record{flusher: flusher, timeout: timeout}
		cfg[key] = r
	}
	r.timeout = timeout
	r.flusher = flusher
	r.updatedAt = time.Now()
}

// FlushTimeoutBatch snapshots every due record (and every deferred
// flusher left by a prior UnregisterFlushers call) under the mutex, then
// releases it before calling FlushBatch, so a flusher's FlushBatch
// implementation is free to call back into UpdateRecord (e.g. to arm the
// next batch) without deadlocking.
func (m *TimeoutFlushManager) FlushTimeoutBatch(now time.Time) {
	type due struct {
		flusher  BatchFlusher
		batchKey string
	}

	m.mu.Lock()
	var dueNow []due
	for configName, cfg := range m.records {
		for key, r := range cfg {
			if r.due(now) {
				dueNow = append(dueNow, due{flusher: r.flusher, batchKey: key.batchKey})
				delete(cfg, key)
			}
		}
		if len(cfg) == 0 {
			delete(m.records, configName)
		}
	}
	deferredNow := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, d := range dueNow {
		d.flusher.FlushBatch(d.batchKey)
	}
	for _, f := range deferredNow {
		f.FlushBatch("")
	}
}

// UnregisterFlushers removes every record belonging to configName whose
// flusher is in flushers, moving them to a deferred slot that survives
// exactly one more FlushTimeoutBatch tick — giving each flusher one last
// chance to emit whatever it was still holding before the pipeline that
// owns it is torn down.
func (m *TimeoutFlushManager) UnregisterFlushers(configName string, flushers []BatchFlusher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removing := make(map[BatchFlusher]struct{}, len(flushers))
	for _, f := range flushers {
		removing[f] = struct{}{}
	}

	cfg, ok := m.records[configName]
	if !ok {
		return
	}

	queued := make(map[BatchFlusher]struct{}, len(m.deferred))
	for _, f := range m.deferred {
		queued[f] = struct{}{}
	}
	for key, r := range cfg {
		if _, match := removing[r.flusher]; match {
			if _, dup := queued[r.flusher]; !dup {
				queued[r.flusher] = struct{}{}
				m.deferred = append(m.deferred, r.flusher)
			}
			delete(cfg, key)
		}
	}
	if len(cfg) == 0 {
		delete(m.records, configName)
	}
}

// Len reports the total number of live records across every config, for
// tests and diagnostics.
func (m *TimeoutFlushManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, cfg := range m.records {
		total += len(cfg)
	}
	return total
}
