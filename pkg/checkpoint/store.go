package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joncrlsn/dque"
)

// compactionThreshold is the acked-fraction of distinct hash keys beyond
// which Persist triggers a rewrite-compact pass, matching the 50% rule of
// the checkpoint file format.
const compactionThreshold = 0.5

func checkpointBuilder() interface{} {
	return &RangeCheckpoint{}
}

// Store is the durable, append-mostly journal of RangeCheckpoints for one
// exactly-once queue, backed by the same joncrlsn/dque segment-file
// mechanism used elsewhere in this codebase for persistent queues. Each
// Persist call is a new length-prefixed record appended to the journal;
// Open replays the journal into an in-memory map of latest-state-per-key
// and compacts the on-disk journal down to that latest state, so restart
// time is bounded by distinct hash keys, not total history.
type Store struct {
	mu    sync.Mutex
	q     *dque.DQue
	state map[string]*RangeCheckpoint

	appendedSinceCompaction int
}

// Open opens (creating if necessary) the journal at dir/name and replays
// it into memory, returning the Store plus the set of checkpoints found in
// StateSending — these represent sends that were persisted as in-flight
// before the process stopped and must be retried, not forgotten.
func Open(dir, name string, segmentSize int) (*Store, []*RangeCheckpoint, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("checkpoint: create dir %s: %w", dir, err)
	}

	q, err := dque.NewOrOpen(name, dir, segmentSize, checkpointBuilder)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: open journal %s/%s: %w", dir, name, err)
	}

	s := &Store{q: q, state: make(map[string]*RangeCheckpoint)}

	for {
		v, err := q.Dequeue()
		if errors.Is(err, dque.ErrEmpty) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint: replay %s/%s: %w", dir, name, err)
		}
		cp, ok := v.(*RangeCheckpoint)
		if !ok {
			continue
		}
		s.state[cp.HashKey] = cp
	}

	var sending []*RangeCheckpoint
	for _, cp := range s.state {
		if err := s.q.Enqueue(cp.Clone()); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: compact on open: %w", err)
		}
		if cp.State == StateSending {
			sending = append(sending, cp.Clone())
		}
	}

	return s, sending, nil
}

// Persist durably appends cp as the new state for its HashKey, fsync'd
// (via dque, which flushes each Enqueue to its segment file) before
// returning, so a crash immediately after Persist cannot lose the
// transition. It then updates the in-memory view and, if the journal's
// acked fraction has crossed compactionThreshold, compacts it.
func (s *Store) Persist(cp *RangeCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cp.Clone()
	if err := s.q.Enqueue(clone); err != nil {
		return fmt.Errorf("checkpoint: persist %s: %w", cp.HashKey, err)
	}
	s.state[cp.HashKey] = clone
	s.appendedSinceCompaction++

	if s.shouldCompactLocked() {
		return s.compactLocked()
	}
	return nil
}

// Get returns the current checkpoint for hashKey, or nil if none exists.
func (s *Store) Get(hashKey string) *RangeCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.state[hashKey]
	if !ok {
		return nil
	}
	return cp.Clone()
}

// Snapshot returns every tracked checkpoint.
func (s *Store) Snapshot() []*RangeCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RangeCheckpoint, 0, len(s.state))
	for _, cp := range s.state {
		out = append(out, cp.Clone())
	}
	return out
}

// caller must hold s.mu.
func (s *Store) shouldCompactLocked() bool {
	if len(s.state) == 0 {
		return false
	}
	acked := 0
	for _, cp := range s.state {
		if cp.State == StateAcked {
			acked++
		}
	}
	return float64(acked)/float64(len(s.state)) > compactionThreshold
}

// caller must hold s.mu. Drains the journal entirely (which at this point
// holds every append, including stale superseded ones) and rewrites it
// with exactly one record per hash key: its latest known state.
func (s *Store) compactLocked() error {
	for {
		_, err := s.q.Dequeue()
		if errors.Is(err, dque.ErrEmpty) {
			break
		}
		if err != nil {
			return fmt.Errorf("checkpoint: compact drain: %w", err)
		}
	}
	for _, cp := range s.state {
		if err := s.q.Enqueue(cp.Clone()); err != nil {
			return fmt.Errorf("checkpoint: compact rewrite: %w", err)
		}
	}
	s.appendedSinceCompaction = 0
	return nil
}

// Close releases the journal's file handles.
func (s *Store) Close() error {
	return s.q.Close()
}
