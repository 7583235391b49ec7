package pipeline

import "sync/atomic"

// State is one point in a Pipeline's lifecycle: Uninitialized ->
// Initialized -> Running -> Stopping -> Stopped, with Initialized also
// reachable directly from Stopped via a later Apply. Reload is accepted
// only while Running and does not change the state.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

func (h *stateHolder) store(s State) {
	h.v.Store(int32(s))
}

// compareAndSwap reports whether the transition from want to set
// succeeded; false means the state had already moved on (a concurrent
// Stop racing a Reload, for instance).
func (h *stateHolder) compareAndSwap(want, set State) bool {
	return h.v.CompareAndSwap(int32(want), int32(set))
}
