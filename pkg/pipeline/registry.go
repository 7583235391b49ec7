package pipeline

import (
	"sync"

	"github.com/hostcollector/agent/pkg/queue"
)

// Registry is the process-wide weak-reference table mapping a pipeline's
// QueueKey to its live *Pipeline. The Sender Queue subsystem only ever
// holds a QueueKey (SenderQueueItem.PipelineKey), never a pipeline
// pointer, so that a pipeline torn down by a reload can be garbage
// collected even while items it produced are still draining through the
// shared Sender Queue Manager; the dispatch loop resolves the owning
// pipeline through Lookup and treats a miss as a metric-only drop rather
// than an error.
type Registry struct {
	mu    sync.RWMutex
	byKey map[queue.QueueKey]*Pipeline
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[queue.QueueKey]*Pipeline)}
}

func (r *Registry) register(key queue.QueueKey, p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = p
}

func (r *Registry) unregister(key queue.QueueKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, key)
}

// Lookup resolves key to its owning Pipeline, if still registered.
func (r *Registry) Lookup(key queue.QueueKey) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key]
	return p, ok
}

// Len reports the number of currently registered pipelines, for tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
