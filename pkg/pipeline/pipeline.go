// Package pipeline implements the Collection Pipeline: the component
// that binds one applied configuration to its instantiated Input,
// Processor, and Flusher plugins, the Process Queue they share, and the
// worker goroutines that move an event.Group from Input to Flusher.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostcollector/agent/pkg/batch"
	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/metrics"
	"github.com/hostcollector/agent/pkg/plugin"
	"github.com/hostcollector/agent/pkg/queue"
)

// ErrWrongState is returned by a lifecycle method called from a State it
// does not support (e.g. Start from Stopped, Reload from Initialized).
var ErrWrongState = errors.New("pipeline: operation not valid in current state")

const (
	senderWorkersPerPipeline = 1
	senderDrainBatch         = 32
	senderPollInterval       = 50 * time.Millisecond
	defaultStopGrace         = 5 * time.Second
)

type instanceState struct {
	inst plugin.Instance
	spec PluginSpec
	hash string
}

// Deps bundles the process-wide collaborators a Pipeline needs. All of
// them are constructed once (typically in cmd/agent) and shared by every
// Pipeline in the process; pkg/pipeline never constructs its own
// Registry, ProcessQueueManager, SenderQueueManager, metrics.Manager, or
// TimeoutFlushManager.
type Deps struct {
	Logger log.Logger

	PluginRegistry      *plugin.Registry
	ProcessQueueManager *queue.ProcessQueueManager
	SenderQueueManager  *queue.SenderQueueManager
	Metrics             *metrics.Manager
	TimeoutFlush        *batch.TimeoutFlushManager
	Pipelines           *Registry

	// WeakRefDrops counts SenderQueueItems whose owning pipeline could no
	// longer be resolved through Pipelines.Lookup by the time a shared
	// sender worker drained them — expected during a reload/stop race,
	// fatal only if it climbs without bound. May be nil.
	WeakRefDrops prometheus.Counter

	// OutKeyNotFoundDrops counts SenderQueueItems whose owning pipeline
	// resolved but whose Destination no longer matched any live flusher
	// instance — the outKeyNotFoundEventsTotal case where the item's
	// target plugin was torn down by a Reload between Serialize and
	// Send. Tracked process-wide rather than per-instance since, by
	// definition, no instance can be attributed once the key is gone.
	// May be nil.
	OutKeyNotFoundDrops prometheus.Counter
}

// Pipeline binds one applied Config to its running plugin instances. The
// zero value is not usable; construct with New.
type Pipeline struct {
	deps Deps
	name string

	state stateHolder
	mu    sync.Mutex // serializes Apply/Start/Stop/Reload

	pqMu sync.RWMutex
	key  queue.QueueKey
	pq   *queue.ProcessQueue

	cfg Config

	instMu     sync.RWMutex
	inputs     []*instanceState
	processors []*instanceState
	flushers   []*instanceState
	destIndex  map[string]*instanceState

	inflightMu sync.Mutex
	inflight   int64 // count of SenderQueueItems pushed by this pipeline not yet acked/nacked-terminal

	workerCtx    context.Context
	workerCancel context.CancelFunc
	wg           sync.WaitGroup
}

// New creates an unapplied Pipeline identified by name for diagnostics
// and as the Config-name label on its plugins' metrics.
func New(name string, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	return &Pipeline{name: name, deps: deps}
}

// Name returns the pipeline's configured name.
func (p *Pipeline) Name() string { return p.name }

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() State { return p.state.load() }

// Key returns the QueueKey of this pipeline's Process Queue. Only valid
// once Apply has succeeded.
func (p *Pipeline) Key() queue.QueueKey {
	p.pqMu.RLock()
	defer p.pqMu.RUnlock()
	return p.key
}

// push is bound to every Input's Meta.Push at construction. It reads the
// current Process Queue under pqMu rather than closing over a fixed
// *queue.ProcessQueue, so a Reload that swaps the queue (a capacity
// change) does not orphan an Input created before the swap.
func (p *Pipeline) push(group *event.Group) error {
	p.pqMu.RLock()
	pq := p.pq
	priority := p.cfg.Priority
	p.pqMu.RUnlock()

	return pq.Push(queue.ProcessQueueItem{
		Group:      group,
		ReceivedAt: time.Now(),
		Priority:   priority,
	})
}

// Apply builds and registers every plugin named in cfg and creates this
// pipeline's Process Queue, moving it from Uninitialized (or a fully
// Stopped prior config) to Initialized. It does not start anything.
func (p *Pipeline) Apply(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.load() {
	case StateUninitialized, StateStopped:
	default:
		return errors.Wrapf(ErrWrongState, "apply from %s", p.state.load())
	}

	inputs, err := p.reconcile(nil, cfg.Inputs, plugin.CategoryInput, cfg.Name)
	if err != nil {
		return err
	}
	processors, err := p.reconcile(nil, cfg.Processors, plugin.CategoryProcessor, cfg.Name)
	if err != nil {
		p.teardownInstances(inputs)
		return err
	}
	flushers, err := p.reconcile(nil, cfg.Flushers, plugin.CategoryFlusher, cfg.Name)
	if err != nil {
		p.teardownInstances(inputs)
		p.teardownInstances(processors)
		return err
	}

	key := queue.NextQueueKey()
	pq := p.deps.ProcessQueueManager.CreateOrUpdate(key, cfg.Priority, cfg.ProcessQueueCapacity)

	p.pqMu.Lock()
	p.key, p.pq = key, pq
	p.pqMu.Unlock()

	p.instMu.Lock()
	p.inputs, p.processors, p.flushers = inputs, processors, flushers
	p.destIndex = buildDestIndex(p.name, flushers)
	p.instMu.Unlock()

	if cfg.ProcessorWorkers <= 0 {
		cfg.ProcessorWorkers = runtime.NumCPU()
	}
	p.cfg = cfg
	p.state.store(StateInitialized)
	return nil
}

func buildDestIndex(pipelineName string, flushers []*instanceState) map[string]*instanceState {
	idx := make(map[string]*instanceState, len(flushers))
	for _, f := range flushers {
		idx[destinationFor(pipelineName, f.inst.Meta.ID)] = f
	}
	return idx
}

func destinationFor(pipelineName, pluginID string) string {
	return pipelineName + "/" + pluginID
}

// Start launches every Input and the pipeline's processor/sender worker
// goroutines, moving Initialized to Running. ctx governs the lifetime of
// those goroutines; it is not the context passed to Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.compareAndSwap(StateInitialized, StateRunning) {
		return errors.Wrapf(ErrWrongState, "start from %s", p.state.load())
	}

	p.workerCtx, p.workerCancel = context.WithCancel(ctx)
	p.deps.Pipelines.register(p.Key(), p)

	p.instMu.RLock()
	inputs := append([]*instanceState(nil), p.inputs...)
	flushers := append([]*instanceState(nil), p.flushers...)
	p.instMu.RUnlock()

	for _, in := range inputs {
		input, _ := in.inst.AsInput()
		if err := input.Start(p.workerCtx); err != nil {
			level.Error(p.deps.Logger).Log("msg", "input failed to start", "pipeline", p.name, "plugin", in.inst.Meta.ID, "err", err)
		}
	}
	for _, fs := range flushers {
		fl, _ := fs.inst.AsFlusher()
		if err := fl.Start(); err != nil {
			level.Error(p.deps.Logger).Log("msg", "flusher failed to start", "pipeline", p.name, "plugin", fs.inst.Meta.ID, "err", err)
		}
	}

	workers := p.cfg.ProcessorWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.processorWorker()
	}
	for i := 0; i < senderWorkersPerPipeline; i++ {
		p.wg.Add(1)
		go p.senderWorker()
	}

	return nil
}

// processorWorker pulls from the shared ProcessQueueManager — which
// multiplexes every currently-running pipeline's queue — and resolves
// the owning pipeline through Pipelines.Lookup before touching it, since
// the item it receives on any given iteration need not belong to this
// Pipeline at all. A lookup miss means the owning pipeline was torn down
// between the item being queued and being scheduled; it is dropped.
func (p *Pipeline) processorWorker() {
	defer p.wg.Done()
	for {
		key, item, ok := p.deps.ProcessQueueManager.Next(p.workerCtx)
		if !ok {
			return
		}
		owner, ok := p.deps.Pipelines.Lookup(key)
		if !ok {
			continue
		}
		owner.runProcessorChain(item)
	}
}

func (p *Pipeline) runProcessorChain(item queue.ProcessQueueItem) {
	group := item.Group

	p.instMu.RLock()
	processors := append([]*instanceState(nil), p.processors...)
	flushers := append([]*instanceState(nil), p.flushers...)
	p.instMu.RUnlock()

	for _, ps := range processors {
		proc, ok := ps.inst.AsProcessor()
		if !ok {
			continue
		}
		before := group.Len()
		if ps.inst.Metrics.InEvents != nil {
			ps.inst.Metrics.InEvents.Add(float64(before))
		}
		start := time.Now()
		proc.Process(group)
		recordProcessTime(ps.inst.Metrics, start)
		if dropped := before - group.Len(); dropped > 0 && ps.inst.Metrics.DiscardedEvents != nil {
			ps.inst.Metrics.DiscardedEvents.Add(float64(dropped))
		}
		if group.Len() == 0 {
			return
		}
	}

	for _, fs := range flushers {
		fl, ok := fs.inst.AsFlusher()
		if !ok {
			continue
		}
		start := time.Now()
		sendItem, err := fl.Serialize(group)
		recordProcessTime(fs.inst.Metrics, start)
		if err != nil {
			if fs.inst.Metrics.DiscardedEvents != nil {
				fs.inst.Metrics.DiscardedEvents.Add(float64(group.Len()))
			}
			level.Warn(p.deps.Logger).Log("msg", "flusher failed to serialize group", "pipeline", p.name, "plugin", fs.inst.Meta.ID, "err", err)
			continue
		}
		sendItem.PipelineKey = p.Key()
		sendItem.Destination = destinationFor(p.name, fs.inst.Meta.ID)
		if fs.inst.Metrics.OutSizeBytes != nil {
			fs.inst.Metrics.OutSizeBytes.Add(float64(len(sendItem.Payload)))
		}

		if err := p.deps.SenderQueueManager.Push(sendItem, true); err != nil {
			level.Warn(p.deps.Logger).Log("msg", "sender queue rejected item", "pipeline", p.name, "plugin", fs.inst.Meta.ID, "err", err)
			continue
		}
		p.incInflight(1)
		if fs.inst.Metrics.OutEvents != nil {
			fs.inst.Metrics.OutEvents.Inc()
		}
	}
}

// recordProcessTime adds the elapsed time since start, in milliseconds,
// to m's TotalProcessTimeMs counter and observes it in the latency
// histogram — the counter matches spec §6's totalProcessTimeMs naming,
// the histogram exists alongside it for percentile queries.
func recordProcessTime(m plugin.InstanceMetrics, start time.Time) {
	elapsed := time.Since(start)
	if m.TotalProcessTimeMs != nil {
		m.TotalProcessTimeMs.Add(float64(elapsed.Milliseconds()))
	}
	if m.Latency != nil {
		m.Latency.Observe(elapsed.Seconds())
	}
}

// senderWorker drains the shared SenderQueueManager and resolves each
// item's destination back to a live Flusher through its owning
// Pipeline, same weak-reference pattern as processorWorker.
func (p *Pipeline) senderWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.workerCtx.Done():
			return
		default:
		}

		items := p.deps.SenderQueueManager.Drain(senderDrainBatch)
		if len(items) == 0 {
			select {
			case <-p.workerCtx.Done():
				return
			case <-time.After(senderPollInterval):
			}
			continue
		}

		for _, item := range items {
			p.dispatchSend(item)
		}
	}
}

func (p *Pipeline) dispatchSend(item *queue.SenderQueueItem) {
	owner, ok := p.deps.Pipelines.Lookup(item.PipelineKey)
	if !ok {
		if p.deps.WeakRefDrops != nil {
			p.deps.WeakRefDrops.Inc()
		}
		p.deps.SenderQueueManager.OnAck(item)
		return
	}

	owner.instMu.RLock()
	fs, ok := owner.destIndex[item.Destination]
	owner.instMu.RUnlock()
	if !ok {
		if p.deps.OutKeyNotFoundDrops != nil {
			p.deps.OutKeyNotFoundDrops.Inc()
		}
		p.deps.SenderQueueManager.OnAck(item)
		owner.decInflight(1)
		return
	}

	fl, _ := fs.inst.AsFlusher()
	res := fl.Send(owner.workerCtx, item)
	switch res.Status {
	case plugin.SendOK:
		p.deps.SenderQueueManager.OnAck(item)
		owner.decInflight(1)
	case plugin.SendRetry:
		if fs.inst.Metrics.OutFailedEvents != nil {
			fs.inst.Metrics.OutFailedEvents.Inc()
		}
		p.deps.SenderQueueManager.OnNack(item, res.RetryAfter)
	case plugin.SendPermanentFailure:
		if fs.inst.Metrics.OutFailedEvents != nil {
			fs.inst.Metrics.OutFailedEvents.Inc()
		}
		level.Warn(p.deps.Logger).Log("msg", "flusher reported permanent failure", "pipeline", owner.name, "plugin", fs.inst.Meta.ID, "err", res.Err)
		p.deps.SenderQueueManager.OnAck(item)
		owner.decInflight(1)
	}
}

func (p *Pipeline) incInflight(n int64) {
	p.inflightMu.Lock()
	p.inflight += n
	p.inflightMu.Unlock()
}

func (p *Pipeline) decInflight(n int64) {
	p.inflightMu.Lock()
	p.inflight -= n
	p.inflightMu.Unlock()
}

func (p *Pipeline) Inflight() int64 {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	return p.inflight
}

// Stop transitions Running to Stopping, lets both queues drain until
// empty or ctx is done, then tears every plugin down and transitions to
// Stopped. Calling Stop on an already-Stopped pipeline is a no-op; on an
// Initialized (applied but never started) pipeline it moves straight to
// Stopped; on an Uninitialized one it returns ErrWrongState.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.load() {
	case StateStopped:
		return nil
	case StateInitialized:
		p.state.store(StateStopped)
		return nil
	case StateRunning:
		p.state.store(StateStopping)
	default:
		return errors.Wrapf(ErrWrongState, "stop from %s", p.state.load())
	}

	p.instMu.RLock()
	inputs := append([]*instanceState(nil), p.inputs...)
	p.instMu.RUnlock()
	for _, in := range inputs {
		input, _ := in.inst.AsInput()
		if err := input.Stop(); err != nil {
			level.Error(p.deps.Logger).Log("msg", "input failed to stop", "pipeline", p.name, "plugin", in.inst.Meta.ID, "err", err)
		}
	}
	p.pqMu.RLock()
	p.pq.Close()
	p.pqMu.RUnlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultStopGrace)
	}
drainWait:
	for time.Now().Before(deadline) {
		p.pqMu.RLock()
		drained := p.pq.Len() == 0 && p.Inflight() == 0
		p.pqMu.RUnlock()
		if drained {
			break
		}
		select {
		case <-ctx.Done():
			break drainWait
		case <-time.After(10 * time.Millisecond):
		}
	}

	p.deps.Pipelines.unregister(p.Key())
	if p.workerCancel != nil {
		p.workerCancel()
	}
	p.wg.Wait()

	p.instMu.RLock()
	flushers := append([]*instanceState(nil), p.flushers...)
	p.instMu.RUnlock()

	p.teardownInstances(inputs)
	p.teardownInstances(p.processors)
	p.teardownInstances(flushers)

	var batchFlushers []batch.BatchFlusher
	for _, fs := range flushers {
		if bf, ok := fs.inst.Plugin.(batch.BatchFlusher); ok {
			batchFlushers = append(batchFlushers, bf)
		}
	}
	p.deps.TimeoutFlush.UnregisterFlushers(p.name, batchFlushers)

	p.deps.ProcessQueueManager.Delete(p.Key(), 0)

	p.state.store(StateStopped)
	return nil
}

// teardownInstances stops every Flusher/Input in states (Processors have
// no lifecycle method to call) and releases its metrics and singleton
// slot. Errors are logged, never returned — teardown must make forward
// progress even if a plugin misbehaves on Stop.
func (p *Pipeline) teardownInstances(states []*instanceState) {
	for _, st := range states {
		switch v := st.inst.Plugin.(type) {
		case plugin.Flusher:
			if err := v.Stop(); err != nil {
				level.Error(p.deps.Logger).Log("msg", "flusher failed to stop", "pipeline", p.name, "plugin", st.inst.Meta.ID, "err", err)
			}
		case plugin.Input:
			// Stop is documented idempotent, so calling it again here for
			// an Input already stopped by Pipeline.Stop's explicit loop
			// (or never started at all, on an Apply rollback) is safe.
			if err := v.Stop(); err != nil {
				level.Error(p.deps.Logger).Log("msg", "input failed to stop", "pipeline", p.name, "plugin", st.inst.Meta.ID, "err", err)
			}
		}
		if sp, ok := st.inst.Plugin.(plugin.SingletonInput); ok && sp.IsGlobalSingleton() {
			p.deps.PluginRegistry.ReleaseSingleton(st.inst.Meta.TypeName)
		}
		p.deps.Metrics.Release(p.name, st.inst.Meta.Category, st.inst.Meta.TypeName, st.inst.Meta.ID)
	}
}

// Reload diff-applies cfg against the currently running configuration:
// plugin slots whose type name and raw config bytes are unchanged
// survive untouched; every other slot is stopped and replaced. The
// Process Queue is reused in place when its capacity is unchanged
// (preserving in-flight items); a capacity change mints a fresh queue
// under a new key, which is the "a capacity change is a new logical
// queue" rule from ProcessQueueManager.CreateOrUpdate.
func (p *Pipeline) Reload(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.load() != StateRunning {
		return errors.Wrapf(ErrWrongState, "reload from %s", p.state.load())
	}

	p.instMu.Lock()
	oldInputs, oldProcessors, oldFlushers := p.inputs, p.processors, p.flushers
	p.instMu.Unlock()

	newInputs, err := p.reconcile(oldInputs, cfg.Inputs, plugin.CategoryInput, cfg.Name)
	if err != nil {
		return err
	}
	newProcessors, err := p.reconcile(oldProcessors, cfg.Processors, plugin.CategoryProcessor, cfg.Name)
	if err != nil {
		return err
	}
	newFlushers, err := p.reconcile(oldFlushers, cfg.Flushers, plugin.CategoryFlusher, cfg.Name)
	if err != nil {
		return err
	}

	for _, in := range newInputs {
		if isNewInstance(oldInputs, in) {
			input, _ := in.inst.AsInput()
			if err := input.Start(p.workerCtx); err != nil {
				level.Error(p.deps.Logger).Log("msg", "input failed to start on reload", "pipeline", p.name, "plugin", in.inst.Meta.ID, "err", err)
			}
		}
	}
	for _, fs := range newFlushers {
		if isNewInstance(oldFlushers, fs) {
			fl, _ := fs.inst.AsFlusher()
			if err := fl.Start(); err != nil {
				level.Error(p.deps.Logger).Log("msg", "flusher failed to start on reload", "pipeline", p.name, "plugin", fs.inst.Meta.ID, "err", err)
			}
		}
	}

	if cfg.ProcessQueueCapacity != p.cfg.ProcessQueueCapacity {
		oldKey := p.Key()
		newKey := queue.NextQueueKey()
		newPQ := p.deps.ProcessQueueManager.CreateOrUpdate(newKey, cfg.Priority, cfg.ProcessQueueCapacity)

		p.pqMu.Lock()
		p.key, p.pq = newKey, newPQ
		p.pqMu.Unlock()

		p.deps.Pipelines.unregister(oldKey)
		p.deps.Pipelines.register(newKey, p)
		p.deps.ProcessQueueManager.Delete(oldKey, 0)
	} else {
		p.deps.ProcessQueueManager.CreateOrUpdate(p.Key(), cfg.Priority, cfg.ProcessQueueCapacity)
	}

	p.instMu.Lock()
	p.inputs, p.processors, p.flushers = newInputs, newProcessors, newFlushers
	p.destIndex = buildDestIndex(p.name, newFlushers)
	p.instMu.Unlock()

	if cfg.ProcessorWorkers <= 0 {
		cfg.ProcessorWorkers = p.cfg.ProcessorWorkers
	}
	p.cfg = cfg
	return nil
}

func isNewInstance(old []*instanceState, candidate *instanceState) bool {
	for _, o := range old {
		if o == candidate {
			return false
		}
	}
	return true
}

// reconcile matches old against newSpecs position by position: a slot
// whose type name and content hash are unchanged keeps its existing
// Instance (same Meta.ID, same metrics handles); any other slot is
// rebuilt from scratch. Slots beyond len(newSpecs) are stopped and
// dropped; slots beyond len(old) are newly created. old may be nil, in
// which case every slot is newly created (the Apply path).
// reconcile never mutates or stops anything in old until the entire new
// set has built successfully: a factory/Init failure partway through
// must leave every surviving and every not-yet-replaced old instance
// exactly as it was, so a bad Reload can be rejected without disturbing
// the pipeline that is still running on the previous config.
func (p *Pipeline) reconcile(old []*instanceState, newSpecs []PluginSpec, category plugin.Category, configName string) ([]*instanceState, error) {
	out := make([]*instanceState, 0, len(newSpecs))
	var created []*instanceState // newly built this call, torn down on failure
	var replaced []*instanceState // old slots to stop only once the build fully succeeds

	for i, spec := range newSpecs {
		hash := spec.contentHash()

		if i < len(old) && old[i].spec.TypeName == spec.TypeName && old[i].hash == hash {
			out = append(out, old[i])
			continue
		}

		id := fmt.Sprintf("%s-%d", category, i)
		meta := plugin.Meta{ID: id, Category: category, TypeName: spec.TypeName, ConfigName: configName}

		inst, err := p.createAndInit(category, spec, meta)
		if err != nil {
			for _, st := range created {
				p.teardownInstances([]*instanceState{st})
			}
			return nil, err
		}

		st := &instanceState{inst: inst, spec: spec, hash: hash}
		out = append(out, st)
		created = append(created, st)
		if i < len(old) {
			replaced = append(replaced, old[i])
		}
	}

	replaced = append(replaced, old[len(newSpecs):]...)
	for _, st := range replaced {
		p.teardownInstances([]*instanceState{st})
	}

	return out, nil
}

func (p *Pipeline) createAndInit(category plugin.Category, spec PluginSpec, meta plugin.Meta) (plugin.Instance, error) {
	var raw any
	var err error

	switch category {
	case plugin.CategoryInput:
		// An Input must be able to push from the goroutine it launches in
		// Start, which happens well after this call returns, so Push has
		// to be part of the Meta the factory closes over at construction
		// time rather than something wired in afterward.
		meta.Push = p.push
		raw, err = p.deps.PluginRegistry.CreateInput(spec.TypeName, meta)
	case plugin.CategoryProcessor:
		raw, err = p.deps.PluginRegistry.CreateProcessor(spec.TypeName, meta)
	case plugin.CategoryFlusher:
		raw, err = p.deps.PluginRegistry.CreateFlusher(spec.TypeName, meta)
	}
	if err != nil {
		return plugin.Instance{}, errors.Wrapf(err, "pipeline %q: create %s", p.name, meta.ID)
	}

	type initer interface {
		Init(cfg map[string]any) error
	}
	if in, ok := raw.(initer); ok {
		if err := in.Init(spec.Options); err != nil {
			return plugin.Instance{}, errors.Wrapf(err, "pipeline %q: init %s", p.name, meta.ID)
		}
	}

	instMetrics := p.deps.Metrics.NewInstanceMetrics(meta.ConfigName, category, spec.TypeName, meta.ID)
	return plugin.Instance{Meta: meta, Plugin: raw, Metrics: instMetrics}, nil
}
