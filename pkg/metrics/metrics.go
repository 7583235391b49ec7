// Package metrics manages the prometheus collectors exposed for each
// plugin instance in the collection pipeline, plus the deferred cleanup
// of their label series once an instance is torn down by a Reload.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hostcollector/agent/pkg/plugin"
)

const namespace = "collection_agent"

// Manager owns the process-wide CounterVecs/HistogramVec behind every
// plugin instance's InstanceMetrics, and the bookkeeping needed to
// remove a torn-down instance's label series without racing an
// in-flight increment from a goroutine that hasn't noticed Stop yet.
type Manager struct {
	inEvents             *prometheus.CounterVec
	outEvents            *prometheus.CounterVec
	discardedEvents      *prometheus.CounterVec
	outFailedEvents      *prometheus.CounterVec
	outKeyNotFoundEvents *prometheus.CounterVec
	totalProcessTimeMs   *prometheus.CounterVec
	outSizeBytes         *prometheus.CounterVec
	latency              *prometheus.HistogramVec

	mu      sync.Mutex
	pending map[string]pendingRelease // pluginID -> label values + deadline

	gcGrace time.Duration
}

type pendingRelease struct {
	labels   []string
	deadline time.Time
}

// NewManager registers the plugin-instance collectors against reg (pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// *prometheus.Registry in tests) and returns a Manager that waits
// gcGrace after Release before deleting an instance's label series.
func NewManager(reg prometheus.Registerer, gcGrace time.Duration) *Manager {
	factory := promauto.With(reg)
	labelNames := []string{"config", "category", "plugin_type", "plugin_id"}

	return &Manager{
		inEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_in_events_total",
			Help:      "Events received by a plugin instance.",
		}, labelNames),
		outEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_out_events_total",
			Help:      "Events emitted by a plugin instance.",
		}, labelNames),
		discardedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_discarded_events_total",
			Help:      "Events dropped by a plugin instance for policy reasons other than a send failure (grace-deadline drain, filtered records).",
		}, labelNames),
		outFailedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_out_failed_events_total",
			Help:      "SenderQueueItems a Flusher's Send reported as SendRetry or SendPermanentFailure.",
		}, labelNames),
		outKeyNotFoundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_out_key_not_found_events_total",
			Help:      "SenderQueueItems whose QueueKey no longer resolved to a live pipeline at send time.",
		}, labelNames),
		totalProcessTimeMs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_total_process_time_ms_total",
			Help:      "Cumulative milliseconds spent inside a plugin instance's Process/Send calls.",
		}, labelNames),
		outSizeBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_out_size_bytes_total",
			Help:      "Cumulative serialized byte size of SenderQueueItems a Flusher produced.",
		}, labelNames),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_latency_seconds",
			Help:      "Per-call latency observed by a plugin instance.",
			Buckets:   prometheus.DefBuckets,
		}, labelNames),
		pending: make(map[string]pendingRelease),
		gcGrace: gcGrace,
	}
}

// NewInstanceMetrics returns the InstanceMetrics bundle for one plugin
// instance, with every collector pre-bound to its label values so the
// plugin never has to know its own config name or ID to record a metric.
func (m *Manager) NewInstanceMetrics(configName string, category plugin.Category, typeName, pluginID string) plugin.InstanceMetrics {
	labels := prometheus.Labels{
		"config":      configName,
		"category":    category.String(),
		"plugin_type": typeName,
		"plugin_id":   pluginID,
	}
	return plugin.InstanceMetrics{
		InEvents:             m.inEvents.With(labels),
		OutEvents:            m.outEvents.With(labels),
		DiscardedEvents:      m.discardedEvents.With(labels),
		OutFailedEvents:      m.outFailedEvents.With(labels),
		OutKeyNotFoundEvents: m.outKeyNotFoundEvents.With(labels),
		TotalProcessTimeMs:   m.totalProcessTimeMs.With(labels),
		OutSizeBytes:         m.outSizeBytes.With(labels),
		Latency:              m.latency.With(labels),
	}
}

// Release marks pluginID's label series for deletion once gcGrace has
// elapsed. It does not delete immediately: a goroutine launched by the
// plugin's Start may still be mid-flight and hold a reference to the
// prometheus handles returned by NewInstanceMetrics, and incrementing a
// deleted CounterVec label re-creates it — so deletion is deferred past
// the point Stop() is expected to have fully quiesced the plugin.
func (m *Manager) Release(configName string, category plugin.Category, typeName, pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[pluginID] = pendingRelease{
		labels:   []string{configName, category.String(), typeName, pluginID},
		deadline: time.Now().Add(m.gcGrace),
	}
}

// GC deletes the label series of every pending release whose grace
// period has elapsed as of now. Intended to be driven by RunGC's ticker,
// but exposed standalone so callers can drive it deterministically in
// tests.
func (m *Manager) GC(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.pending {
		if now.Before(p.deadline) {
			continue
		}
		m.inEvents.DeleteLabelValues(p.labels...)
		m.outEvents.DeleteLabelValues(p.labels...)
		m.discardedEvents.DeleteLabelValues(p.labels...)
		m.outFailedEvents.DeleteLabelValues(p.labels...)
		m.outKeyNotFoundEvents.DeleteLabelValues(p.labels...)
		m.totalProcessTimeMs.DeleteLabelValues(p.labels...)
		m.outSizeBytes.DeleteLabelValues(p.labels...)
		m.latency.DeleteLabelValues(p.labels...)
		delete(m.pending, id)
	}
}

// RunGC sweeps released instances once per tick until stop is closed,
// in the style of the teacher's sliding-window ticker loop that prunes
// stale label series.
func (m *Manager) RunGC(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				m.GC(now)
			}
		}
	}()
}

// PendingReleases reports how many instances are awaiting GC, for tests
// and diagnostics.
func (m *Manager) PendingReleases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
