package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InstanceMetrics is the set of prometheus collectors every plugin
// instance is given at construction time, pre-bound to that instance's
// labels. Plugins increment these directly rather than registering their
// own collectors, so the pipeline can garbage-collect every label series
// for a config in one place when it is removed.
//
// Field names track spec §6's named counters one-for-one so a call site
// incrementing OutFailedEvents and one incrementing DiscardedEvents can
// never be confused for the same failure mode.
type InstanceMetrics struct {
	InEvents             prometheus.Counter // inEventsTotal
	OutEvents            prometheus.Counter // outEventsTotal
	DiscardedEvents      prometheus.Counter // discardedEventsTotal
	OutFailedEvents      prometheus.Counter // outFailedEventsTotal
	OutKeyNotFoundEvents prometheus.Counter // outKeyNotFoundEventsTotal
	TotalProcessTimeMs   prometheus.Counter // totalProcessTimeMs
	OutSizeBytes         prometheus.Counter // outSizeBytes
	Latency              prometheus.Observer
}

// Instance binds a constructed plugin to its Meta and metrics. The
// pipeline tracks Instances, not raw Input/Processor/Flusher values,
// so it can report per-plugin counters and tear a plugin down by ID on
// Reload without knowing its concrete type.
type Instance struct {
	Meta    Meta
	Plugin  any
	Metrics InstanceMetrics
}

// AsInput returns the instance's plugin as an Input, or false if it does
// not implement Input.
func (in *Instance) AsInput() (Input, bool) {
	v, ok := in.Plugin.(Input)
	return v, ok
}

// AsProcessor returns the instance's plugin as a Processor, or false.
func (in *Instance) AsProcessor() (Processor, bool) {
	v, ok := in.Plugin.(Processor)
	return v, ok
}

// AsFlusher returns the instance's plugin as a Flusher, or false.
func (in *Instance) AsFlusher() (Flusher, bool) {
	v, ok := in.Plugin.(Flusher)
	return v, ok
}
