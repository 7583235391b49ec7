package plugin

import "github.com/hostcollector/agent/pkg/backoff"

// Backoff is the jittered exponential delay an Input applies between
// queue-full retries. Aliased from pkg/backoff so pkg/queue's Sender Queue
// retry logic and this package's Input retry logic share one schedule.
type Backoff = backoff.Backoff

// DefaultBackoff is the schedule the built-in Inputs use; a pipeline
// config has no setting that overrides it.
var DefaultBackoff = backoff.Default
