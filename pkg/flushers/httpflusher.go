// Package flushers implements the illustrative Flusher plugins shipped
// with this agent. Per spec.md's non-goals, "the HTTP transport layer" is
// explicitly out of scope for hardening; HTTPFlusher is a thin net/http
// sender that satisfies the pkg/plugin.Flusher contract so the pipeline
// has a real backend to exercise end to end, not a production transport.
package flushers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hostcollector/agent/pkg/backoff"
	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
	"github.com/hostcollector/agent/pkg/queue"
)

// HTTPFlusherTypeName is this Flusher's catalog registration name.
const HTTPFlusherTypeName = "http_flusher"

// HTTPFlusherConfig is the raw options block for HTTPFlusher.
type HTTPFlusherConfig struct {
	URL     string            `mapstructure:"URL"`
	Timeout time.Duration     `mapstructure:"Timeout"`
	Headers map[string]string `mapstructure:"Headers"`
}

// wireEvent is the JSON-serializable form of an event.Event, with every
// arena View resolved to a plain string since the wire payload outlives
// the owning Group's arena.
type wireEvent struct {
	Kind      string            `json:"kind"`
	Timestamp int64             `json:"ts_unix_nano"`
	Tags      map[string]string `json:"tags,omitempty"`
	Body      string            `json:"body,omitempty"`
	Metric    string            `json:"metric,omitempty"`
	Value     float64           `json:"value,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	SpanID    string            `json:"span_id,omitempty"`
}

type wirePayload struct {
	ConfigName string            `json:"config_name"`
	GroupTags  map[string]string `json:"group_tags,omitempty"`
	Events     []wireEvent       `json:"events"`
}

// HTTPFlusher serializes a drained event.Group into a JSON payload and
// POSTs it to a configured URL. It also implements batch.BatchFlusher
// with a no-op FlushBatch: this Flusher sends every group as soon as it
// is serialized rather than buffering by batch key, so there is nothing
// to flush early, but it still gives pkg/batch.TimeoutFlushManager and
// pkg/pipeline's UnregisterFlushers teardown path a real implementation
// to exercise rather than a type assertion that always fails.
type HTTPFlusher struct {
	meta   plugin.Meta
	cfg    HTTPFlusherConfig
	client *http.Client
	bo     backoff.Backoff
}

// NewHTTPFlusher is the registry Factory for HTTPFlusherTypeName.
func NewHTTPFlusher() plugin.Factory {
	return func(meta plugin.Meta) (any, error) {
		return &HTTPFlusher{meta: meta, bo: backoff.Default}, nil
	}
}

// Init decodes cfg, requiring a non-empty URL.
func (f *HTTPFlusher) Init(cfg map[string]any) error {
	decoded := HTTPFlusherConfig{Timeout: 10 * time.Second}
	if err := plugin.DecodeConfig(HTTPFlusherTypeName, cfg, &decoded); err != nil {
		return err
	}
	if decoded.URL == "" {
		return &plugin.ConfigError{TypeName: HTTPFlusherTypeName, Field: "URL", Err: fmt.Errorf("required")}
	}
	f.cfg = decoded
	f.client = &http.Client{Timeout: decoded.Timeout}
	return nil
}

// Start is a no-op: the *http.Client built in Init needs no warm-up.
func (f *HTTPFlusher) Start() error { return nil }

// Stop closes idle connections held by the client.
func (f *HTTPFlusher) Stop() error {
	f.client.CloseIdleConnections()
	return nil
}

// Serialize converts group into a JSON-encoded SenderQueueItem.
func (f *HTTPFlusher) Serialize(group *event.Group) (*queue.SenderQueueItem, error) {
	payload := wirePayload{
		ConfigName: group.Prov.ConfigName,
		GroupTags:  group.GroupTags,
		Events:     make([]wireEvent, 0, group.Len()),
	}

	for _, e := range group.Events {
		payload.Events = append(payload.Events, toWireEvent(group, e))
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("http_flusher: marshal group: %w", err)
	}

	return &queue.SenderQueueItem{Payload: b}, nil
}

func toWireEvent(group *event.Group, e event.Event) wireEvent {
	w := wireEvent{
		Kind:      e.Kind.String(),
		Timestamp: e.TimestampSec*int64(time.Second) + int64(e.TimestampNanos),
	}
	if len(e.Tags) > 0 {
		w.Tags = make(map[string]string, len(e.Tags))
		for _, t := range e.Tags {
			w.Tags[group.String(t.Key)] = group.String(t.Value)
		}
	}

	switch e.Kind {
	case event.KindLog:
		for i, v := range e.Log.Body {
			if i == 0 {
				w.Body = group.String(v)
				continue
			}
			w.Body += group.String(v)
		}
	case event.KindMetric:
		w.Metric = group.String(e.Metric.Name)
		w.Value = e.Metric.Value
		if len(e.Metric.Labels) > 0 {
			if w.Tags == nil {
				w.Tags = make(map[string]string, len(e.Metric.Labels))
			}
			for _, t := range e.Metric.Labels {
				w.Tags[group.String(t.Key)] = group.String(t.Value)
			}
		}
	case event.KindSpan:
		w.TraceID = group.String(e.Span.TraceID)
		w.SpanID = group.String(e.Span.SpanID)
		w.Value = float64(e.Span.Duration)
	}
	return w
}

// Send POSTs item.Payload to the configured URL. A 2xx response is
// SendOK; a 429 or 5xx response and a transport-level error are SendRetry
// with a backoff delay keyed off item.Attempt; any other status is
// SendPermanentFailure (the payload itself is rejected and retrying will
// not help), as is a request that cannot be built.
func (f *HTTPFlusher) Send(ctx context.Context, item *queue.SenderQueueItem) plugin.SendResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(item.Payload))
	if err != nil {
		return plugin.SendResult{Status: plugin.SendPermanentFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return plugin.SendResult{Status: plugin.SendRetry, RetryAfter: f.bo.Delay(item.Attempt + 1), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return plugin.SendResult{Status: plugin.SendOK}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return plugin.SendResult{Status: plugin.SendRetry, RetryAfter: f.bo.Delay(item.Attempt + 1), Err: fmt.Errorf("http_flusher: status %d", resp.StatusCode)}
	default:
		return plugin.SendResult{Status: plugin.SendPermanentFailure, Err: fmt.Errorf("http_flusher: status %d", resp.StatusCode)}
	}
}

// FlushBatch satisfies batch.BatchFlusher. See the HTTPFlusher doc comment
// for why this is a deliberate no-op.
func (f *HTTPFlusher) FlushBatch(batchKey string) {}
