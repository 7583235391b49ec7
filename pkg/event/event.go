package event

// Kind tags which payload variant an Event carries.
type Kind int

const (
	// KindLog marks an Event carrying a LogBody.
	KindLog Kind = iota
	// KindMetric marks an Event carrying a MetricPoint.
	KindMetric
	// KindSpan marks an Event carrying a SpanInfo.
	KindSpan
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	case KindSpan:
		return "span"
	default:
		return "unknown"
	}
}

// Tag is one key/value pair whose storage lives in the owning EventGroup's
// arena.
type Tag struct {
	Key   View
	Value View
}

// LogBody is the Log variant payload: one or more body views, typically a
// single view for the whole line, more than one when a processor has split
// a multiline record into fragments it wants to keep addressable.
type LogBody struct {
	Body []View
}

// MetricPoint is the Metric variant payload.
type MetricPoint struct {
	Name   View
	Value  float64
	Labels []Tag
}

// SpanInfo is the Span variant payload.
type SpanInfo struct {
	TraceID  View
	SpanID   View
	Name     View
	Duration int64 // nanoseconds
}

// Event is one record inside an EventGroup. Every View it holds is only
// valid while the owning EventGroup's Arena is alive.
type Event struct {
	Kind           Kind
	TimestampSec   int64
	TimestampNanos int32
	Tags           []Tag
	Log            LogBody
	Metric         MetricPoint
	Span           SpanInfo
}

// NewLogEvent builds a Log-kind Event whose body is a single view.
func NewLogEvent(tsSec int64, tsNanos int32, body View) Event {
	return Event{
		Kind:           KindLog,
		TimestampSec:   tsSec,
		TimestampNanos: tsNanos,
		Log:            LogBody{Body: []View{body}},
	}
}

// NewMetricEvent builds a Metric-kind Event.
func NewMetricEvent(tsSec int64, tsNanos int32, name View, value float64, labels []Tag) Event {
	return Event{
		Kind:           KindMetric,
		TimestampSec:   tsSec,
		TimestampNanos: tsNanos,
		Metric:         MetricPoint{Name: name, Value: value, Labels: labels},
	}
}

// NewSpanEvent builds a Span-kind Event.
func NewSpanEvent(tsSec int64, tsNanos int32, info SpanInfo) Event {
	return Event{
		Kind:           KindSpan,
		TimestampSec:   tsSec,
		TimestampNanos: tsNanos,
		Span:           info,
	}
}
