// Package plugin implements the plugin registry and the Input/Processor/
// Flusher contracts every collection pipeline plugin must satisfy.
package plugin

import (
	"context"
	"time"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/queue"
)

// Category distinguishes the three plugin kinds the registry catalogs.
type Category int

const (
	// CategoryInput identifies an Input plugin.
	CategoryInput Category = iota
	// CategoryProcessor identifies a Processor plugin.
	CategoryProcessor
	// CategoryFlusher identifies a Flusher plugin.
	CategoryFlusher
)

func (c Category) String() string {
	switch c {
	case CategoryInput:
		return "input"
	case CategoryProcessor:
		return "processor"
	case CategoryFlusher:
		return "flusher"
	default:
		return "unknown"
	}
}

// PushFunc lets an Input push a built event.Group into its bound Process
// Queue. It returns ErrQueueFull (defined by pkg/queue) when the queue has
// no room; the Input must back off rather than spin.
type PushFunc func(group *event.Group) error

// Meta is the identifying metadata assigned to a plugin instance at
// construction. For an Input, Push is bound by the pipeline builder before
// Init is called, so the Input pushes into its own Process Queue directly
// rather than receiving a push function as a Start argument — Start's
// only job is to launch polling/streaming, not to learn where output goes.
type Meta struct {
	// ID is the plugin's category and slot index (e.g. "input-0"), unique
	// within a pipeline. It is not monotonic: a plugin that Reload rebuilds
	// in the same slot gets the same ID as the instance it replaces.
	ID string
	// Category is the kind of plugin this metadata belongs to.
	Category Category
	// TypeName is the catalog name the instance was created from.
	TypeName string
	// ConfigName is the name of the owning pipeline config.
	ConfigName string
	// Push is populated for Input instances only: the function that
	// delivers a built group to this Input's bound Process Queue.
	Push PushFunc
}

// FeedbackTarget is implemented by Inputs that want to be paused and
// resumed by their Process Queue's high/low watermark feedback.
type FeedbackTarget = queue.FeedbackTarget

// Input drives itself — from a shared timer or an owned goroutine — and
// pushes event.Groups into its bound Process Queue until Stop is called.
type Input interface {
	// Init validates and applies cfg, returning a ConfigError on failure.
	Init(cfg map[string]any) error
	// Start begins polling/streaming. It must return once startup has
	// launched any background goroutines; those goroutines must observe
	// ctx cancellation and push through the Meta.Push function supplied
	// at construction.
	Start(ctx context.Context) error
	// Stop idempotently drains and stops any owned goroutine before
	// returning.
	Stop() error
}

// SingletonInput is implemented by Input plugins that may have at most one
// instance applied across all currently-applied pipeline configs.
type SingletonInput interface {
	Input
	IsGlobalSingleton() bool
}

// Processor mutates a group in place. It may drop every event by calling
// group.Clear().
type Processor interface {
	Init(cfg map[string]any) error
	Process(group *event.Group)
}

// SendStatus is the outcome of a Flusher.Send call.
type SendStatus int

const (
	// SendOK means the item was accepted by the backend.
	SendOK SendStatus = iota
	// SendRetry means the item should be retried after RetryAfter.
	SendRetry
	// SendPermanentFailure means the item must not be retried.
	SendPermanentFailure
)

// SendResult is returned by Flusher.Send.
type SendResult struct {
	Status     SendStatus
	RetryAfter time.Duration
	Err        error
}

// Flusher serializes groups and sends them to a remote backend.
type Flusher interface {
	Init(cfg map[string]any) error
	Start() error
	Stop() error
	// Serialize converts a drained group into a wire-ready SenderQueueItem.
	// Errors here are per-group and recorded, not fatal to the Flusher.
	Serialize(group *event.Group) (*queue.SenderQueueItem, error)
	// Send delivers a serialized item. item.Attempt carries the retry
	// count so the Flusher can vary timeouts/headers on resend. Send may
	// itself block up to whatever timeout ctx carries, but must not spin.
	Send(ctx context.Context, item *queue.SenderQueueItem) SendResult
}
