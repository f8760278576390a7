// Package errchan is the ambient error channel: a sink the engine writes
// human-readable transport failures to. Presentation layers decide how to
// show them (banner, log line, terminal message).
package errchan

import (
	"context"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	// KindResolution marks a failed secondary schema fetch.
	KindResolution Kind = "resolution"
	// KindSubmission marks a failed job submission.
	KindSubmission Kind = "submission"
)

// Event is a single user-facing failure.
type Event struct {
	Kind    Kind
	Message string
	Err     error
	At      time.Time
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Report(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, event Event) {
	if f != nil {
		f(ctx, event)
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	targets := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			targets = append(targets, sink)
		}
	}
	return SinkFunc(func(ctx context.Context, event Event) {
		for _, sink := range targets {
			sink.Report(ctx, event)
		}
	})
}

// Collector records events in arrival order.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Report appends the event.
func (c *Collector) Report(_ context.Context, event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Messages returns the recorded messages.
func (c *Collector) Messages() []string {
	events := c.Events()
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Message)
	}
	return out
}

// Drain returns the recorded events and clears the collector.
func (c *Collector) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

// NewLogger writes events as zap warnings.
func NewLogger(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return SinkFunc(func(_ context.Context, event Event) {
		fields := []zap.Field{zap.String("kind", string(event.Kind))}
		if event.Err != nil {
			fields = append(fields, zap.Error(event.Err))
		}
		logger.Warn(event.Message, fields...)
	})
}

// Sanitize strips markup from messages before forwarding them. Messages can
// echo schema titles and server responses into HTML banners.
func Sanitize(next Sink) Sink {
	if next == nil {
		return Discard
	}
	policy := bluemonday.StrictPolicy()
	return SinkFunc(func(ctx context.Context, event Event) {
		event.Message = strings.TrimSpace(html.UnescapeString(policy.Sanitize(event.Message)))
		if event.At.IsZero() {
			event.At = time.Now()
		}
		next.Report(ctx, event)
	})
}
