package dispatcher

import (
	"context"
	"sync"
)

// MessageType is the request/response discriminator carried on a
// Context (spec.md §3). The empty value means "call".
type MessageType string

const (
	TypeCall        MessageType = "call"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
)

// Message is a single element written to a Context's response sink.
// For a call there is at most one; for a subscribe there is an
// acknowledgment followed by zero or more events.
type Message struct {
	Status Code
	Body   any
}

// ResponseSink is the "object-mode stream" described in spec.md §9: a
// multi-producer, single-consumer queue with a closed flag. One is
// created per Context. Transport adapters drain it onto the wire;
// tests can drain it into a slice.
type ResponseSink struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func newResponseSink() *ResponseSink {
	return &ResponseSink{ch: make(chan Message, 8)}
}

// Write pushes a message onto the sink. Writes after Close are no-ops
// (spec.md §5: "handlers that have not yet written a response observe
// writes as no-ops after cancellation").
func (s *ResponseSink) Write(status Code, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Message{Status: status, Body: body}:
	default:
		// Slow consumer: the channel is buffered for the common case of
		// a handful of subscription events; a full buffer means the
		// transport adapter has stalled. Drop rather than block the
		// dispatch chain.
	}
}

// Close marks the sink closed. Idempotent.
func (s *ResponseSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Closed reports whether the sink has been closed.
func (s *ResponseSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// C returns the channel transport adapters drain.
func (s *ResponseSink) C() <-chan Message {
	return s.ch
}

// Context is the per-request mutable carrier threaded through the
// Dispatch Engine (spec.md §3). A single Context is shared by reference
// across nested-dispatcher descent, so mutations made by an inner
// handler are visible to everything upstream that holds the same
// pointer.
type Context struct {
	// ID is the client-chosen correlation token from the Request
	// envelope (spec.md §3's "id").
	ID string

	// Path is the current, possibly prefix-stripped, path being
	// matched. It reflects the tail after all prefix strippings at the
	// point a handler observes it (spec.md §3 invariants).
	Path string

	// Params holds the most recent matching route's captured named
	// parameters. It is cleared and repopulated on every successful
	// match, never merged across routes (spec.md §4.3).
	Params map[string]string

	// Data is the client-supplied payload. Never nil; defaults to an
	// empty map.
	Data any

	// Response is the sink handlers write to.
	Response *ResponseSink

	// Status is the HTTP-style status, initialized to 200.
	Status Code

	// Type discriminates call/subscribe/unsubscribe. Empty means call.
	Type MessageType

	// Sid is the server-generated subscription id. It is set by the
	// Dispatch Engine on a successful subscribe and persists across
	// Context reuse into the paired unsubscribe (spec.md §3, §4.4).
	Sid string

	// GoContext carries cancellation and tracing span state across
	// nested dispatch. It is not part of the wire protocol; transport
	// adapters may replace it (e.g. to attach a connection-scoped
	// deadline) before calling Dispatcher.Call.
	GoContext context.Context

	// routeKind records what kind of handler actually served the
	// request ("func" or "service"), set by invoke() once a terminal
	// route wins. Diagnostic only, read back by Call to attach a span
	// attribute; never part of the wire protocol.
	routeKind string
}

// NewContext builds a fresh Context with spec.md §3 defaults: payload
// {}, a new response sink, status 200.
func NewContext(id, path string, data any) *Context {
	if data == nil {
		data = map[string]any{}
	}
	return &Context{
		ID:        id,
		Path:      path,
		Data:      data,
		Response:  newResponseSink(),
		Status:    200,
		Type:      TypeCall,
		GoContext: context.Background(),
	}
}

// EffectiveType returns Type, defaulting absent values to TypeCall.
func (c *Context) EffectiveType() MessageType {
	if c.Type == "" {
		return TypeCall
	}
	return c.Type
}

// setParams clears any params left over from a prior, non-winning
// route and repopulates from a fresh capture set (spec.md §4.3,
// testable property 2). A nil captures map still clears.
func (c *Context) setParams(captures map[string]string) {
	c.Params = captures
}
