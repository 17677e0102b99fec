package dispatcher

import "fmt"

// Next is the one-shot continuation a handler invokes to defer to the
// next route in the table (spec.md §4.3). Calling it more than once is
// a no-op; the second call is logged, never executed twice (spec.md
// §9, testable property 4).
type Next func() (any, error)

// HandlerFunc is a terminal or middleware handler: it receives the
// Context and the next continuation, and returns either a Context (or
// nil, meaning "use the current Context"), or leaves the response
// unwritten for the caller to fill in asynchronously.
type HandlerFunc func(ctx *Context, next Next) (any, error)

// Descriptor is the "service descriptor" registration shape from
// spec.md §4.2: a single object carrying both the path and the
// handler, unwrapped at registration time.
type Descriptor struct {
	Path    any
	Handler any
}

type routeKind int

const (
	kindFunc routeKind = iota
	kindService
	kindNested
)

// Route is the immutable registration record described in spec.md §3.
// prefix is non-empty iff handler is a nested Dispatcher.
type Route struct {
	pattern any
	prefix  string
	m       *matcher
	kind    routeKind
	fn      HandlerFunc
	svc     *Service
	nested  *Dispatcher
}

// normalizeHandler tags handler with its routeKind, per spec.md §9's
// instruction to model the polymorphic handler shape as a tagged
// variant at registration time rather than inspecting it structurally
// on every call.
func normalizeHandler(handler any) (Route, error) {
	switch h := handler.(type) {
	case HandlerFunc:
		return Route{kind: kindFunc, fn: h}, nil
	case func(ctx *Context, next Next) (any, error):
		return Route{kind: kindFunc, fn: HandlerFunc(h)}, nil
	case *Service:
		return Route{kind: kindService, svc: h}, nil
	case *Dispatcher:
		return Route{kind: kindNested, nested: h}, nil
	default:
		return Route{}, ErrInvalidArgument(fmt.Sprintf("dispatcher: handler must be a HandlerFunc, *Service, or *Dispatcher, got %T", handler))
	}
}
