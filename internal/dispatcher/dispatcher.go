// Package dispatcher implements the path-routed request/response/
// subscription engine described in the design: a Dispatcher matches
// an incoming path against an ordered route table, extracts named
// parameters, and invokes the winning handler with a one-shot next
// continuation. Handlers are function middleware, Service lifecycle
// objects, or nested Dispatchers, composed by mounting.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/appcd/internal/shared"
	apptelemetry "github.com/basket/appcd/internal/telemetry/otel"
)

// Dispatcher is an ordered sequence of Routes plus an optional prefix,
// set when the Dispatcher is mounted as a nested handler on a parent
// (spec.md §3).
type Dispatcher struct {
	mu     sync.RWMutex
	routes []*Route
	prefix string // diagnostic only; populated once this Dispatcher is mounted.

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *apptelemetry.Metrics
}

// Option configures optional Dispatcher behavior at construction time.
type Option func(*Dispatcher)

// WithTracer attaches an OpenTelemetry tracer; every top-level Call
// gets a span. Nil is a no-op (no tracing).
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// WithMetrics attaches dispatch counters/histograms. Nil is a no-op.
func WithMetrics(m *apptelemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates an empty Dispatcher. A nil logger is replaced with a
// no-op sink (spec.md §9: "no module-level mutable state").
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds pattern → handler to the route table. pattern may be:
// a string (literal or parameterized), a Regex, a []string/[]any of
// patterns (registered individually against the same handler), or a
// Descriptor carrying both path and handler (spec.md §4.2). handler
// may be a HandlerFunc, a *Service, or a *Dispatcher (nested mount).
// Registering the same pattern twice is permitted; first match wins
// at dispatch time (spec.md §3).
func (d *Dispatcher) Register(pattern any, handler any) error {
	switch p := pattern.(type) {
	case []string:
		for _, pp := range p {
			if err := d.Register(pp, handler); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, pp := range p {
			if err := d.Register(pp, handler); err != nil {
				return err
			}
		}
		return nil
	case Descriptor:
		return d.Register(p.Path, p.Handler)
	}

	route, err := normalizeHandler(handler)
	if err != nil {
		return err
	}
	terminal := route.kind != kindNested
	m, err := compilePattern(pattern, terminal)
	if err != nil {
		return ErrInvalidArgument(err.Error())
	}
	route.pattern = pattern
	route.m = m
	if route.kind == kindNested {
		route.prefix = fmt.Sprint(pattern)
		route.nested.prefix = route.prefix
	}

	d.mu.Lock()
	d.routes = append(d.routes, &route)
	d.mu.Unlock()

	// Diagnostic hygiene: registering "/" on a mounted sub-dispatcher
	// does not log (spec.md §4.2).
	if !(d.prefix != "" && pattern == "/") {
		d.logger.Debug("dispatcher: route registered", "pattern", fmt.Sprint(pattern), "nested", route.kind == kindNested)
	}
	return nil
}

// RouteCount returns the number of routes registered directly on this
// Dispatcher (nested mounts count as one route each, not their own
// table size).
func (d *Dispatcher) RouteCount() int {
	return len(d.snapshot())
}

// snapshot returns the current route slice under a brief read lock, so
// a registration racing a dispatch (e.g. a plugin mounted while the
// daemon serves) is safe; the walk over the returned slice itself holds
// no lock, since the table is only ever appended to.
func (d *Dispatcher) snapshot() []*Route {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.routes
}

// Call is the single entry point (spec.md §4.3). payload is either an
// existing *Context — reused as-is, which is how nested dispatch and
// the paired unsubscribe-by-reuse flow forward state — or arbitrary
// data, for which a fresh Context is constructed with spec.md §3
// defaults.
func (d *Dispatcher) Call(path string, payload any) (*Context, error) {
	ctx, ok := payload.(*Context)
	if !ok {
		ctx = NewContext(uuid.NewString(), path, payload)
	}
	ctx.Path = path

	// Only the outermost Dispatcher.Call in a nested chain owns the
	// span/metrics for the whole request; nested Calls run under the
	// same *Context and are invisible to telemetry here, which traces
	// the dispatch as seen by the transport, not per-hop.
	if d.tracer == nil && d.metrics == nil {
		return d.dispatch(ctx, 0)
	}

	start := time.Now()
	var span trace.Span
	goctx := ctx.GoContext
	if goctx == nil {
		goctx = context.Background()
	}
	if d.tracer != nil {
		attrs := []attribute.KeyValue{
			apptelemetry.AttrPath.String(path),
			apptelemetry.AttrType.String(string(ctx.Type)),
		}
		if connID := shared.ConnID(goctx); connID != "" {
			attrs = append(attrs, apptelemetry.AttrConnID.String(connID))
		}
		goctx, span = apptelemetry.StartServerSpan(goctx, d.tracer, "dispatch."+string(ctx.Type), attrs...)
		ctx.GoContext = goctx
		defer span.End()
	}

	result, err := d.dispatch(ctx, 0)

	if span != nil {
		apptelemetry.EndWithError(span, err)
		if result != nil {
			span.SetAttributes(apptelemetry.AttrStatus.Int(int(result.Status)))
			if result.Sid != "" {
				span.SetAttributes(apptelemetry.AttrSid.String(result.Sid))
			}
			if result.routeKind != "" {
				span.SetAttributes(apptelemetry.AttrRouteKind.String(result.routeKind))
			}
		}
	}
	if d.metrics != nil {
		d.metrics.RecordDispatch(goctx, path, string(ctx.Type), float64(time.Since(start).Milliseconds()), err != nil)
	}
	return result, err
}

func (d *Dispatcher) dispatch(ctx *Context, start int) (*Context, error) {
	routes := d.snapshot()
	for i := start; i < len(routes); i++ {
		route := routes[i]
		params, consumed, ok := route.m.match(ctx.Path)
		if !ok {
			d.logger.Debug("dispatcher: route miss", "pattern", fmt.Sprint(route.pattern), "path", ctx.Path)
			continue
		}
		ctx.setParams(params)
		d.logger.Debug("dispatcher: route match", "pattern", fmt.Sprint(route.pattern), "path", ctx.Path)

		if route.kind == kindNested {
			stripped := strings.TrimPrefix(ctx.Path, consumed)
			if !strings.HasPrefix(stripped, "/") {
				stripped = "/" + stripped
			}
			return route.nested.Call(stripped, ctx)
		}
		return d.invoke(ctx, route, i)
	}
	d.logger.Debug("dispatcher: route table exhausted", "path", ctx.Path)
	return nil, ErrNotFound(ctx.Path)
}

func (d *Dispatcher) invoke(ctx *Context, route *Route, index int) (*Context, error) {
	if route.kind == kindService {
		ctx.routeKind = "service"
		if err := dispatchService(route.svc, ctx); err != nil {
			tax := AsTaxonomy(err)
			ctx.Status = tax.Status
			d.logger.Error("dispatcher: handler error", "path", ctx.Path, "status_code", tax.StatusCode, "error", tax.Error())
			return ctx, tax
		}
		return ctx, nil
	}
	ctx.routeKind = "func"

	var nextCalled atomic.Bool
	next := func() (any, error) {
		if !nextCalled.CompareAndSwap(false, true) {
			d.logger.Debug("dispatcher: next() called more than once, ignoring", "path", ctx.Path)
			return ctx, nil
		}
		return d.dispatch(ctx, index+1)
	}

	result, err := route.fn(ctx, next)
	if err != nil {
		tax := AsTaxonomy(err)
		ctx.Status = tax.Status
		d.logger.Error("dispatcher: handler error", "path", ctx.Path, "status_code", tax.StatusCode, "error", tax.Error())
		return ctx, tax
	}
	if result == nil {
		return ctx, nil
	}
	if rc, ok := result.(*Context); ok {
		return rc, nil
	}
	return ctx, nil
}
