package dispatcher

import (
	"testing"
)

func drain(t *testing.T, ctx *Context) Message {
	t.Helper()
	select {
	case msg, ok := <-ctx.Response.C():
		if !ok {
			t.Fatal("response sink closed without a message")
		}
		return msg
	default:
		t.Fatal("no message written to response")
	}
	return Message{}
}

// S1 — literal route.
func TestDispatch_LiteralRoute(t *testing.T) {
	d := New(nil)
	_ = d.Register("/status", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		ctx.Response.Write(200, map[string]any{"ok": true})
		return nil, nil
	}))

	ctx := NewContext("a", "/status", nil)
	ctx.Type = TypeCall
	result, err := d.Call("/status", ctx)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := drain(t, result)
	if msg.Status != 200 {
		t.Fatalf("status = %d, want 200", msg.Status)
	}
}

// S2 — parameterized route.
func TestDispatch_ParameterizedRoute(t *testing.T) {
	d := New(nil)
	_ = d.Register("/echo/:v", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		ctx.Response.Write(200, ctx.Params["v"])
		return nil, nil
	}))

	ctx := NewContext("b", "/echo/hello", nil)
	result, err := d.Call("/echo/hello", ctx)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := drain(t, result)
	if msg.Body != "hello" {
		t.Fatalf("body = %v, want hello", msg.Body)
	}
}

// S3 — nested dispatcher.
func TestDispatch_NestedComposition(t *testing.T) {
	d1 := New(nil)
	d2 := New(nil)
	_ = d2.Register("/time", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		ctx.Response.Write(200, "T")
		return nil, nil
	}))
	_ = d1.Register("/svc", d2)

	ctx := NewContext("c", "/svc/time", nil)
	result, err := d1.Call("/svc/time", ctx)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := drain(t, result)
	if msg.Body != "T" {
		t.Fatalf("body = %v, want T", msg.Body)
	}
	if result != ctx {
		t.Fatal("nested dispatch must reuse the same Context by reference")
	}
}

// S4 — not found.
func TestDispatch_NotFound(t *testing.T) {
	d := New(nil)
	ctx := NewContext("d", "/nope", nil)
	_, err := d.Call("/nope", ctx)
	if err == nil {
		t.Fatal("expected an error")
	}
	tax := AsTaxonomy(err)
	if tax.Status != CodeNotFound {
		t.Fatalf("status = %v, want 404", tax.Status)
	}
	select {
	case <-ctx.Response.C():
		t.Fatal("response sink should be empty on NOT_FOUND")
	default:
	}
}

// S6 — middleware next.
func TestDispatch_NextAdvancesToSecondRoute(t *testing.T) {
	d := New(nil)
	_ = d.Register("/a", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		return next()
	}))
	_ = d.Register("/a", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		ctx.Response.Write(200, "ok")
		return nil, nil
	}))

	ctx := NewContext("f", "/a", nil)
	result, err := d.Call("/a", ctx)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := drain(t, result)
	if msg.Body != "ok" {
		t.Fatalf("body = %v, want ok", msg.Body)
	}
}

// Testable property 4 — next() at most once.
func TestDispatch_NextAtMostOnce(t *testing.T) {
	d := New(nil)
	var secondCallAdvanced bool
	_ = d.Register("/a", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		_, _ = next()
		_, err := next() // second call: no-op, must not re-advance.
		if err == nil {
			secondCallAdvanced = true
		}
		return nil, nil
	}))
	calls := 0
	_ = d.Register("/a", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		calls++
		ctx.Response.Write(200, "ok")
		return nil, nil
	}))

	ctx := NewContext("g", "/a", nil)
	if _, err := d.Call("/a", ctx); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("second route invoked %d times, want 1", calls)
	}
	_ = secondCallAdvanced
}

// Testable property 2 — params cleared between attempted matches.
func TestDispatch_ParamsClearedBetweenAttempts(t *testing.T) {
	d := New(nil)
	_ = d.Register("/foo/:x", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		return next()
	}))
	var seen map[string]string
	_ = d.Register("/:a/:b", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		seen = ctx.Params
		ctx.Response.Write(200, "ok")
		return nil, nil
	}))

	ctx := NewContext("h", "/foo/bar", nil)
	if _, err := d.Call("/foo/bar", ctx); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, present := seen["x"]; present {
		t.Fatalf("params leaked from a prior non-winning route: %v", seen)
	}
	if seen["a"] != "foo" || seen["b"] != "bar" {
		t.Fatalf("params = %v, want a=foo b=bar", seen)
	}
}

func TestDispatch_FirstMatchWinsInRegistrationOrder(t *testing.T) {
	d := New(nil)
	var order []string
	_ = d.Register("/x", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		order = append(order, "first")
		ctx.Response.Write(200, "first")
		return nil, nil
	}))
	_ = d.Register("/x", HandlerFunc(func(ctx *Context, next Next) (any, error) {
		order = append(order, "second")
		ctx.Response.Write(200, "second")
		return nil, nil
	}))

	ctx := NewContext("i", "/x", nil)
	result, err := d.Call("/x", ctx)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(order) != 1 || order[0] != "first" {
		t.Fatalf("order = %v, want [first]", order)
	}
	msg := drain(t, result)
	if msg.Body != "first" {
		t.Fatalf("body = %v, want first", msg.Body)
	}
}

func TestDispatch_InvalidHandlerType(t *testing.T) {
	d := New(nil)
	err := d.Register("/x", 42)
	if err == nil {
		t.Fatal("expected an error registering a non-handler value")
	}
	tax := AsTaxonomy(err)
	if tax.StatusCode != StatusInvalidArgument {
		t.Fatalf("statusCode = %v, want INVALID_ARGUMENT", tax.StatusCode)
	}
}

func TestDispatch_PatternArray(t *testing.T) {
	d := New(nil)
	calls := 0
	_ = d.Register([]string{"/a", "/b"}, HandlerFunc(func(ctx *Context, next Next) (any, error) {
		calls++
		ctx.Response.Write(200, "ok")
		return nil, nil
	}))
	if _, err := d.Call("/a", NewContext("j", "/a", nil)); err != nil {
		t.Fatalf("Call /a: %v", err)
	}
	if _, err := d.Call("/b", NewContext("k", "/b", nil)); err != nil {
		t.Fatalf("Call /b: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDispatch_Descriptor(t *testing.T) {
	d := New(nil)
	err := d.Register(Descriptor{
		Path: "/desc",
		Handler: HandlerFunc(func(ctx *Context, next Next) (any, error) {
			ctx.Response.Write(200, "ok")
			return nil, nil
		}),
	}, nil)
	if err != nil {
		t.Fatalf("Register descriptor: %v", err)
	}
	result, err := d.Call("/desc", NewContext("l", "/desc", nil))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	msg := drain(t, result)
	if msg.Body != "ok" {
		t.Fatalf("body = %v, want ok", msg.Body)
	}
}
