package dispatcher

import "github.com/google/uuid"

// Publisher is handed to a Service's OnSubscribe hook so it can push
// events onto the subscription's response stream after the
// acknowledgment has already been written (spec.md §4.4).
type Publisher struct {
	ctx *Context
	sid string
}

// SID returns the server-generated subscription id.
func (p *Publisher) SID() string { return p.sid }

// Publish writes one event onto the subscription stream. A publish
// after the stream has been closed (explicit unsubscribe, or
// connection teardown) is a no-op (spec.md §5).
func (p *Publisher) Publish(body any) {
	p.ctx.Response.Write(200, body)
}

// Service is the three-lifecycle-operation handler abstraction from
// spec.md §4.4. A single registration demultiplexes on ctx.Type:
//
//   - OnCall handles "call" (the default): write exactly one response.
//   - OnSubscribe handles "subscribe": the engine has already written
//     the acknowledgment carrying the sid before calling this hook.
//   - OnUnsubscribe handles "unsubscribe", and is also invoked by
//     connection teardown; it must run at most once per subscription
//     regardless of which path triggered it.
//
// Any hook left nil falls back to a SERVER_ERROR response for that
// message type, mirroring the taxonomy's catch-all (spec.md §7).
type Service struct {
	OnCall        func(ctx *Context) error
	OnSubscribe   func(ctx *Context, pub *Publisher) error
	OnUnsubscribe func(ctx *Context) error
}

// dispatchService demultiplexes ctx.Type and runs the matching hook.
// It is invoked directly by the Dispatch Engine for routes registered
// with a tagged kindService (spec.md §9: "avoid structural inspection
// at call time" — the tag, not a type switch on the handler value, is
// what selects this code path).
func dispatchService(svc *Service, ctx *Context) error {
	switch ctx.EffectiveType() {
	case TypeSubscribe:
		if svc.OnSubscribe == nil {
			return ErrServerError(nil)
		}
		sid := uuid.NewString()
		ctx.Sid = sid
		ctx.Response.Write(200, map[string]any{"type": "subscribe", "sid": sid})
		pub := &Publisher{ctx: ctx, sid: sid}
		if err := svc.OnSubscribe(ctx, pub); err != nil {
			return err
		}
		return nil
	case TypeUnsubscribe:
		if svc.OnUnsubscribe == nil {
			return ErrServerError(nil)
		}
		if err := svc.OnUnsubscribe(ctx); err != nil {
			return err
		}
		ctx.Response.Write(200, map[string]any{"type": "unsubscribe", "sid": ctx.Sid})
		ctx.Response.Close()
		return nil
	default:
		if svc.OnCall == nil {
			return ErrServerError(nil)
		}
		if err := svc.OnCall(ctx); err != nil {
			return err
		}
		return nil
	}
}
