// Package subscription tracks the connection-scoped teardown hooks a
// transport adapter must run when a client disconnects. It mirrors
// go-claw's in-process event bus (internal/bus), generalized from a
// topic-prefix pub/sub fan-out to a per-connection registry of
// one-shot teardown closures keyed by (connection, id) — the shape
// spec.md §5 calls for: "a map keyed by connection → set of sids."
package subscription

import "sync"

// Registry is safe for concurrent use. One Registry is shared by a
// transport server across all of its connections.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]map[string]func()
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byConn: make(map[string]map[string]func())}
}

// Track records teardown under (connID, id). If the transport's
// connection later disconnects without an explicit unsubscribe,
// DropConnection invokes it. id is whatever correlation key the
// transport uses to find this entry again — typically the client's
// request id or the server-generated sid.
func (r *Registry) Track(connID, id string, teardown func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byConn[connID]
	if !ok {
		subs = make(map[string]func())
		r.byConn[connID] = subs
	}
	subs[id] = teardown
}

// Untrack removes the (connID, id) entry without invoking it. Call
// this after an explicit unsubscribe has already run its own teardown
// through the dispatcher, so a later disconnect does not fire it a
// second time (spec.md testable property 7: "never both").
func (r *Registry) Untrack(connID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.byConn, connID)
	}
}

// DropConnection invokes and removes every teardown still tracked for
// connID, exactly once each, and reports how many ran (spec.md
// testable property 8).
func (r *Registry) DropConnection(connID string) int {
	r.mu.Lock()
	subs := r.byConn[connID]
	delete(r.byConn, connID)
	r.mu.Unlock()

	for _, teardown := range subs {
		teardown()
	}
	return len(subs)
}

// Count returns the number of subscriptions tracked for connID.
func (r *Registry) Count(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn[connID])
}

// Total returns the number of subscriptions tracked across every
// connection, used by /healthz reporting.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, subs := range r.byConn {
		n += len(subs)
	}
	return n
}
