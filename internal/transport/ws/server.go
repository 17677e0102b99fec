// Package ws adapts the Dispatcher to a persistent WebSocket RPC
// stream (spec.md §4.5): each connection reads framed Requests, feeds
// them to a Dispatcher, and writes framed Responses back, matching
// the inbound frame's encoding (JSON text, MessagePack binary).
// Adapted from go-claw's internal/gateway WS loop, generalized from
// JSON-RPC agent chat to path-routed dispatch, with authentication
// stripped (an explicit non-goal here).
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/language"

	"github.com/basket/appcd/internal/dispatcher"
	"github.com/basket/appcd/internal/shared"
	"github.com/basket/appcd/internal/subscription"
	apptelemetry "github.com/basket/appcd/internal/telemetry/otel"
)

// Config holds the dependencies the WS adapter needs from the rest of
// the daemon.
type Config struct {
	Dispatcher    *dispatcher.Dispatcher
	Subscriptions *subscription.Registry
	Logger        *slog.Logger
	AllowOrigins  []string

	// Metrics records subscription open/close counts. Nil disables
	// instrumentation (no-op), same convention as dispatcher.WithMetrics.
	Metrics *apptelemetry.Metrics
}

// Server accepts WebSocket connections and drives them through a
// Dispatcher.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	validate *validatorFunc
}

type validatorFunc func(data []byte) error

// New builds a Server. A nil Subscriptions registry is replaced with
// a fresh one; a nil Logger is replaced with a no-op sink.
func New(cfg Config) (*Server, error) {
	if cfg.Subscriptions == nil {
		cfg.Subscriptions = subscription.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schema, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	var vf validatorFunc = func(data []byte) error {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		return schema.Validate(v)
	}
	return &Server{cfg: cfg, logger: logger, validate: &vf}, nil
}

// Handler returns the http.Handler exposing the /ws upgrade endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// client holds the per-connection state: the websocket connection and
// the set of Contexts backing currently-open subscriptions, keyed by
// the client's own request id (so a paired unsubscribe can reuse the
// same Context and observe ctx.Sid, per spec.md §3/§4.4).
type client struct {
	conn   *websocket.Conn
	connID string

	mu   sync.Mutex
	subs map[string]*dispatcher.Context
}

func (c *client) storeSub(id string, ctx *dispatcher.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = ctx
}

func (c *client) takeSub(id string) (*dispatcher.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	return ctx, ok
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		s.logger.Error("ws: accept failed", "error", err)
		return
	}
	connID := shared.NewConnID()
	c := &client{conn: conn, connID: connID, subs: map[string]*dispatcher.Context{}}
	s.logger.Info("ws: client connected",
		"conn_id", connID,
		"user_agent", r.Header.Get("User-Agent"),
		"locale", negotiateLocale(r.Header.Get("Accept-Language")))

	defer func() {
		s.cfg.Subscriptions.DropConnection(connID)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		s.logger.Info("ws: client disconnected", "conn_id", connID)
	}()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug("ws: read ended", "conn_id", connID, "error", err)
			return
		}
		s.handleFrame(ctx, c, typ, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, typ websocket.MessageType, data []byte) {
	req, err := decodeRequest(typ, data)
	if err != nil {
		s.logger.Debug("ws: malformed frame, dropping", "conn_id", c.connID, "error", err)
		return
	}
	if err := (*s.validate)(jsonify(req)); err != nil {
		s.logger.Debug("ws: frame failed schema validation, dropping", "conn_id", c.connID, "error", err)
		return
	}

	switch req.messageType() {
	case dispatcher.TypeSubscribe:
		s.handleSubscribe(ctx, c, typ, req)
	case dispatcher.TypeUnsubscribe:
		s.handleUnsubscribe(ctx, c, typ, req)
	default:
		s.handleCall(ctx, c, typ, req)
	}
}

// jsonify round-trips req through JSON so the schema validator (which
// operates on decoded `any` values) sees the same shape regardless of
// whether the frame arrived as JSON or MessagePack.
func jsonify(req Request) []byte {
	b, _ := json.Marshal(req)
	return b
}

func decodeRequest(typ websocket.MessageType, data []byte) (Request, error) {
	var req Request
	var err error
	if typ == websocket.MessageText {
		err = json.Unmarshal(data, &req)
	} else {
		err = msgpack.Unmarshal(data, &req)
	}
	return req, err
}

func (s *Server) writeFrame(ctx context.Context, c *client, typ websocket.MessageType, resp Response) {
	var payload []byte
	var err error
	if typ == websocket.MessageText {
		payload, err = json.Marshal(resp)
	} else {
		payload, err = msgpack.Marshal(resp)
	}
	if err != nil {
		s.logger.Error("ws: encode response failed", "conn_id", c.connID, "error", err)
		return
	}
	if err := c.conn.Write(ctx, typ, payload); err != nil {
		s.logger.Debug("ws: write failed", "conn_id", c.connID, "error", err)
	}
}

func (s *Server) handleCall(ctx context.Context, c *client, typ websocket.MessageType, req Request) {
	dctx := dispatcher.NewContext(req.ID, req.Path, req.Data)
	dctx.GoContext = shared.WithConnID(ctx, c.connID)
	result, err := s.cfg.Dispatcher.Call(req.Path, dctx)
	if err != nil {
		s.writeFrame(ctx, c, typ, errorResponse(req.ID, err))
		return
	}
	msg, status := drainLast(result)
	s.writeFrame(ctx, c, typ, Response{ID: req.ID, Status: status, Message: msg})
}

func (s *Server) handleSubscribe(ctx context.Context, c *client, typ websocket.MessageType, req Request) {
	dctx := dispatcher.NewContext(req.ID, req.Path, req.Data)
	dctx.Type = dispatcher.TypeSubscribe
	dctx.GoContext = shared.WithConnID(ctx, c.connID)
	c.storeSub(req.ID, dctx)

	go s.pump(ctx, c, typ, req.ID, dctx)

	_, err := s.cfg.Dispatcher.Call(req.Path, dctx)
	if err != nil {
		c.takeSub(req.ID)
		dctx.Response.Close()
		s.writeFrame(ctx, c, typ, errorResponse(req.ID, err))
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SubscriptionOpened(dctx.GoContext)
	}
	s.cfg.Subscriptions.Track(c.connID, req.ID, func() {
		_ = s.teardownSubscription(dctx)
	})
}

func (s *Server) handleUnsubscribe(ctx context.Context, c *client, typ websocket.MessageType, req Request) {
	dctx, ok := c.takeSub(req.ID)
	if !ok {
		s.logger.Debug("ws: unsubscribe for unknown id, dropping", "conn_id", c.connID, "id", req.ID)
		return
	}
	// Untrack before invoking the teardown ourselves: disconnect racing
	// this call must not also fire the same teardown (spec.md §4.4
	// "exactly one onUnsubscribe ... triggered by either explicit
	// unsubscribe or client disconnect, never both").
	s.cfg.Subscriptions.Untrack(c.connID, req.ID)
	if err := s.teardownSubscription(dctx); err != nil {
		s.writeFrame(ctx, c, typ, errorResponse(req.ID, err))
	}
}

// teardownSubscription runs the paired onUnsubscribe call and records
// the subscription-closed metric. It is the single path both explicit
// unsubscribe and connection-drop teardown funnel through, so the
// active-subscription gauge moves exactly once per subscription.
func (s *Server) teardownSubscription(dctx *dispatcher.Context) error {
	dctx.Type = dispatcher.TypeUnsubscribe
	_, err := s.cfg.Dispatcher.Call(dctx.Path, dctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SubscriptionClosed(dctx.GoContext)
	}
	return err
}

// pump drains a subscription Context's response sink onto the wire
// until it is closed, one frame per message.
func (s *Server) pump(ctx context.Context, c *client, typ websocket.MessageType, id string, dctx *dispatcher.Context) {
	for msg := range dctx.Response.C() {
		s.writeFrame(ctx, c, typ, Response{ID: id, Status: int(msg.Status), Message: msg.Body})
	}
}

// drainLast collects every message already buffered in ctx's response
// sink and returns the last one, per spec.md §4.3: "downstream wins on
// completion; whatever the upstream wrote is observable but not
// authoritative." A call that wrote nothing falls back to the
// Context's status with an empty body.
func drainLast(ctx *dispatcher.Context) (any, int) {
	var last dispatcher.Message
	found := false
drain:
	for {
		select {
		case msg, ok := <-ctx.Response.C():
			if !ok {
				break drain
			}
			last, found = msg, true
		default:
			break drain
		}
	}
	ctx.Response.Close()
	if !found {
		return map[string]any{}, int(ctx.Status)
	}
	return last.Body, int(last.Status)
}

// negotiateLocale parses a client's Accept-Language header and returns
// the highest-weighted, deduplicated locale tag, logged purely for
// operational visibility into who is connecting. An empty or
// unparseable header yields "und" (the undetermined tag).
func negotiateLocale(header string) string {
	if header == "" {
		return language.Und.String()
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return language.Und.String()
	}
	// ParseAcceptLanguage already sorts by descending weight; the first
	// entry is the client's most-preferred locale.
	return tags[0].String()
}

func errorResponse(id string, err error) Response {
	tax := dispatcher.AsTaxonomy(err)
	return Response{ID: id, Status: int(tax.Status), StatusCode: string(tax.StatusCode), Message: tax.Error()}
}
