package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/basket/appcd/internal/dispatcher"
	"github.com/basket/appcd/internal/subscription"
)

func TestNegotiateLocale(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"empty header", "", "und"},
		{"single tag", "fr", "fr"},
		{"weighted preference", "en-US;q=0.5, de;q=0.9, fr;q=0.1", "de"},
		{"garbage header", ";;;", "und"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := negotiateLocale(tc.header); got != tc.want {
				t.Errorf("negotiateLocale(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

// newTestServer wires a Dispatcher with a plain echo-style call route
// and a tick subscription service, mirroring gateway_test.go's pattern
// of standing up a real httptest.Server in front of the handler under
// test rather than calling its methods directly.
func newTestServer(t *testing.T) (*httptest.Server, *subscription.Registry) {
	t.Helper()
	root := dispatcher.New(nil)
	if err := root.Register("/echo", dispatcher.HandlerFunc(func(ctx *dispatcher.Context, next dispatcher.Next) (any, error) {
		ctx.Response.Write(200, ctx.Data)
		return nil, nil
	})); err != nil {
		t.Fatalf("register /echo: %v", err)
	}
	if err := root.Register("/tick", &dispatcher.Service{
		OnSubscribe: func(ctx *dispatcher.Context, pub *dispatcher.Publisher) error {
			pub.Publish(map[string]any{"n": 1})
			return nil
		},
		OnUnsubscribe: func(ctx *dispatcher.Context) error {
			return nil
		},
	}); err != nil {
		t.Fatalf("register /tick: %v", err)
	}

	subs := subscription.New()
	srv, err := New(Config{Dispatcher: root, Subscriptions: subs})
	if err != nil {
		t.Fatalf("ws.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, subs
}

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+serverURL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
	})
	return conn
}

func TestWS_CallRoundTripJSON(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)
	ctx := context.Background()

	req := Request{Version: "1.0", ID: "r1", Path: "/echo", Data: map[string]any{"hello": "world"}}
	b, err := jsonMarshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected text response frame, got %v", typ)
	}
	var resp Response
	if err := jsonUnmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != "r1" || resp.Status != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWS_CallRoundTripMsgpack(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)
	ctx := context.Background()

	req := Request{Version: "1.0", ID: "r2", Path: "/echo", Data: map[string]any{"n": 42}}
	b, err := msgpack.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageBinary {
		t.Fatalf("expected binary response frame, got %v", typ)
	}
	var resp Response
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != "r2" || resp.Status != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWS_SubscribeAckThenUnsubscribeTearsDownExactlyOnce(t *testing.T) {
	ts, subs := newTestServer(t)
	conn := dialWS(t, ts.URL)
	ctx := context.Background()

	subReq := Request{Version: "1.0", ID: "sub1", Path: "/tick", Type: "subscribe"}
	b, _ := jsonMarshal(subReq)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// First frame is the ack carrying the server-generated sid.
	_, ackData, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var ack Response
	if err := jsonUnmarshal(ackData, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.ID != "sub1" || ack.Status != 200 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Second frame is the published event.
	_, evData, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Response
	if err := jsonUnmarshal(evData, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.ID != "sub1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	deadline := time.Now().Add(time.Second)
	for subs.Total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if subs.Total() != 1 {
		t.Fatalf("expected one tracked subscription after ack, got %d", subs.Total())
	}

	unsubReq := Request{Version: "1.0", ID: "sub1", Path: "/tick", Type: "unsubscribe"}
	b, _ = jsonMarshal(unsubReq)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}

	_, unsubData, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read unsubscribe ack: %v", err)
	}
	var unsubAck Response
	if err := jsonUnmarshal(unsubData, &unsubAck); err != nil {
		t.Fatalf("unmarshal unsubscribe ack: %v", err)
	}
	if unsubAck.ID != "sub1" || unsubAck.Status != 200 {
		t.Fatalf("unexpected unsubscribe ack: %+v", unsubAck)
	}

	deadline = time.Now().Add(time.Second)
	for subs.Total() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if subs.Total() != 0 {
		t.Fatalf("expected teardown to untrack the subscription, got %d still tracked", subs.Total())
	}
}

func TestWS_MalformedFrameIsDroppedNotClosed(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)
	ctx := context.Background()

	// Missing the required "path" field; fails schema validation and
	// must be silently dropped rather than closing the connection.
	bad := []byte(`{"version":"1.0","id":"bad1"}`)
	if err := conn.Write(ctx, websocket.MessageText, bad); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	good := Request{Version: "1.0", ID: "good1", Path: "/echo", Data: map[string]any{"ok": true}}
	b, _ := jsonMarshal(good)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write good frame: %v", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("connection should survive the malformed frame: %v", err)
	}
	var resp Response
	if err := jsonUnmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != "good1" {
		t.Fatalf("expected the good frame's response (malformed frame should produce none), got %+v", resp)
	}
}

func TestWS_DisconnectTearsDownSubscriptionExactlyOnce(t *testing.T) {
	ts, subs := newTestServer(t)
	conn := dialWS(t, ts.URL)
	ctx := context.Background()

	subReq := Request{Version: "1.0", ID: "sub2", Path: "/tick", Type: "subscribe"}
	b, _ := jsonMarshal(subReq)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if _, _, err := conn.Read(ctx); err != nil { // ack
		t.Fatalf("read ack: %v", err)
	}
	if _, _, err := conn.Read(ctx); err != nil { // event
		t.Fatalf("read event: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for subs.Total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if subs.Total() != 1 {
		t.Fatalf("expected one tracked subscription, got %d", subs.Total())
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline = time.Now().Add(time.Second)
	for subs.Total() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if subs.Total() != 0 {
		t.Fatalf("expected disconnect to tear down the subscription, got %d still tracked", subs.Total())
	}
}

func jsonMarshal(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func jsonUnmarshal(data []byte, resp *Response) error {
	return json.Unmarshal(data, resp)
}
