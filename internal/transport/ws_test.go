package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// The server speaks gobwas/ws; gorilla/websocket is used only as a
// test-side client here, the way loadtest/ drives the upstream server in
// the teacher's repo.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{Subprotocols: []string{"bigjson"}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubscribeReceivesInitialAndPatch(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	conn := dialWS(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "id": "sub1", "path": "/x"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	initial := readWSResponse(t, conn)
	if initial["type"] != "patch" || initial["id"] != "sub1" {
		t.Fatalf("unexpected initial message: %v", initial)
	}

	if err := conn.WriteJSON(map[string]any{"type": "patch", "id": "p1", "patch": []map[string]any{
		{"op": "add", "path": "/x", "value": 42},
	}}); err != nil {
		t.Fatalf("write patch: %v", err)
	}

	// The patch ack (written from the read loop) and the subscription's
	// patch notification (written from its own forwarder goroutine) race to
	// reach the send queue, so accept either order.
	first2 := readWSResponse(t, conn)
	second2 := readWSResponse(t, conn)
	byType := map[string]map[string]any{
		first2["type"].(string):  first2,
		second2["type"].(string): second2,
	}
	ack, ok := byType["response"]
	if !ok || ack["id"] != "p1" {
		t.Fatalf("missing patch ack among %v, %v", first2, second2)
	}
	notify, ok := byType["patch"]
	if !ok || notify["id"] != "sub1" {
		t.Fatalf("missing subscription notify among %v, %v", first2, second2)
	}
}

func TestWebSocketGet(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	conn := dialWS(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(map[string]any{"type": "get", "id": "g1", "path": "/missing"}); err != nil {
		t.Fatalf("write get: %v", err)
	}
	resp := readWSResponse(t, conn)
	if resp["type"] != "response" || resp["id"] != "g1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if v, ok := resp["value"]; !ok || v != nil {
		t.Fatalf("expected null value for missing path, got %v", v)
	}
}

func TestWebSocketUnsubscribeSendsComplete(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	conn := dialWS(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	conn.WriteJSON(map[string]any{"type": "subscribe", "id": "sub1", "path": "/y"})
	readWSResponse(t, conn) // initial

	conn.WriteJSON(map[string]any{"type": "unsubscribe", "id": "sub1"})
	complete := readWSResponse(t, conn)
	if complete["type"] != "complete" || complete["id"] != "sub1" {
		t.Fatalf("unexpected unsubscribe ack: %v", complete)
	}
}

func TestWebSocketDuplicateSubscribeID(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	conn := dialWS(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	conn.WriteJSON(map[string]any{"type": "subscribe", "id": "dup", "path": "/"})
	readWSResponse(t, conn)

	conn.WriteJSON(map[string]any{"type": "subscribe", "id": "dup", "path": "/"})
	resp := readWSResponse(t, conn)
	if resp["type"] != "error" || resp["id"] != "dup" {
		t.Fatalf("expected duplicate-id error, got %v", resp)
	}
}

func readWSResponse(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message %s: %v", data, err)
	}
	return msg
}
