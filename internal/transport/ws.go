package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/hub"
	"github.com/sunli829/bigjson/internal/logging"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueDepth = 256
)

// wireRequest is the client->server message envelope, grounded on
// handler_ws.rs's ClientRequest enum (#[serde(tag = "type")]).
type wireRequest struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	Path   *string           `json:"path,omitempty"`
	Prefix *string           `json:"prefix,omitempty"`
	Patch  []patch.Operation `json:"patch,omitempty"`
}

// wireResponse is the server->client message envelope, grounded on
// handler_ws.rs's ServerResponse enum.
type wireResponse struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Patch   []patch.Operation `json:"patch,omitempty"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Message string            `json:"message,omitempty"`
}

// wsConn holds one client's subscriptions. Only the read loop goroutine
// mutates subs, so it needs no lock of its own; forwarder goroutines never
// touch it, they only ever write to send.
type wsConn struct {
	conn net.Conn
	send chan []byte
	subs map[string]*hub.Subscription

	sendMu sync.Mutex
	closed bool
}

// handleWebSocket upgrades the connection and negotiates the "bigjson"
// subprotocol, admission-controlled the same way the teacher's
// handleWebSocket is: a rate limiter first, then a bounded connection
// semaphore, matching ws/internal/shared/handlers_ws.go's ordering.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.connLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("connection rate limit exceeded"))
		return
	}

	select {
	case s.connSem <- struct{}{}:
	default:
		writeError(w, http.StatusServiceUnavailable, errTooManyConnections)
		return
	}

	upgrader := ws.HTTPUpgrader{
		Protocol: func(proto string) bool { return proto == "bigjson" },
	}
	conn, _, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		<-s.connSem
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	if s.met != nil {
		s.met.WSConnectionsTotal.Inc()
		s.met.WSConnectionsActive.Inc()
	}

	c := &wsConn{
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
		subs: make(map[string]*hub.Subscription),
	}

	go s.wsWritePump(c)
	go s.wsReadPump(c)
}

func (s *Server) wsReadPump(c *wsConn) {
	defer logging.RecoverPanic(s.log, "wsReadPump", nil)
	defer s.wsCleanup(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			if s.met != nil {
				s.met.WSMessagesReceived.Inc()
			}
			s.handleWSMessage(c, data)
		case ws.OpClose:
			return
		}
	}
}

func (s *Server) handleWSMessage(c *wsConn, data []byte) {
	var req wireRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return // malformed frame; upstream closes the connection on this too
	}

	switch req.Type {
	case "subscribe":
		s.wsSubscribe(c, req)
	case "unsubscribe":
		s.wsUnsubscribe(c, req)
	case "get":
		s.wsGet(c, req)
	case "patch":
		s.wsPatch(c, req)
	}
}

func (s *Server) wsSubscribe(c *wsConn, req wireRequest) {
	if _, exists := c.subs[req.ID]; exists {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: fmt.Sprintf("duplicate operation id: %q", req.ID)})
		return
	}
	path, err := parseOptionalPointer(req.Path)
	if err != nil {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: err.Error()})
		return
	}

	sub, initial := s.svc.Subscribe(path)
	c.subs[req.ID] = sub

	s.wsSend(c, wireResponse{
		Type:  "patch",
		ID:    req.ID,
		Patch: []patch.Operation{{Op: patch.OpAdd, Value: initial}},
	})

	go s.wsForward(c, req.ID, sub)
}

// wsForward streams reprojected patches to the client until sub's channel
// closes, whether from an explicit Unsubscribe or the hub evicting a slow
// consumer. Unlike handler_ws.rs, which needs an explicit oneshot cancel
// channel per subscription because a tokio broadcast receiver has no
// "closed" state to range over, ranging over a Go channel already exits the
// moment hub.Cancel closes it, so no separate cancellation signal is needed.
func (s *Server) wsForward(c *wsConn, id string, sub *hub.Subscription) {
	defer logging.RecoverPanic(s.log, "wsForward", map[string]any{"id": id})
	for ops := range sub.C() {
		s.wsSend(c, wireResponse{Type: "patch", ID: id, Patch: ops})
	}
}

func (s *Server) wsUnsubscribe(c *wsConn, req wireRequest) {
	sub, ok := c.subs[req.ID]
	if !ok {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: fmt.Sprintf("operation id does not exist: %q", req.ID)})
		return
	}
	delete(c.subs, req.ID)
	s.svc.Unsubscribe(sub)
	s.wsSend(c, wireResponse{Type: "complete", ID: req.ID})
}

func (s *Server) wsGet(c *wsConn, req wireRequest) {
	path, err := parseOptionalPointer(req.Path)
	if err != nil {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: err.Error()})
		return
	}
	value, err := s.svc.Get(path)
	if err != nil {
		value = document.Null()
	}
	data, err := document.Encode(value)
	if err != nil {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: err.Error()})
		return
	}
	s.wsSend(c, wireResponse{Type: "response", ID: req.ID, Value: json.RawMessage(data)})
}

func (s *Server) wsPatch(c *wsConn, req wireRequest) {
	prefix, err := parseOptionalPointer(req.Prefix)
	if err != nil {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: err.Error()})
		return
	}
	if err := s.svc.Patch(prefix, req.Patch); err != nil {
		s.wsSend(c, wireResponse{Type: "error", ID: req.ID, Message: err.Error()})
		return
	}
	s.wsSend(c, wireResponse{Type: "response", ID: req.ID})
}

func (s *Server) wsSend(c *wsConn, resp wireResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal websocket response")
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow client: drop rather than block every other connection's
		// forwarder goroutine on one stuck reader.
	}
}

func (s *Server) wsCleanup(c *wsConn) {
	for id, sub := range c.subs {
		delete(c.subs, id)
		s.svc.Unsubscribe(sub)
	}
	c.sendMu.Lock()
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()
}

func (s *Server) wsWritePump(c *wsConn) {
	defer logging.RecoverPanic(s.log, "wsWritePump", nil)
	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		<-s.connSem
		if s.met != nil {
			s.met.WSConnectionsActive.Dec()
		}
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, msg); err != nil {
				return
			}
			if err := writer.Flush(); err != nil {
				return
			}
			if s.met != nil {
				s.met.WSMessagesSent.Inc()
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func parseOptionalPointer(s *string) (pointer.Path, error) {
	if s == nil {
		return pointer.Root(), nil
	}
	return pointer.Parse(*s)
}
