package state

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GET /status/stream is a pure addition on top of GET /status (§2b, §9
// Design Notes): polling remains the contract of record, this just saves
// the browser a poll loop. Adapted from listenparty.go's hub/register/
// unregister/broadcast shape, simplified from a per-session hub keyed by
// session ID to one shared hub, since there's exactly one status stream per
// process rather than one per listen-along session.
const (
	streamWriteWait    = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(_ *http.Request) bool { return true },
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// streamHub fans a status payload out to every connected browser. Safe for
// concurrent use.
type streamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]bool
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*streamClient]bool)}
}

func (h *streamHub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *streamHub) unregister(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcastStatus pushes payload to every connected client. Non-blocking per
// client: a client whose send buffer is full is skipped for this frame
// rather than stalling the caller (the applier goroutines in service.go).
func (h *streamHub) broadcastStatus(payload statusResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// handleStatusStream upgrades to a WebSocket and pushes the current status
// payload on every connect, plus a fresh one whenever the event log or
// progress table changes, with a synthetic ping frame every 30s to keep
// intermediaries from closing an otherwise-idle connection (§4.D).
func (s *Service) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("state: status stream upgrade failed", "err", err)
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, 16)}
	s.stream.register(c)

	go s.statusStreamWritePump(c)
	go s.statusStreamReadPump(c)

	if payload, err := json.Marshal(s.statusPayload()); err == nil {
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (s *Service) statusStreamWritePump(c *streamClient) {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// statusStreamReadPump only exists to drain/discard client frames and detect
// disconnects; the browser never sends this connection anything meaningful.
func (s *Service) statusStreamReadPump(c *streamClient) {
	defer s.stream.unregister(c)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
