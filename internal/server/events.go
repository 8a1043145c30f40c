package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/evs-hal/displayd/internal/arbiter"
	"github.com/evs-hal/displayd/internal/display"
)

const (
	eventWriteWait = 10 * time.Second
	eventPongWait  = 60 * time.Second
	eventPingEvery = (eventPongWait * 9) / 10
	eventBuffer    = 16
)

// StateEvent is one display state transition pushed to event subscribers.
type StateEvent struct {
	Type  string `json:"type"`
	State string `json:"state"`
	At    string `json:"at"`
}

// eventHub fans display state changes out to WebSocket subscribers. Slow
// consumers are dropped rather than allowed to stall the display core.
type eventHub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*eventConn]struct{}
	closed bool

	cancel func()
}

type eventConn struct {
	send chan StateEvent
}

func newEventHub(arb *arbiter.Arbiter) *eventHub {
	h := &eventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*eventConn]struct{}),
	}
	h.cancel = arb.Subscribe(h.broadcast)
	return h
}

func (h *eventHub) broadcast(s display.State) {
	ev := StateEvent{
		Type:  "display_state",
		State: s.String(),
		At:    time.Now().UTC().Format(time.RFC3339Nano),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- ev:
		default:
			// Consumer is not keeping up; drop it.
			close(c.send)
			delete(h.conns, c)
		}
	}
}

func (h *eventHub) handleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("event subscriber upgrade failed", "error", err)
		return
	}

	ec := &eventConn{send: make(chan StateEvent, eventBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[ec] = struct{}{}
	h.mu.Unlock()

	go h.writePump(conn, ec)
	h.readPump(conn, ec)
}

func (h *eventHub) writePump(conn *websocket.Conn, ec *eventConn) {
	ticker := time.NewTicker(eventPingEvery)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ec.send:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and the peer's close frame are
// processed, then unregisters the subscriber.
func (h *eventHub) readPump(conn *websocket.Conn, ec *eventConn) {
	defer h.drop(ec)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(eventPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *eventHub) drop(ec *eventConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[ec]; ok {
		close(ec.send)
		delete(h.conns, ec)
	}
}

// close unsubscribes from the arbiter and disconnects all subscribers.
func (h *eventHub) close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.conns {
		close(c.send)
		delete(h.conns, c)
	}
}
