package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Session Limits
// -----------------------------------------------------------------------------

const (
	wsWriteTimeout    = 2 * time.Second
	wsIdleTimeout     = 60 * time.Second
	wsPingInterval    = wsIdleTimeout * 9 / 10
	wsMaxCommandBytes = 4 * 1024
	wsOutboxSize      = 256
	wsReplyQueueSize  = 8
)

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

// subscriber is one websocket session. The hub owns outbox and closes it when
// the session is dropped or the server stops; replies carries answers to the
// session's own commands and is never closed.
type subscriber struct {
	hub     *FastAPIServer
	conn    *websocket.Conn
	outbox  chan any
	replies chan any
}

func newSubscriber(hub *FastAPIServer, conn *websocket.Conn) *subscriber {
	return &subscriber{
		hub:     hub,
		conn:    conn,
		outbox:  make(chan any, wsOutboxSize),
		replies: make(chan any, wsReplyQueueSize),
	}
}

// start runs the session until the peer goes away or the hub drops it.
func (c *subscriber) start() {
	go c.deliver()
	go c.listen()
}

// reply queues an answer for this session only. A full queue drops it.
func (c *subscriber) reply(msg any) bool {
	select {
	case c.replies <- msg:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

func (c *subscriber) listen() {
	defer c.leave()

	c.conn.SetReadLimit(wsMaxCommandBytes)
	c.extendIdle()
	c.conn.SetPongHandler(func(string) error { return c.extendIdle() })

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket read failed: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.hub.HandleClientMessage(c, payload)
	}
}

func (c *subscriber) extendIdle() error {
	return c.conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
}

func (c *subscriber) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.quit:
	}
	c.conn.Close()
	c.hub.Logger.Debug("WebSocket subscriber left")
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

func (c *subscriber) deliver() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var (
			msg any
			err error
		)
		select {
		case m, open := <-c.outbox:
			if !open {
				c.goodbye()
				return
			}
			msg = m
		case msg = <-c.replies:
		case <-ping.C:
			if err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			continue
		}

		if err = c.write(msg); err != nil {
			c.hub.Logger.Info("WebSocket write failed: %v", err)
			return
		}
	}
}

// write sends msg as one JSON text frame. A value that cannot be encoded is
// logged and skipped without ending the session.
func (c *subscriber) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.Logger.Error("Dropping websocket message %T: %v", msg, err)
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// goodbye tells the peer why the hub let go of the session.
func (c *subscriber) goodbye() {
	reason := "too slow"
	select {
	case <-c.hub.quit:
		reason = "server shutting down"
	default:
	}
	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(wsWriteTimeout))
}
