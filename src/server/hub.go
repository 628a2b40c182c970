package server

import (
	"context"
	"encoding/json"
	"net/http"

	"fare-observer/src/interfaces"
	"fare-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Loop
// -----------------------------------------------------------------------------

// handleWebsockets owns the client set; every other goroutine talks to it
// through the register, unregister and broadcast channels.
func (s *FastAPIServer) handleWebsockets() {
	for {
		select {
		case <-s.quit:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.outbox)
			}
			s.setClientCount(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setClientCount(len(s.clients))
			s.stateMutex.RLock()
			if s.latestEvent != nil {
				client.outbox <- s.latestEvent
			}
			s.stateMutex.RUnlock()

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.outbox)
				s.setClientCount(len(s.clients))
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.outbox <- event:
				default:
					// Slow consumer
					delete(s.clients, client)
					close(client.outbox)
				}
			}
			s.setClientCount(len(s.clients))
		}
	}
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) setClientCount(n int) {
	s.stateMutex.Lock()
	s.clientCount = n
	s.stateMutex.Unlock()
}

// -----------------------------------------------------------------------------
// Deployment Notifier Implementation
// -----------------------------------------------------------------------------

var _ interfaces.IDataExchanger = (*FastAPIServer)(nil)

// Notify queues an event for every connected client. A full queue drops the
// event rather than blocking the registry commit path.
func (s *FastAPIServer) Notify(_ context.Context, event models.MDeploymentEvent) error {
	e := event
	s.stateMutex.Lock()
	s.latestEvent = &e
	s.stateMutex.Unlock()

	select {
	case <-s.quit:
	case s.broadcast <- &e:
	default:
		s.Logger.Warning("Broadcast queue full, dropping %s event for %s", e.Decision, e.Version)
	}
	return nil
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || localOrigin(origin)
	},
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newSubscriber(s, conn)

	select {
	case s.register <- client:
	case <-s.quit:
		conn.Close()
		return
	}

	client.start()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage answers {"command":"model-info"}; other commands are ignored.
func (s *FastAPIServer) HandleClientMessage(client *subscriber, message []byte) {
	var cmd models.MClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	if cmd.Command != "model-info" {
		return
	}

	var response interface{}
	info, err := s.modelInfo(context.Background())
	if err != nil {
		response = map[string]string{"type": "ERROR", "error": err.Error()}
	} else {
		response = info
	}

	if !client.reply(response) {
		s.Logger.Debug("Reply queue full, dropping model-info")
	}
}
