package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"branchchat/internal/chat"
	"branchchat/internal/event"
	"branchchat/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP layer
	},
}

// wsClient is one connected WebSocket session
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	ctx    context.Context
	cancel context.CancelFunc
}

// wsRequest is an incoming client frame
type wsRequest struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	ParentID       *uint  `json:"parent_id"`
	Message        string `json:"message"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	log.Info().Str("client", clientID).Msg("websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		// Cancelling the session context stops in-flight streaming turns:
		// no further chunk delivery, no persistence of partial content.
		c.cancel()
		c.server.mu.Lock()
		delete(c.server.clients, c.id)
		c.server.mu.Unlock()
		c.conn.Close()
		log.Info().Str("client", c.id).Msg("websocket client disconnected")
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("Invalid message format.")
			continue
		}

		switch req.Type {
		case "chat_message":
			if req.ConversationID == 0 || req.Message == "" {
				c.sendError("conversation_id and message are required.")
				continue
			}
			go c.runTurn(req)
		case "ping":
			c.sendJSON(map[string]string{"type": "pong"})
		default:
			log.Debug().Str("type", req.Type).Str("client", c.id).Msg("unknown websocket message type")
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// runTurn drives one streaming chat turn and forwards its events
func (c *wsClient) runTurn(req wsRequest) {
	events := c.server.chat.Stream(c.ctx, req.ConversationID, req.ParentID, req.Message)

	for ev := range events {
		switch ev.Type {
		case chat.EventUserMessage:
			c.sendJSON(map[string]interface{}{
				"type":    "user_message",
				"message": messageView(ev.Message),
			})
		case chat.EventStart:
			c.sendJSON(map[string]string{"type": "assistant_message_start"})
		case chat.EventChunk:
			c.sendJSON(map[string]interface{}{
				"type":  "assistant_message_chunk",
				"chunk": ev.Chunk,
			})
		case chat.EventComplete:
			c.sendJSON(map[string]interface{}{
				"type":    "assistant_message_complete",
				"message": messageView(ev.Message),
			})
		case chat.EventError:
			log.Warn().Err(ev.Err).Str("client", c.id).Msg("chat turn failed")
			c.sendError(ev.Err.Error())
		}
	}
}

func messageView(m *storage.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"parent_id":       m.ParentID,
		"role":            m.Role,
		"content":         m.Content,
		"created_at":      m.CreatedAt.Format(time.RFC3339),
	}
}

func (c *wsClient) sendError(message string) {
	c.sendJSON(map[string]string{"type": "error", "message": message})
}

func (c *wsClient) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("client", c.id).Msg("websocket send buffer full, dropping frame")
	}
}

// broadcastEvent forwards a bus event to every connected client
func (s *Server) broadcastEvent(evt *event.Event) {
	payload := map[string]interface{}{
		"type":            "event",
		"event_type":      evt.Type,
		"conversation_id": evt.ConversationID,
	}
	if evt.Message != nil {
		payload["message"] = messageView(evt.Message)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}
