package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// WSMessage is the envelope for inbound client messages.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinSessionData binds a connection to a session.
type JoinSessionData struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// SubmitChoiceData plays one chip.
type SubmitChoiceData struct {
	Value int `json:"value"`
}

// HandleWebSocket upgrades the connection and starts the read/write pumps.
// The client identifies itself with a join_session message.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:     conn,
		lastSeen: time.Now(),
		send:     make(chan []byte, 256),
		hub:      h,
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads and dispatches inbound messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		if c.sessionID != "" {
			c.hub.unregister <- c
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.participantID != "" {
				log.Printf("[WS] read error for %s: %v", c.participantID, err)
			}
			break
		}
		c.lastSeen = time.Now()

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage processes one inbound message.
func (c *Client) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "join_session":
		var data JoinSessionData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.SessionID == "" || data.ParticipantID == "" {
			c.sendError("session_id and participant_id required")
			return
		}
		if c.sessionID != "" {
			c.sendError("already joined")
			return
		}
		c.sessionID = data.SessionID
		c.participantID = data.ParticipantID
		c.hub.register <- c

	case "submit_choice":
		if c.sessionID == "" {
			c.sendError("join a session first")
			return
		}
		var data SubmitChoiceData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid choice data")
			return
		}
		s, err := c.hub.arena.Get(c.sessionID)
		if err != nil {
			c.sendError("session not found")
			return
		}
		// A rejected choice is a no-op: state untouched, no push.
		if !s.SubmitChoice(c.participantID, data.Value) {
			c.sendError("choice rejected")
		}

	case "get_state":
		if c.sessionID == "" {
			c.sendError("join a session first")
			return
		}
		s, err := c.hub.arena.Get(c.sessionID)
		if err != nil {
			c.sendError("session not found")
			return
		}
		if view := s.Snapshot(c.participantID); view != nil {
			c.hub.SendToParticipant(c.participantID, view)
		}

	case "heartbeat":
		c.lastSeen = time.Now()
		data, _ := json.Marshal(map[string]string{"type": "heartbeat_ack"})
		select {
		case c.send <- data:
		default:
		}

	default:
		c.sendError("Unknown message type")
	}
}
