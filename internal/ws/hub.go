package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/truepvp/backend/internal/arena"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the router middleware
	},
}

// Client represents a connected WebSocket client
type Client struct {
	conn          *websocket.Conn
	participantID string
	sessionID     string
	lastSeen      time.Time
	send          chan []byte
	hub           *Hub
}

// Hub is the connection registry: it maps participant identities to live
// connection handles, routes outbound pushes, and tracks liveness. It never
// owns game logic.
type Hub struct {
	registry  *Registry
	arena     *arena.Registry
	graceSecs int
	events    *Publisher

	register   chan *Client
	unregister chan *Client
}

// Registry holds the identity -> connection bindings behind one lock.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client            // participantID -> client
	rooms   map[string]map[string]*Client // sessionID -> participantID -> client
}

// NewHub creates a hub bound to the session registry.
func NewHub(ar *arena.Registry, graceSecs int, events *Publisher) *Hub {
	return &Hub{
		registry: &Registry{
			clients: make(map[string]*Client),
			rooms:   make(map[string]map[string]*Client),
		},
		arena:      ar,
		graceSecs:  graceSecs,
		events:     events,
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister events. Start once at boot.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	// Validate membership before touching the registry maps: a client naming
	// a bogus session must not displace an existing binding or linger in the
	// rooms index.
	s, err := h.arena.Get(client.sessionID)
	if err != nil {
		client.sendError("Session not found")
		return
	}
	if !s.HasParticipant(client.participantID) {
		client.sendError("Not a participant of this session")
		return
	}

	r := h.registry
	r.mu.Lock()
	isReconnect := false
	if oldClient, exists := r.clients[client.participantID]; exists {
		log.Printf("[WS] %s reconnecting - closing old connection", client.participantID)
		oldClient.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"),
			time.Now().Add(5*time.Second))
		oldClient.conn.Close()
		select {
		case <-oldClient.send:
		default:
			close(oldClient.send)
		}
		delete(r.clients, client.participantID)
		if room, ok := r.rooms[oldClient.sessionID]; ok {
			delete(room, client.participantID)
		}
		isReconnect = true
	}
	r.clients[client.participantID] = client
	if _, ok := r.rooms[client.sessionID]; !ok {
		r.rooms[client.sessionID] = make(map[string]*Client)
	}
	r.rooms[client.sessionID][client.participantID] = client
	r.mu.Unlock()

	log.Printf("[WS] %s connected to session %s", client.participantID, client.sessionID)

	// Bind re-validates: the session may have been reaped between the check
	// above and here. On failure the fresh registration is unwound.
	s, err = h.arena.Bind(client.sessionID, client.participantID)
	if err != nil {
		r.mu.Lock()
		if cur := r.clients[client.participantID]; cur == client {
			delete(r.clients, client.participantID)
			if room, ok := r.rooms[client.sessionID]; ok {
				delete(room, client.participantID)
				if len(room) == 0 {
					delete(r.rooms, client.sessionID)
				}
			}
		}
		r.mu.Unlock()
		if errors.Is(err, arena.ErrSessionFull) {
			client.sendError("Not a participant of this session")
		} else {
			client.sendError("Session not found")
		}
		return
	}

	if s.State() == arena.StateAwaitingOpponent {
		h.SendToParticipant(client.participantID, map[string]interface{}{
			"type":    "waiting_for_opponent",
			"message": "Waiting for opponent...",
		})
	} else {
		// Bind already pushed fresh state to both sides via the session
		// hooks; announce the rebind to the room.
		if isReconnect {
			h.BroadcastToSession(client.sessionID, map[string]interface{}{
				"type":    "player_connected",
				"player":  client.participantID,
				"message": "Opponent connected",
			})
		}
	}
}

func (h *Hub) handleUnregister(client *Client) {
	r := h.registry
	r.mu.Lock()
	cur, ok := r.clients[client.participantID]
	if ok && cur == client {
		delete(r.clients, client.participantID)
		if room, exists := r.rooms[client.sessionID]; exists {
			delete(room, client.participantID)
			if len(room) == 0 {
				delete(r.rooms, client.sessionID)
			}
		}
		select {
		case <-client.send:
		default:
			close(client.send)
		}
	}
	r.mu.Unlock()
	if !ok || cur != client {
		return
	}

	log.Printf("[WS] %s disconnected from session %s", client.participantID, client.sessionID)
	h.arena.Unbind(client.sessionID, client.participantID)

	if s, err := h.arena.Get(client.sessionID); err == nil && !s.IsTerminal() {
		h.BroadcastToSession(client.sessionID, map[string]interface{}{
			"type":          "player_disconnected",
			"player":        client.participantID,
			"grace_seconds": h.graceSecs,
			"message":       "Opponent disconnected. Waiting for reconnect...",
		})
		h.events.SessionEvent("player_disconnected", client.sessionID, client.participantID)
	}
}

// PushState implements arena.Broadcaster: each participant gets their own
// asymmetric snapshot.
func (h *Hub) PushState(s *arena.Session) {
	for _, id := range s.ParticipantIDs() {
		if view := s.Snapshot(id); view != nil {
			h.SendToParticipant(id, view)
		}
	}
}

// SendToParticipant sends a message to a specific participant
func (h *Hub) SendToParticipant(participantID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] marshal error: %v", err)
		return
	}

	r := h.registry
	r.mu.RLock()
	client, exists := r.clients[participantID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	select {
	case client.send <- data:
	default:
		log.Printf("[WS] send buffer full for %s, dropping message", participantID)
	}
}

// BroadcastToSession sends a message to everyone bound to a session.
func (h *Hub) BroadcastToSession(sessionID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] marshal error: %v", err)
		return
	}

	r := h.registry
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, exists := r.rooms[sessionID]; exists {
		for _, client := range room {
			select {
			case client.send <- data:
			default:
				log.Printf("[WS] send buffer full for %s in session %s", client.participantID, sessionID)
			}
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return len(h.registry.clients)
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed - connection is being replaced or cleaned up.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for %s: %v", c.participantID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for %s: %v", c.participantID, err)
				return
			}
		}
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
	select {
	case c.send <- data:
	default:
	}
}
