package handlers

import (
	"encoding/json"
	"log"
	"sync"

	"nardy-match-service/models"
)

// wsWriter is the slice of the websocket connection the hub needs. Tests
// substitute a recorder.
type wsWriter interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one authenticated websocket connection. Writes are serialized
// through the mutex because the underlying connection allows only one
// concurrent writer.
type Client struct {
	UserID string

	mu   sync.Mutex
	conn wsWriter
}

func NewClient(userID string, conn wsWriter) *Client {
	return &Client{UserID: userID, conn: conn}
}

// Send pushes one event frame to the client. Data is marshaled into the
// envelope; failures are returned so the read loop can drop the connection.
func (c *Client) Send(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(models.Envelope{Event: event, Data: raw})
}

// Hub is the in-process connection registry: userID → connection plus the
// per-room broadcast groups. One hub is constructed at startup and threaded
// into the gateway; it holds no game state.
type Hub struct {
	mu    sync.RWMutex
	users map[string]*Client
	rooms map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		users: make(map[string]*Client),
		rooms: make(map[string]map[string]*Client),
	}
}

// Register binds the connection to its user. A second connection for the
// same user replaces the first; the old socket is closed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.users[c.UserID]
	h.users[c.UserID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.conn.Close()
	}
}

// Unregister drops the connection and removes it from every room group.
// A newer connection for the same user is left untouched.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
	for roomID, members := range h.rooms {
		if members[c.UserID] == c {
			delete(members, c.UserID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
}

func (h *Hub) JoinRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[c.UserID] = c
}

func (h *Hub) LeaveRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if members[c.UserID] == c {
		delete(members, c.UserID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// SendToUser pushes an event to a user's current connection, if any.
// Returns false when the user is not connected.
func (h *Hub) SendToUser(userID, event string, data interface{}) bool {
	h.mu.RLock()
	c := h.users[userID]
	h.mu.RUnlock()

	if c == nil {
		return false
	}
	if err := c.Send(event, data); err != nil {
		log.Printf("[HUB] Failed to push %s to user %s: %v", event, userID, err)
		return false
	}
	return true
}

// SendToRoom broadcasts an event to every member of a room group.
func (h *Hub) SendToRoom(roomID, event string, data interface{}) {
	h.sendToRoomExcept(roomID, "", event, data)
}

// SendToRoomExcept broadcasts to a room, skipping one user (typically the
// actor who already got a direct reply).
func (h *Hub) SendToRoomExcept(roomID, exceptUserID, event string, data interface{}) {
	h.sendToRoomExcept(roomID, exceptUserID, event, data)
}

func (h *Hub) sendToRoomExcept(roomID, exceptUserID, event string, data interface{}) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for userID, c := range h.rooms[roomID] {
		if userID == exceptUserID {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(event, data); err != nil {
			log.Printf("[HUB] Failed to broadcast %s to room %s member %s: %v", event, roomID, c.UserID, err)
		}
	}
}
