package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub maintains the set of active clients and pushes Klassenbuch events to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Messages for every client.
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	mutex sync.RWMutex
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// Set for connections served through ServeConn.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	userID string

	// Classes the client is looking at; guarded by hub.mutex.
	classes map[string]bool
}

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string      `json:"type"`
	ClassID string      `json:"class_id,omitempty"`
	Data    interface{} `json:"data"`
}

// inbound is what clients may send: subscribe/unsubscribe to class updates.
type inbound struct {
	Type    string `json:"type"`
	ClassID string `json:"class_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			logrus.WithField("user_id", client.userID).Info("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			logrus.WithField("user_id", client.userID).Info("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				h.deliver(client, message)
			}
			h.mutex.Unlock()
		}
	}
}

// deliver must be called with the write lock held; slow clients are dropped.
func (h *Hub) deliver(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		close(client.send)
		delete(h.clients, client)
		return false
	}
}

func (h *Hub) fanOut(data []byte, match func(*Client) bool) (sent, dropped int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		if !match(client) {
			continue
		}
		if h.deliver(client, data) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// BroadcastToUser sends a message to all connections of one user.
func (h *Hub) BroadcastToUser(userID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("Error marshaling WebSocket message")
		return
	}
	sent, dropped := h.fanOut(data, func(c *Client) bool { return c.userID == userID })
	logrus.WithFields(logrus.Fields{"user_id": userID, "sent": sent, "dropped": dropped}).Debug("BroadcastToUser")
}

// BroadcastToClass sends a message to every client subscribed to classID.
func (h *Hub) BroadcastToClass(classID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("Error marshaling WebSocket message")
		return
	}
	sent, dropped := h.fanOut(data, func(c *Client) bool { return c.classes[classID] })
	logrus.WithFields(logrus.Fields{"class_id": classID, "sent": sent, "dropped": dropped}).Debug("BroadcastToClass")
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("Error marshaling WebSocket message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logrus.Warn("Broadcast channel is full")
	}
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) newClient(conn *websocket.Conn, userID string, classIDs []string) *Client {
	c := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  userID,
		classes: make(map[string]bool, len(classIDs)),
	}
	for _, id := range classIDs {
		c.classes[id] = true
	}
	return c
}

// handleInbound applies a subscribe or unsubscribe frame.
func (h *Hub) handleInbound(client *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.ClassID == "" {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	switch in.Type {
	case "subscribe":
		client.classes[in.ClassID] = true
	case "unsubscribe":
		delete(client.classes, in.ClassID)
	}
}

// ServeWS upgrades a net/http request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string, classIDs []string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade error")
		return
	}
	h.ServeConn(conn, userID, classIDs)
}

// ServeConn handles an already-established websocket connection
func (h *Hub) ServeConn(conn *websocket.Conn, userID string, classIDs []string) {
	client := h.newClient(conn, userID, classIDs)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("user_id", c.userID).WithError(err).Warn("WebSocket unexpected close")
			}
			return
		}
		c.hub.handleInbound(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeFiberWS handles Fiber websocket connections. It blocks until the
// connection closes.
func (h *Hub) ServeFiberWS(c *fiberws.Conn, userID string, classIDs []string) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("user_id", userID).Errorf("ServeFiberWS panic: %v", r)
		}
	}()

	client := h.newClient(nil, userID, classIDs)
	h.register <- client

	done := make(chan struct{})
	go h.fiberWritePump(client, c, done)
	// read inline so the Fiber connection stays on its own goroutine
	h.fiberReadPump(client, c)
	close(done)
}

func (h *Hub) fiberWritePump(client *Client, c *fiberws.Conn, done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("user_id", client.userID).Errorf("fiberWritePump panic: %v", r)
		}
		c.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case message, ok := <-client.send:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.WriteMessage(fiberws.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(fiberws.TextMessage, message); err != nil {
				logrus.WithField("user_id", client.userID).WithError(err).Warn("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(fiberws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) fiberReadPump(client *Client, c *fiberws.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("user_id", client.userID).Errorf("fiberReadPump panic: %v", r)
		}
		h.unregister <- client
	}()

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if fiberws.IsUnexpectedCloseError(err, fiberws.CloseGoingAway, fiberws.CloseAbnormalClosure) {
				logrus.WithField("user_id", client.userID).WithError(err).Warn("WebSocket unexpected close")
			}
			return
		}
		h.handleInbound(client, message)
	}
}
