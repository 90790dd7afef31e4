package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/voiceforge/api/internal/model"
)

// Topic names. Subscribers attach to a single generation or to everything
// owned by a user.
func GenerationTopic(generationID string) string { return "gen:" + generationID }
func UserTopic(userID string) string             { return "user:" + userID }

// Client represents a WebSocket subscriber on one topic.
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections grouped by topic.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to one topic.
type BroadcastMessage struct {
	Topic   string
	Message []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()
			log.Printf("Client subscribed to %s", client.Topic)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.Topic]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.Topic)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unsubscribed from %s", client.Topic)

		case msg := <-h.broadcast:
			// Full lock: the slow-subscriber path closes Send and mutates
			// the topic map, which readers of h.clients must not race.
			h.mu.Lock()
			if clients, ok := h.clients[msg.Topic]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						// Slow subscriber, drop it rather than block the hub.
						close(client.Send)
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.Topic)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// PublishStatus delivers a status event to the generation's subscribers and,
// when ownerID is known, to the owner's user stream.
func (h *Hub) PublishStatus(ownerID string, event *model.StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal status event: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		Topic:   GenerationTopic(event.GenerationID),
		Message: data,
	}
	if ownerID != "" {
		h.broadcast <- &BroadcastMessage{
			Topic:   UserTopic(ownerID),
			Message: data,
		}
	}
}

// send delivers a message to one client if it is still registered. The hub
// closes Send under the write lock when it drops a subscriber, so a
// membership check under the read lock is enough to make the send safe.
func (h *Hub) send(client *Client, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[client.Topic]; ok && clients[client] {
		select {
		case client.Send <- message:
		default:
		}
	}
}

// SubscriberCount reports how many clients are attached to a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// HandleConnection handles a WebSocket connection subscribed to one topic.
// It blocks until the peer disconnects.
func (h *Hub) HandleConnection(c *websocket.Conn, topic string) {
	client := &Client{
		Topic: topic,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Keep-alive ping
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.EventTypePing {
			pong := model.WSMessage{Type: model.EventTypePong}
			data, _ := json.Marshal(pong)
			h.send(client, data)
		}
	}
}
