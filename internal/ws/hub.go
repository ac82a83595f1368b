package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/store"
)

// Topics a client can subscribe to. TopicAuthorPrefix is followed by a
// user id and matches events for that author's posts only.
const (
	TopicPosts        = "posts"
	TopicAuthorPrefix = "author:"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	cache      *store.Cache
	channel    string
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// Message is the frame sent to clients for every post event.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// postEvent is the part of a post event the hub routes on.
type postEvent struct {
	Type     string `json:"type"`
	AuthorID string `json:"author_id"`
}

// NewHub relays events published on channel to WebSocket clients.
// Browsers are accepted from allowedOrigins; requests without an Origin
// header are always accepted.
func NewHub(cache *store.Cache, channel string, allowedOrigins []string, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cache:      cache,
		channel:    channel,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin] || origins["*"]
			},
		},
	}
}

// Run relays events until ctx is cancelled. It must be running before
// clients connect.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	sub := h.cache.Subscribe(ctx, h.channel)
	defer sub.Close()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debugw("Client unregistered")

		case msg, ok := <-messages:
			if !ok {
				h.logger.Warnw("Post event subscription closed")
				messages = nil
				continue
			}
			h.handleMessage(msg)
		}
	}
}

func (h *Hub) handleMessage(msg *store.Message) {
	var event postEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		h.logger.Warnw("Dropping malformed post event", "error", err)
		return
	}
	h.broadcastToClients(event, json.RawMessage(msg.Payload))
}

// broadcastToClients sends the event to every client subscribed to it,
// tagged with the topic the client matched on.
func (h *Hub) broadcastToClients(event postEvent, payload json.RawMessage) {
	now := time.Now().Unix()
	frames := make(map[string][]byte, 2)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		topic, ok := client.match(event.AuthorID)
		if !ok {
			continue
		}
		frame, built := frames[topic]
		if !built {
			var err error
			frame, err = json.Marshal(Message{
				Type:      event.Type,
				Topic:     topic,
				Data:      payload,
				Timestamp: now,
			})
			if err != nil {
				h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
				return
			}
			frames[topic] = frame
		}
		select {
		case client.send <- frame:
		default:
			// Client is slow or disconnected
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// ClientCount reports the connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams post events to it.
// Clients start subscribed to every post; a subscribe frame narrows or
// widens that.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: map[string]bool{TopicPosts: true},
	}
	if author := r.URL.Query().Get("author"); author != "" {
		client.topics = map[string]bool{TopicAuthorPrefix + author: true}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
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

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Debugw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
	}
}

// match returns the topic under which the client receives an event by
// authorID. An author subscription wins over the all-posts feed.
func (c *Client) match(authorID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if authorID != "" && c.topics[TopicAuthorPrefix+authorID] {
		return TopicAuthorPrefix + authorID, true
	}
	if c.topics[TopicPosts] {
		return TopicPosts, true
	}
	return "", false
}
