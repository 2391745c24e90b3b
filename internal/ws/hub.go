package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// sendBufferSize is the number of queued events per client.
const sendBufferSize = 256

// ErrClientClosed is returned when sending to a closed client.
var ErrClientClosed = errors.New("websocket client closed")

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues raw data. A full queue closes the client, since a reader
// that slow has lost the stream anyway.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return ErrClientClosed
	}
}

// SendMessage queues an event.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SendOutput queues terminal output. It implements relay.Sink.
func (c *Client) SendOutput(data []byte) error {
	return c.SendMessage(&Message{Type: EventTerminalOutput, Data: string(data)})
}

// SendExit reports the session's process exit. It implements relay.Sink.
func (c *Client) SendExit(code int) {
	_ = c.SendMessage(&Message{Type: EventSessionExited, Code: intPtr(code)})
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub tracks the connected clients.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.id] = client
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[client.id]; ok && cur == client {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	client.Close()
}

// Get returns the client with the given id.
func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every client. Their pumps then tear the connections down.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
