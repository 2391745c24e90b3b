package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/terminal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Pasted input can be large.
	maxMessageSize = 1 << 20
)

// Handler upgrades HTTP requests to socket connections and routes their
// events to the terminal service.
type Handler struct {
	service  *terminal.Service
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(service *terminal.Service, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication and origin policy belong to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetCheckOrigin sets a custom origin checker for the upgrader.
func (h *Handler) SetCheckOrigin(fn func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = fn
}

// AllowOrigins returns an origin checker accepting the listed origins,
// compared case-insensitively as scheme://host[:port]. Requests without an
// Origin header come from non-browser clients and are accepted.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed[strings.ToLower(origin)]
	}
}

// ServeHTTP upgrades the connection and starts its pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn)
	h.hub.Register(client)
	h.logger.Debug("client connected", zap.String("conn_id", client.ID()))

	go h.writePump(client)
	go h.readPump(client)
}

// readPump pumps events from the connection to the terminal service.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		h.service.Disconnect(client.ID())
		client.Conn().Close()
		h.logger.Debug("client disconnected", zap.String("conn_id", client.ID()))
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", zap.String("conn_id", client.ID()), zap.Error(err))
			}
			return
		}
		// Any traffic counts as liveness.
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(client, &Message{Type: EventSessionError, Message: "malformed event"})
			continue
		}
		h.Dispatch(client, &msg)
	}
}

// writePump pumps queued events to the connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The client was closed.
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame so the browser can parse each as JSON.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Dispatch handles one client event.
func (h *Handler) Dispatch(client *Client, msg *Message) {
	switch msg.Type {
	case EventCreateSession:
		h.handleCreate(client, msg)
	case EventRestoreSession:
		h.handleRestore(client, msg)
	case EventTerminalInput:
		h.handleInput(client, msg)
	case EventResize:
		h.handleResize(client, msg)
	case EventHeartbeat:
		ts, _ := h.service.Heartbeat(client.ID())
		h.reply(client, &Message{Type: EventHeartbeatAck, Timestamp: ts.UnixMilli()})
	case EventCleanupSession:
		h.service.CleanupSession(client.ID(), msg.SessionID)
	default:
		h.reply(client, &Message{Type: EventSessionError, Message: "unknown event: " + string(msg.Type)})
	}
}

func (h *Handler) handleCreate(client *Client, msg *Message) {
	persistent := true
	if msg.Persistent != nil {
		persistent = *msg.Persistent
	}

	sess, err := h.service.CreateSession(client.ID(), client, terminal.CreateRequest{
		ProjectID:        msg.ProjectID,
		WorkingDirectory: msg.Path,
		Persistent:       persistent,
	})
	if err != nil {
		h.logger.Warn("create session failed",
			zap.String("conn_id", client.ID()), zap.String("project_id", msg.ProjectID), zap.Error(err))
		h.reply(client, &Message{Type: EventSessionCreated, Success: boolPtr(false), Error: err.Error()})
		return
	}
	h.reply(client, &Message{Type: EventSessionCreated, Success: boolPtr(true), SessionID: sess.ID()})
}

func (h *Handler) handleRestore(client *Client, msg *Message) {
	sess, err := h.service.RestoreSession(client.ID(), client, msg.ProjectID, msg.SessionID)
	if err != nil {
		h.reply(client, &Message{Type: EventSessionRestored, Success: boolPtr(false), Error: err.Error()})
		return
	}
	h.reply(client, &Message{Type: EventSessionRestored, Success: boolPtr(true), SessionID: sess.ID()})
}

func (h *Handler) handleInput(client *Client, msg *Message) {
	if msg.Data == "" {
		return
	}
	err := h.service.WriteInput(client.ID(), []byte(msg.Data))
	switch {
	case err == nil:
	case errors.Is(err, model.ErrSessionGone), errors.Is(err, model.ErrNoActiveSession):
		h.reply(client, &Message{Type: EventSessionError, Message: err.Error() + ", please create a new session"})
	default:
		h.reply(client, &Message{Type: EventSessionError, Message: err.Error()})
	}
}

func (h *Handler) handleResize(client *Client, msg *Message) {
	if err := h.service.Resize(client.ID(), msg.Rows, msg.Cols); err != nil {
		h.logger.Debug("resize ignored", zap.String("conn_id", client.ID()), zap.Error(err))
	}
}

func (h *Handler) reply(client *Client, msg *Message) {
	if err := client.SendMessage(msg); err != nil {
		h.logger.Debug("reply dropped", zap.String("conn_id", client.ID()), zap.String("type", string(msg.Type)), zap.Error(err))
	}
}
