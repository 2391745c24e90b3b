package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler exposes the terminal socket.
type WebSocketHandler struct {
	socket http.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(socket http.Handler) *WebSocketHandler {
	return &WebSocketHandler{socket: socket}
}

// Attach handles GET /api/socket - upgrades to the terminal socket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if !c.IsWebsocket() {
		sendError(c, http.StatusBadRequest, "UPGRADE_REQUIRED", "Expected a websocket upgrade")
		return
	}
	h.socket.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/socket", h.Attach)
}
