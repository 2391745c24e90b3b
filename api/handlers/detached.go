package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hfstack/ai-web-studio/internal/model"
)

// DetachedSupervisor runs detached processes.
type DetachedSupervisor interface {
	Start(ctx context.Context, req model.StartDetachedRequest) (*model.StartDetachedResult, error)
	Stop(ctx context.Context, port int) error
	List(ctx context.Context) ([]model.DetachedProcessInfo, error)
	Messages(port int, after time.Time) []model.OutputMessage
}

// DetachedHandler handles HTTP requests for detached processes.
type DetachedHandler struct {
	supervisor DetachedSupervisor
}

// NewDetachedHandler creates a new DetachedHandler.
func NewDetachedHandler(supervisor DetachedSupervisor) *DetachedHandler {
	return &DetachedHandler{supervisor: supervisor}
}

// Start handles POST /api/debug - runs a command for a port.
func (h *DetachedHandler) Start(c *gin.Context) {
	var req model.StartDetachedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.supervisor.Start(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCommandRequired),
			errors.Is(err, model.ErrInvalidPort),
			errors.Is(err, model.ErrInvalidTimeout):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrSpawnFailed):
			sendError(c, http.StatusInternalServerError, "SPAWN_FAILED", err.Error())
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start process: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"url":       res.URL,
		"pid":       res.PID,
		"expiresAt": res.ExpiresAt,
	})
}

// List handles GET /api/debug - lists recorded processes.
func (h *DetachedHandler) List(c *gin.Context) {
	processes, err := h.supervisor.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list processes: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processes": processes,
	})
}

// Stop handles DELETE /api/debug?port= - stops the process on a port.
func (h *DetachedHandler) Stop(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}

	if err := h.supervisor.Stop(c.Request.Context(), port); err != nil {
		if errors.Is(err, model.ErrProcessNotFound) {
			sendError(c, http.StatusNotFound, "PROCESS_NOT_FOUND", "No process recorded for port "+strconv.Itoa(port))
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to stop process: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Messages handles GET /api/debug-messages?port=&lastTimestamp= - returns
// the output of a port newer than lastTimestamp.
func (h *DetachedHandler) Messages(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}

	var after time.Time
	if raw := c.Query("lastTimestamp"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lastTimestamp must be an RFC 3339 timestamp")
			return
		}
		after = ts
	}

	messages := h.supervisor.Messages(port, after)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": messages,
		"count":    len(messages),
	})
}

// RegisterRoutes registers the detached process routes on a Gin router group.
func (h *DetachedHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/debug", h.Start)
	rg.GET("/debug", h.List)
	rg.DELETE("/debug", h.Stop)
	rg.GET("/debug-messages", h.Messages)
}

func portParam(c *gin.Context) (int, bool) {
	raw := c.Query("port")
	if raw == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Missing port parameter")
		return 0, false
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", model.ErrInvalidPort.Error())
		return 0, false
	}
	return port, true
}
