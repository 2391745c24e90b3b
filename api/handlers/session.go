package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hfstack/ai-web-studio/internal/recorder"
	"github.com/hfstack/ai-web-studio/internal/terminal"
)

// SessionHandler handles HTTP requests about interactive sessions.
type SessionHandler struct {
	service      *terminal.Service
	recordingDir string
}

// NewSessionHandler creates a new SessionHandler. An empty recordingDir
// disables the recording download.
func NewSessionHandler(service *terminal.Service, recordingDir string) *SessionHandler {
	return &SessionHandler{
		service:      service,
		recordingDir: recordingDir,
	}
}

// ListByProject handles GET /api/projects/:projectId/sessions - lists the
// persistent sessions of a project.
func (h *SessionHandler) ListByProject(c *gin.Context) {
	projectID := c.Param("projectId")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": h.service.Sessions(projectID),
	})
}

// GetRecording handles GET /api/sessions/:id/recording - downloads the
// session's asciicast recording.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	if h.recordingDir == "" {
		sendError(c, http.StatusNotFound, "RECORDING_DISABLED", "Session recording is not enabled")
		return
	}

	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid session ID")
		return
	}

	path := recorder.Path(h.recordingDir, sessionID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not found for session "+sessionID)
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read recording: "+err.Error())
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".cast")
	c.File(path)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/projects/:projectId/sessions", h.ListByProject)
	rg.GET("/sessions/:id/recording", h.GetRecording)
}
