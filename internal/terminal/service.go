// Package terminal implements the interactive session contract used by the
// socket transport: create, restore, input, heartbeat, resize, cleanup and
// disconnect, keyed by connection id.
package terminal

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/relay"
	"github.com/hfstack/ai-web-studio/internal/session"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	ProjectID        string
	WorkingDirectory string
	Persistent       bool
}

// Service binds connections to sessions and routes their traffic.
type Service struct {
	registry *session.Registry
	binder   *session.Binder
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(registry *session.Registry, binder *session.Binder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		binder:   binder,
		logger:   logger,
	}
}

// CreateSession spawns a session for the connection and binds it. Output
// flows to sink from then on. Any session the connection held is released
// first, even if the spawn then fails.
func (s *Service) CreateSession(connID string, sink relay.Sink, req CreateRequest) (*session.Session, error) {
	s.binder.Release(connID)
	sess, err := s.registry.Create(session.CreateOptions{
		ProjectID:        req.ProjectID,
		WorkingDirectory: req.WorkingDirectory,
		Persistent:       req.Persistent,
	})
	if err != nil {
		return nil, err
	}
	s.bind(connID, sink, sess)
	return sess, nil
}

// RestoreSession rebinds the connection to an existing session of the same
// project. Buffered output is flushed to sink. A different session the
// connection held is released first, even if the restore then fails.
func (s *Service) RestoreSession(connID string, sink relay.Sink, projectID, sessionID string) (*session.Session, error) {
	if cur, bound := s.binder.Resolve(connID); bound && cur != sessionID {
		s.binder.Release(connID)
	}
	sess, ok := s.registry.Get(sessionID)
	if !ok || sess.ProjectID() != projectID {
		return nil, fmt.Errorf("restore %q: %w", sessionID, model.ErrSessionNotFound)
	}
	s.registry.Touch(sessionID)
	s.bind(connID, sink, sess)

	s.logger.Info("session restored",
		zap.String("conn_id", connID),
		zap.String("session_id", sessionID),
		zap.String("project_id", projectID),
	)
	return sess, nil
}

// WriteInput forwards keystrokes to the connection's session.
// ErrSessionGone tells the client to create a new session.
func (s *Service) WriteInput(connID string, data []byte) error {
	sessionID, ok := s.binder.Resolve(connID)
	if !ok {
		return model.ErrNoActiveSession
	}
	if !s.registry.Write(sessionID, data) {
		s.binder.Unbind(connID)
		return model.ErrSessionGone
	}
	return nil
}

// Heartbeat marks the connection's session as active and returns the ack
// timestamp. The ack is sent even when no session is bound.
func (s *Service) Heartbeat(connID string) (time.Time, bool) {
	now := time.Now()
	sessionID, ok := s.binder.Resolve(connID)
	if !ok {
		return now, false
	}
	return now, s.registry.Touch(sessionID)
}

// Resize changes the terminal size of the connection's session.
func (s *Service) Resize(connID string, rows, cols uint16) error {
	sessionID, ok := s.binder.Resolve(connID)
	if !ok {
		return model.ErrNoActiveSession
	}
	if !s.registry.Resize(sessionID, rows, cols) {
		return model.ErrSessionGone
	}
	return nil
}

// CleanupSession destroys a session on client request. An empty sessionID
// means the session bound to the connection.
func (s *Service) CleanupSession(connID, sessionID string) bool {
	if sessionID == "" {
		var ok bool
		if sessionID, ok = s.binder.Resolve(connID); !ok {
			return false
		}
	}
	s.binder.UnbindSession(sessionID)
	return s.registry.Destroy(sessionID)
}

// Disconnect releases the connection's binding. Non-persistent sessions are
// destroyed with it.
func (s *Service) Disconnect(connID string) {
	if sessionID, ok := s.binder.Disconnect(connID); ok {
		s.logger.Debug("connection released session",
			zap.String("conn_id", connID), zap.String("session_id", sessionID))
	}
}

// Sessions lists the persistent sessions of a project.
func (s *Service) Sessions(projectID string) []model.SessionInfo {
	list := s.registry.ListByProject(projectID)
	out := make([]model.SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Info())
	}
	return out
}

func (s *Service) bind(connID string, sink relay.Sink, sess *session.Session) {
	s.binder.Bind(connID, sess.ID())
	sess.Relay().Attach(connID, sink)
}
