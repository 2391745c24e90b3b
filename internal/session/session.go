// Package session owns the interactive terminal sessions: the registry of
// live PTY-backed shells, the idle reaper, and the connection bindings.
package session

import (
	"sync/atomic"
	"time"

	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/pty"
	"github.com/hfstack/ai-web-studio/internal/recorder"
	"github.com/hfstack/ai-web-studio/internal/relay"
)

// Session is one live shell bound to a project. The Session exclusively
// owns its process handle; only the Registry writes to or kills it.
type Session struct {
	id               string
	projectID        string
	workingDirectory string
	persistent       bool
	createdAt        time.Time

	handle   pty.Handle
	relay    *relay.Relay
	recorder *recorder.Recorder

	// lastActivity holds unix nanoseconds.
	lastActivity atomic.Int64
	tornDown     atomic.Bool
}

func (s *Session) ID() string               { return s.id }
func (s *Session) ProjectID() string        { return s.projectID }
func (s *Session) WorkingDirectory() string { return s.workingDirectory }
func (s *Session) Persistent() bool         { return s.persistent }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }

// Relay returns the session's output relay.
func (s *Session) Relay() *relay.Relay { return s.relay }

// PID returns the pid of the session's shell.
func (s *Session) PID() int { return s.handle.PID() }

// LastActivityAt returns the time of the last write, restore or heartbeat.
func (s *Session) LastActivityAt() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool { return s.tornDown.Load() }

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// Info returns a snapshot of the session for API responses.
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		ID:               s.id,
		ProjectID:        s.projectID,
		WorkingDirectory: s.workingDirectory,
		PID:              s.handle.PID(),
		Persistent:       s.persistent,
		CreatedAt:        s.createdAt,
		LastActivityAt:   s.LastActivityAt(),
	}
}

// observer feeds process events into the session's relay and recorder.
type observer struct {
	registry *Registry
	session  *Session
}

func (o *observer) OnOutput(data []byte) {
	s := o.session
	if s.recorder != nil {
		if err := s.recorder.Output(data); err != nil {
			o.registry.logger.Debug("recording output failed", zapSession(s), zapErr(err))
		}
	}
	s.relay.Publish(data)
}

func (o *observer) OnExit(exitCode int, err error) {
	s := o.session
	s.relay.End(exitCode)
	if err != nil {
		o.registry.logger.Debug("session process wait error", zapSession(s), zapErr(err))
	}
	o.registry.teardown(s, ReasonExited, false)
}
