package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/metrics"
	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/pty"
	"github.com/hfstack/ai-web-studio/internal/recorder"
	"github.com/hfstack/ai-web-studio/internal/relay"
)

// Teardown reasons, used as the metrics label.
const (
	ReasonDestroyed   = "destroyed"
	ReasonExited      = "exited"
	ReasonIdle        = "idle"
	ReasonWriteFailed = "write_failed"
	ReasonDisconnect  = "disconnect"
	ReasonRebind      = "rebind"
	ReasonShutdown    = "shutdown"
)

// Config holds configuration for the session registry.
type Config struct {
	// Shell is the program spawned for every session.
	Shell string

	// Rows and Cols are the initial terminal size.
	Rows uint16
	Cols uint16

	// BufferSize caps the output held while no connection is bound.
	BufferSize int

	// RecordingDir enables asciicast recordings when non-empty.
	RecordingDir string
}

// CreateOptions describes a new session.
type CreateOptions struct {
	ProjectID        string
	WorkingDirectory string
	Persistent       bool
}

// Registry maps session ids to live sessions.
//
// Missing ids are never an error: lookups and mutations report them
// through their boolean result.
type Registry struct {
	spawner pty.Spawner
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	// released are called with the id of every torn down session.
	released []func(sessionID string)
}

// NewRegistry creates a Registry spawning shells through spawner.
func NewRegistry(spawner pty.Spawner, config Config, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if config.Shell == "" {
		config.Shell = pty.DefaultShell
	}
	if config.Rows == 0 {
		config.Rows = pty.DefaultRows
	}
	if config.Cols == 0 {
		config.Cols = pty.DefaultCols
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		spawner:  spawner,
		config:   config,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create spawns a shell in opts.WorkingDirectory and registers it under a
// fresh random id.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	now := r.now()
	s := &Session{
		id:               uuid.NewString(),
		projectID:        opts.ProjectID,
		workingDirectory: opts.WorkingDirectory,
		persistent:       opts.Persistent,
		createdAt:        now,
		relay:            relay.New(r.config.BufferSize, r.metrics),
	}
	s.touch(now)

	if r.config.RecordingDir != "" {
		rec, err := recorder.Create(r.config.RecordingDir, s.id, int(r.config.Cols), int(r.config.Rows))
		if err != nil {
			r.logger.Warn("session recording disabled", zapSession(s), zapErr(err))
		} else {
			s.recorder = rec
		}
	}

	// The exit observer takes r.mu, so an early exit waits for the insert.
	r.mu.Lock()
	handle, err := r.spawner.Spawn(pty.StartOptions{
		Shell: r.config.Shell,
		Dir:   opts.WorkingDirectory,
		Rows:  r.config.Rows,
		Cols:  r.config.Cols,
	}, &observer{registry: r, session: s})
	if err != nil {
		r.mu.Unlock()
		if s.recorder != nil {
			s.recorder.Close()
		}
		return nil, fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}
	s.handle = handle
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.metrics.SessionCreated()
	r.logger.Info("session created",
		zapSession(s),
		zap.String("project_id", s.projectID),
		zap.String("dir", s.workingDirectory),
		zap.Int("pid", handle.PID()),
		zap.Bool("persistent", s.persistent),
	)
	return s, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch marks the session as active now.
func (r *Registry) Touch(id string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.touch(r.now())
	return true
}

// Destroy kills the session's process and removes it. It reports whether
// this call removed the entry.
func (r *Registry) Destroy(id string) bool {
	return r.destroy(id, ReasonDestroyed)
}

func (r *Registry) destroy(id, reason string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	return r.teardown(s, reason, true)
}

// Write forwards data to the session's process. A failed write destroys
// the session; false means the caller must recreate it.
func (r *Registry) Write(id string, data []byte) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	if _, err := s.handle.Write(data); err != nil {
		r.logger.Info("write to session failed, destroying", zapSession(s), zapErr(err))
		r.teardown(s, ReasonWriteFailed, true)
		return false
	}
	s.touch(r.now())
	if s.recorder != nil {
		if err := s.recorder.Input(data); err != nil {
			r.logger.Debug("recording input failed", zapSession(s), zapErr(err))
		}
	}
	return true
}

// Resize changes the session's terminal size. Zero dimensions are ignored.
func (r *Registry) Resize(id string, rows, cols uint16) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	if rows == 0 || cols == 0 {
		return true
	}
	if err := s.handle.Resize(rows, cols); err != nil {
		r.logger.Debug("resize failed", zapSession(s), zapErr(err))
	}
	return true
}

// List returns all live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// ListByProject returns the persistent sessions of a project, oldest first.
func (r *Registry) ListByProject(projectID string) []*Session {
	var out []*Session
	for _, s := range r.List() {
		if s.persistent && s.projectID == projectID {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close destroys every session.
func (r *Registry) Close() {
	for _, s := range r.List() {
		r.teardown(s, ReasonShutdown, true)
	}
}

// teardown is the single release path for a session. Only the first call
// for a session has any effect.
func (r *Registry) teardown(s *Session, reason string, kill bool) bool {
	if !s.tornDown.CompareAndSwap(false, true) {
		return false
	}

	r.mu.Lock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
	}
	hooks := r.released
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(s.id)
	}

	if kill {
		if err := s.handle.Kill(); err != nil {
			r.logger.Debug("kill failed, process already gone", zapSession(s), zapErr(err))
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			r.logger.Debug("closing recording failed", zapSession(s), zapErr(err))
		}
	}

	r.metrics.SessionDestroyed(reason)
	r.logger.Info("session destroyed", zapSession(s), zap.String("reason", reason))
	return true
}

// onRelease registers fn to run after a session is torn down, whatever
// the reason. fn must not call back into the registry.
func (r *Registry) onRelease(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, fn)
}

func zapSession(s *Session) zap.Field {
	return zap.String("session_id", s.id)
}

func zapErr(err error) zap.Field {
	return zap.Error(err)
}
