package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/metrics"
)

// Binder maps connection ids to the session each connection is bound to.
// A connection holds at most one session; a session may be reached by a
// new connection after a reconnect.
type Binder struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	bindings map[string]string
}

// NewBinder creates a Binder that releases sessions through registry.
func NewBinder(registry *Registry, logger *zap.Logger, m *metrics.Metrics) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Binder{
		registry: registry,
		logger:   logger,
		metrics:  m,
		bindings: make(map[string]string),
	}
	// Sessions ending on their own (exit, reaper, shutdown) drop their bindings.
	registry.onRelease(func(sessionID string) { b.UnbindSession(sessionID) })
	return b
}

// Bind binds connID to sessionID. A different session previously bound to
// connID is released, and destroyed if it is not persistent.
func (b *Binder) Bind(connID, sessionID string) {
	b.mu.Lock()
	prev, had := b.bindings[connID]
	b.bindings[connID] = sessionID
	n := len(b.bindings)
	b.mu.Unlock()

	b.metrics.SetBindings(n)
	if had && prev != sessionID {
		b.release(connID, prev, ReasonRebind)
	}
}

// Unbind removes connID's binding and returns the session it held.
func (b *Binder) Unbind(connID string) (string, bool) {
	b.mu.Lock()
	sessionID, ok := b.bindings[connID]
	delete(b.bindings, connID)
	n := len(b.bindings)
	b.mu.Unlock()

	b.metrics.SetBindings(n)
	return sessionID, ok
}

// Resolve returns the session bound to connID.
func (b *Binder) Resolve(connID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessionID, ok := b.bindings[connID]
	return sessionID, ok
}

// UnbindSession removes every binding to sessionID.
func (b *Binder) UnbindSession(sessionID string) int {
	b.mu.Lock()
	removed := 0
	for connID, sid := range b.bindings {
		if sid == sessionID {
			delete(b.bindings, connID)
			removed++
		}
	}
	n := len(b.bindings)
	b.mu.Unlock()

	b.metrics.SetBindings(n)
	return removed
}

// Release removes connID's binding ahead of a new create or restore. A
// non-persistent session it held is destroyed.
func (b *Binder) Release(connID string) (string, bool) {
	return b.unbindAndRelease(connID, ReasonRebind)
}

// Disconnect handles a closed connection: the binding is removed and a
// non-persistent session is destroyed. Persistent sessions stay alive for
// a reconnect or the reaper.
func (b *Binder) Disconnect(connID string) (string, bool) {
	return b.unbindAndRelease(connID, ReasonDisconnect)
}

func (b *Binder) unbindAndRelease(connID, reason string) (string, bool) {
	sessionID, ok := b.Unbind(connID)
	if !ok {
		return "", false
	}
	b.release(connID, sessionID, reason)
	return sessionID, true
}

// Len returns the number of bound connections.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

func (b *Binder) release(connID, sessionID, reason string) {
	s, ok := b.registry.Get(sessionID)
	if !ok {
		return
	}
	s.relay.Detach(connID)
	if s.persistent {
		return
	}
	b.logger.Debug("releasing non-persistent session",
		zap.String("conn_id", connID), zapSession(s), zap.String("reason", reason))
	b.registry.destroy(sessionID, reason)
}
