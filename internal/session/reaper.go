package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ReaperState is the reaper's scan state.
type ReaperState int32

const (
	ReaperIdle ReaperState = iota
	ReaperScanning
)

func (s ReaperState) String() string {
	switch s {
	case ReaperIdle:
		return "idle"
	case ReaperScanning:
		return "scanning"
	default:
		return fmt.Sprintf("ReaperState(%d)", int32(s))
	}
}

// Reaper destroys persistent sessions that have been idle for longer than
// the timeout. Non-persistent sessions are left to their connection.
type Reaper struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
	state    atomic.Int32
}

// NewReaper creates a Reaper over registry.
func NewReaper(registry *Registry, timeout time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// State returns the current scan state.
func (r *Reaper) State() ReaperState {
	return ReaperState(r.state.Load())
}

// Run scans at the current time. It implements cron.Job.
func (r *Reaper) Run() {
	r.Scan(time.Now())
}

// Scan destroys every persistent session idle for longer than the timeout
// at now and returns how many were destroyed. A scan already in progress
// makes this call a no-op.
func (r *Reaper) Scan(now time.Time) int {
	if !r.state.CompareAndSwap(int32(ReaperIdle), int32(ReaperScanning)) {
		return 0
	}
	defer r.state.Store(int32(ReaperIdle))

	reaped := 0
	for _, s := range r.registry.List() {
		if !s.persistent {
			continue
		}
		idle := now.Sub(s.LastActivityAt())
		if idle <= r.timeout {
			continue
		}
		if r.reap(s, idle) {
			reaped++
		}
	}

	if reaped > 0 {
		r.logger.Info("reaped idle sessions", zap.Int("count", reaped), zap.Int("remaining", r.registry.Len()))
	}
	return reaped
}

func (r *Reaper) reap(s *Session, idle time.Duration) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reaping session panicked", zapSession(s), zap.Any("panic", p))
			ok = false
		}
	}()
	r.logger.Debug("reaping idle session", zapSession(s), zap.Duration("idle", idle))
	return r.registry.teardown(s, ReasonIdle, true)
}
