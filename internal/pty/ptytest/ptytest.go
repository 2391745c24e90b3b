// Package ptytest provides in-memory fakes of pty.Spawner and pty.Handle.
package ptytest

import (
	"errors"
	"os"
	"sync"

	"github.com/hfstack/ai-web-studio/internal/pty"
)

// Spawner is a pty.Spawner that creates Handles without starting processes.
type Spawner struct {
	mu      sync.Mutex
	nextPID int
	handles []*Handle

	// Err, when set, is returned by Spawn.
	Err error
}

// NewSpawner returns a Spawner whose first handle gets pid 1001.
func NewSpawner() *Spawner {
	return &Spawner{nextPID: 1000}
}

// Spawn records opts and returns a new Handle bound to obs.
func (s *Spawner) Spawn(opts pty.StartOptions, obs pty.Observer) (pty.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.nextPID++
	h := &Handle{
		Options: opts,
		pid:     s.nextPID,
		obs:     obs,
		done:    make(chan struct{}),
	}
	s.handles = append(s.handles, h)
	return h, nil
}

// Handles returns every handle spawned so far, oldest first.
func (s *Spawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Last returns the most recently spawned handle, or nil.
func (s *Spawner) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// Handle is a fake pty.Handle. Kill reports an exit with code -1 from a
// separate goroutine, like a real process would.
type Handle struct {
	Options pty.StartOptions

	pid int
	obs pty.Observer

	mu        sync.Mutex
	written   []byte
	kills     int
	resizes   [][2]uint16
	exited    bool
	failWrite bool
	failKill  bool
	runes     pty.RuneAssembler

	exitOnce sync.Once
	done     chan struct{}
}

// PID returns the fake process id.
func (h *Handle) PID() int {
	return h.pid
}

// Write records p.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return 0, pty.ErrProcessClosed
	}
	if h.failWrite {
		return 0, errors.New("write failed")
	}
	h.written = append(h.written, p...)
	return len(p), nil
}

// Resize records the new size.
func (h *Handle) Resize(rows, cols uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return pty.ErrProcessClosed
	}
	h.resizes = append(h.resizes, [2]uint16{rows, cols})
	return nil
}

// Kill counts the call and exits the handle asynchronously.
func (h *Handle) Kill() error {
	h.mu.Lock()
	h.kills++
	exited, failKill := h.exited, h.failKill
	h.mu.Unlock()
	if failKill {
		return errors.New("kill failed")
	}
	if exited {
		return os.ErrProcessDone
	}
	go h.Exit(-1)
	return nil
}

// Emit delivers data as process output, re-cut on character boundaries
// the way a real PTY reader does.
func (h *Handle) Emit(data string) {
	h.mu.Lock()
	out := h.runes.Feed([]byte(data))
	h.mu.Unlock()
	if len(out) > 0 {
		h.obs.OnOutput(out)
	}
}

// Exit marks the process as exited and notifies the observer once.
func (h *Handle) Exit(code int) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.exited = true
		rest := h.runes.Flush()
		h.mu.Unlock()
		if len(rest) > 0 {
			h.obs.OnOutput(rest)
		}
		h.obs.OnExit(code, nil)
		close(h.done)
	})
}

// Done is closed after the exit has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// FailWrites makes subsequent writes fail.
func (h *Handle) FailWrites() {
	h.mu.Lock()
	h.failWrite = true
	h.mu.Unlock()
}

// FailKills makes subsequent kills fail without exiting.
func (h *Handle) FailKills() {
	h.mu.Lock()
	h.failKill = true
	h.mu.Unlock()
}

// Written returns everything written so far.
func (h *Handle) Written() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.written)
}

// Kills returns how many times Kill was called.
func (h *Handle) Kills() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// Resizes returns the recorded [rows, cols] pairs.
func (h *Handle) Resizes() [][2]uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][2]uint16(nil), h.resizes...)
}

// Exited reports whether Exit has run.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}
