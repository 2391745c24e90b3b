// Package detached runs fire-and-forget commands on behalf of a network
// port, such as a dev server. Each port has at most one process; its
// identity is mirrored to a durable store so that state survives a
// restart of the service.
//
// The durable record is authoritative for whether a port is claimed and
// for its pid. The in-memory entry is authoritative for signalling the
// process through its live handle.
package detached

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/metrics"
	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/pty"
)

// Stop reasons, used as the metrics label.
const (
	reasonExited   = "exited"
	reasonTimeout  = "timeout"
	reasonStopped  = "stopped"
	reasonReplaced = "replaced"
	reasonShutdown = "shutdown"
)

// killSignal is sent to processes known only by pid. Interactive shells
// ignore SIGTERM.
const killSignal = syscall.SIGKILL

// Store is the durable mirror of detached processes.
type Store interface {
	Save(ctx context.Context, rec *model.ProcessRecord) error
	Get(ctx context.Context, port int) (*model.ProcessRecord, error)
	List(ctx context.Context) ([]*model.ProcessRecord, error)
	Delete(ctx context.Context, port int) error
	DeleteIfPID(ctx context.Context, port, pid int) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	UpdateTimerID(ctx context.Context, port int, timerID int64) error
}

// Config holds configuration for the supervisor.
type Config struct {
	// Shell runs the requested command line.
	Shell string

	Rows uint16
	Cols uint16

	// DefaultTimeout applies when a request has no timeout.
	DefaultTimeout time.Duration

	// MessageLimit caps the output chunks kept per port.
	MessageLimit int

	// AdvertiseHost is used in returned URLs; empty means discover.
	AdvertiseHost string
}

// entry is the in-memory half of a running detached process.
type entry struct {
	port    int
	handle  pty.Handle
	timer   *time.Timer
	timerID int64
}

// Supervisor starts, expires, and stops detached processes.
type Supervisor struct {
	spawner  pty.Spawner
	store    Store
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	messages *MessageLog

	now    func() time.Time
	signal func(pid int, sig syscall.Signal) error

	hostOnce sync.Once
	host     string

	nextTimerID atomic.Int64

	mu      sync.Mutex
	entries map[int]*entry
	// orphans are expiry timers re-armed for records that outlived a
	// restart and have no live handle.
	orphans map[int]*time.Timer
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(spawner pty.Spawner, store Store, config Config, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if config.Shell == "" {
		config.Shell = pty.DefaultShell
	}
	if config.Rows == 0 {
		config.Rows = pty.DefaultRows
	}
	if config.Cols == 0 {
		config.Cols = pty.DefaultCols
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		spawner:  spawner,
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  m,
		messages: NewMessageLog(config.MessageLimit),
		now:      time.Now,
		signal:   pty.SignalGroup,
		entries:  make(map[int]*entry),
		orphans:  make(map[int]*time.Timer),
	}
}

// Start runs req.Command in a shell for req.Port. A process already
// running on the port is killed and its record removed first.
func (s *Supervisor) Start(ctx context.Context, req model.StartDetachedRequest) (*model.StartDetachedResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}
	port := req.Port

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictLocked(ctx, port); err != nil {
		return nil, err
	}

	generation := s.messages.Reset(port)
	e := &entry{port: port}
	handle, err := s.spawner.Spawn(pty.StartOptions{
		Shell: s.config.Shell,
		Dir:   req.WorkingDirectory,
		Rows:  s.config.Rows,
		Cols:  s.config.Cols,
	}, &observer{supervisor: s, entry: e, generation: generation})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}
	e.handle = handle

	if _, err := handle.Write([]byte(req.Command + "\n")); err != nil {
		s.kill(e)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	e.timerID = s.nextTimerID.Add(1)
	rec := &model.ProcessRecord{
		Port:      port,
		Command:   req.Command,
		Path:      req.WorkingDirectory,
		PID:       handle.PID(),
		StartTime: s.now().UnixMilli(),
		Timeout:   timeout.Milliseconds(),
		TimerID:   &e.timerID,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.kill(e)
		return nil, err
	}

	e.timer = time.AfterFunc(timeout, func() { s.expire(e) })
	s.entries[port] = e
	s.metrics.DetachedStart()

	s.logger.Info("detached process started",
		zap.Int("port", port),
		zap.Int("pid", rec.PID),
		zap.String("command", req.Command),
		zap.Duration("timeout", timeout),
	)

	return &model.StartDetachedResult{
		URL:       fmt.Sprintf("http://%s:%d", s.advertisedHost(), port),
		PID:       rec.PID,
		ExpiresAt: time.UnixMilli(rec.ExpiresAtMs()),
	}, nil
}

// evictLocked kills whatever currently claims port, in memory and on disk.
func (s *Supervisor) evictLocked(ctx context.Context, port int) error {
	livePID := 0
	if e, ok := s.entries[port]; ok {
		delete(s.entries, port)
		e.timer.Stop()
		livePID = e.handle.PID()
		s.kill(e)
		s.metrics.DetachedStop(reasonReplaced)
	}
	s.stopOrphanLocked(port)

	rec, err := s.store.Get(ctx, port)
	if errors.Is(err, model.ErrProcessNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.PID != livePID {
		s.signalPID(port, rec.PID)
	}
	if err := s.store.Delete(ctx, port); err != nil && !errors.Is(err, model.ErrProcessNotFound) {
		return err
	}
	s.logger.Info("replaced detached process", zap.Int("port", port), zap.Int("pid", rec.PID))
	return nil
}

// Stop terminates the process recorded for port and removes its record.
func (s *Supervisor) Stop(ctx context.Context, port int) error {
	rec, err := s.store.Get(ctx, port)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e, live := s.entries[port]
	if live {
		delete(s.entries, port)
		e.timer.Stop()
	}
	s.stopOrphanLocked(port)
	s.messages.Drop(port)
	s.mu.Unlock()

	if live {
		s.kill(e)
	}
	if !live || e.handle.PID() != rec.PID {
		s.signalPID(port, rec.PID)
	}

	if err := s.store.Delete(ctx, port); err != nil && !errors.Is(err, model.ErrProcessNotFound) {
		return err
	}
	if live {
		s.metrics.DetachedStop(reasonStopped)
	}
	s.logger.Info("detached process stopped", zap.Int("port", port), zap.Int("pid", rec.PID))
	return nil
}

// List returns every recorded process with its remaining time. It reads
// the durable store only, so it is correct after a restart.
func (s *Supervisor) List(ctx context.Context) ([]model.DetachedProcessInfo, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.DetachedProcessInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Info(now))
	}
	return out, nil
}

// SweepExpired deletes durable records whose expiry has passed, whether or
// not a timer fired for them. Output logs of ports that no longer run a
// process are dropped too.
func (s *Supervisor) SweepExpired(ctx context.Context) (int64, error) {
	s.dropIdleMessages()

	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordsSwept(n)
	if n > 0 {
		s.logger.Info("swept expired process records", zap.Int64("count", n))
	}
	return n, nil
}

// dropIdleMessages forgets the logs of exited processes. They stay
// readable until the next sweep.
func (s *Supervisor) dropIdleMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, port := range s.messages.Ports() {
		if _, live := s.entries[port]; !live {
			s.messages.Drop(port)
		}
	}
}

// Run sweeps expired records. It implements cron.Job.
func (s *Supervisor) Run() {
	if _, err := s.SweepExpired(context.Background()); err != nil {
		s.logger.Error("sweeping expired process records failed", zap.Error(err))
	}
}

// Recover restores expiry after a restart: expired records are swept and
// the survivors get timers that kill them by pid when they expire.
func (s *Supervisor) Recover(ctx context.Context) error {
	if _, err := s.SweepExpired(ctx); err != nil {
		return err
	}
	records, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if _, live := s.entries[rec.Port]; live {
			continue
		}
		s.stopOrphanLocked(rec.Port)

		remaining := time.Duration(rec.ExpiresAtMs()-now.UnixMilli()) * time.Millisecond
		port, pid := rec.Port, rec.PID
		timerID := s.nextTimerID.Add(1)
		if err := s.store.UpdateTimerID(ctx, port, timerID); err != nil {
			s.logger.Warn("recording recovered timer failed", zap.Int("port", port), zap.Error(err))
		}
		s.orphans[port] = time.AfterFunc(remaining, func() { s.expireOrphan(port, pid) })

		s.logger.Info("recovered detached process",
			zap.Int("port", port), zap.Int("pid", pid), zap.Duration("remaining", remaining))
	}
	return nil
}

// Messages returns the port's output newer than after.
func (s *Supervisor) Messages(port int, after time.Time) []model.OutputMessage {
	return s.messages.Since(port, after)
}

// Running reports whether port has a live in-memory process.
func (s *Supervisor) Running(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[port]
	return ok
}

// Close kills every in-memory process and removes its record. Records
// without a live handle are left for the next Recover.
func (s *Supervisor) Close() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for port, e := range s.entries {
		delete(s.entries, port)
		e.timer.Stop()
		s.messages.Drop(port)
		entries = append(entries, e)
	}
	for port := range s.orphans {
		s.stopOrphanLocked(port)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, e := range entries {
		s.kill(e)
		s.deleteRecord(ctx, e)
		s.metrics.DetachedStop(reasonShutdown)
	}
}

func (s *Supervisor) expire(e *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[e.port]; !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.port)
	s.messages.Drop(e.port)
	s.mu.Unlock()

	s.kill(e)
	s.deleteRecord(context.Background(), e)
	s.metrics.DetachedStop(reasonTimeout)
	s.logger.Info("detached process timed out", zap.Int("port", e.port), zap.Int("pid", e.handle.PID()))
}

func (s *Supervisor) expireOrphan(port, pid int) {
	s.mu.Lock()
	delete(s.orphans, port)
	s.mu.Unlock()

	removed, err := s.store.DeleteIfPID(context.Background(), port, pid)
	if err != nil {
		s.logger.Warn("deleting expired record failed", zap.Int("port", port), zap.Error(err))
		return
	}
	if removed {
		s.signalPID(port, pid)
		s.logger.Info("recovered detached process timed out", zap.Int("port", port), zap.Int("pid", pid))
	}
}

func (s *Supervisor) handleExit(e *entry, exitCode int) {
	s.mu.Lock()
	if cur, ok := s.entries[e.port]; !ok || cur != e {
		// Superseded, stopped or expired: the newer bookkeeping stays.
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.port)
	e.timer.Stop()
	s.mu.Unlock()

	s.deleteRecord(context.Background(), e)
	s.metrics.DetachedStop(reasonExited)
	s.logger.Info("detached process exited",
		zap.Int("port", e.port), zap.Int("pid", e.handle.PID()), zap.Int("exit_code", exitCode))
}

func (s *Supervisor) deleteRecord(ctx context.Context, e *entry) {
	if _, err := s.store.DeleteIfPID(ctx, e.port, e.handle.PID()); err != nil {
		s.logger.Warn("deleting process record failed", zap.Int("port", e.port), zap.Error(err))
	}
}

func (s *Supervisor) kill(e *entry) {
	if err := e.handle.Kill(); err != nil {
		s.logger.Debug("kill failed, process already gone",
			zap.Int("port", e.port), zap.Int("pid", e.handle.PID()), zap.Error(err))
	}
}

func (s *Supervisor) signalPID(port, pid int) {
	if err := s.signal(pid, killSignal); err != nil {
		s.logger.Debug("signal failed, process already gone",
			zap.Int("port", port), zap.Int("pid", pid), zap.Error(err))
	}
}

func (s *Supervisor) stopOrphanLocked(port int) {
	if t, ok := s.orphans[port]; ok {
		t.Stop()
		delete(s.orphans, port)
	}
}

func (s *Supervisor) advertisedHost() string {
	s.hostOnce.Do(func() {
		s.host = AdvertisedHost(s.config.AdvertiseHost)
	})
	return s.host
}

// observer feeds a detached process's events back to the supervisor.
type observer struct {
	supervisor *Supervisor
	entry      *entry
	generation uint64
}

func (o *observer) OnOutput(data []byte) {
	o.supervisor.messages.Append(o.entry.port, o.generation, data, o.supervisor.now())
}

func (o *observer) OnExit(exitCode int, err error) {
	if err != nil {
		o.supervisor.logger.Debug("detached process wait error", zap.Int("port", o.entry.port), zap.Error(err))
	}
	o.supervisor.handleExit(o.entry, exitCode)
}
