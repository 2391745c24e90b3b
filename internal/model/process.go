package model

import "time"

// ProcessRecord is the durable identity of a detached process, one per port.
// Times are epoch milliseconds to match the stored row layout.
type ProcessRecord struct {
	Port      int    `json:"port"`
	Command   string `json:"command"`
	Path      string `json:"path,omitempty"`
	PID       int    `json:"pid"`
	StartTime int64  `json:"startTime"`
	Timeout   int64  `json:"timeout"`
	TimerID   *int64 `json:"timerId,omitempty"`
}

// ExpiresAtMs returns the epoch millisecond at which the record expires.
func (r *ProcessRecord) ExpiresAtMs() int64 {
	return r.StartTime + r.Timeout
}

// Expired reports whether the record's expiry has passed at now.
func (r *ProcessRecord) Expired(now time.Time) bool {
	return r.ExpiresAtMs() < now.UnixMilli()
}

// Info converts the record into its listing form relative to now.
func (r *ProcessRecord) Info(now time.Time) DetachedProcessInfo {
	remaining := r.ExpiresAtMs() - now.UnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	return DetachedProcessInfo{
		Port:        r.Port,
		Command:     r.Command,
		Path:        r.Path,
		PID:         r.PID,
		StartedAt:   time.UnixMilli(r.StartTime),
		TimeoutMs:   r.Timeout,
		RemainingMs: remaining,
		ExpiresAt:   time.UnixMilli(r.ExpiresAtMs()),
	}
}

// DetachedProcessInfo is the list-detached view of a process record.
type DetachedProcessInfo struct {
	Port        int       `json:"port"`
	Command     string    `json:"command"`
	Path        string    `json:"path,omitempty"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"startedAt"`
	TimeoutMs   int64     `json:"timeoutMs"`
	RemainingMs int64     `json:"remainingMs"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// StartDetachedRequest describes a one-shot command to run on behalf of a port.
type StartDetachedRequest struct {
	Command          string `json:"command"`
	Port             int    `json:"port"`
	WorkingDirectory string `json:"path"`
	TimeoutMs        int64  `json:"timeoutMs"`
}

// Validate validates the start request.
func (r *StartDetachedRequest) Validate() error {
	if r.Command == "" {
		return ErrCommandRequired
	}
	if r.Port < 1 || r.Port > 65535 {
		return ErrInvalidPort
	}
	if r.TimeoutMs < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// StartDetachedResult is returned by a successful detached start.
type StartDetachedResult struct {
	URL       string    `json:"url"`
	PID       int       `json:"pid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OutputMessage is one timestamped chunk of detached-process output.
type OutputMessage struct {
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
