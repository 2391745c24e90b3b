package model

import "time"

// SessionInfo is the externally visible view of an interactive terminal session.
type SessionInfo struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	WorkingDirectory string    `json:"workingDirectory"`
	PID              int       `json:"pid"`
	Persistent       bool      `json:"persistent"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

// IdleFor returns how long the session has been without activity at now.
func (s *SessionInfo) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
