package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session id is unknown or belongs to another project.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession is returned when a connection has no bound session.
	ErrNoActiveSession = errors.New("no active terminal session")

	// ErrSessionGone is returned when a session's process can no longer accept input.
	ErrSessionGone = errors.New("terminal session has ended")

	// ErrProcessNotFound is returned when no detached process is recorded for a port.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSpawnFailed is returned when a PTY-backed process could not be started.
	ErrSpawnFailed = errors.New("failed to spawn process")

	// ErrCommandRequired is returned when a detached start request is missing the command.
	ErrCommandRequired = errors.New("command is required")

	// ErrInvalidPort is returned when a port is outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidTimeout is returned when a detached timeout is negative.
	ErrInvalidTimeout = errors.New("timeout must not be negative")
)
