// Package pty provides pseudo-terminal backed child processes.
package pty

import (
	"errors"
)

const (
	// DefaultShell is spawned when StartOptions.Shell is empty.
	DefaultShell = "bash"

	// DefaultRows and DefaultCols are the initial terminal size.
	DefaultRows = 30
	DefaultCols = 80

	// DefaultReadBufferSize is the buffer size for reading PTY output.
	DefaultReadBufferSize = 32 * 1024

	// TermName is exported to children as TERM.
	TermName = "xterm-256color"
)

// ErrProcessClosed is returned by Write and Resize after the process has exited.
var ErrProcessClosed = errors.New("process is closed")

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Shell is the program to execute. Defaults to DefaultShell.
	Shell string

	// Args are the arguments to pass to the shell.
	Args []string

	// Env is the environment for the process.
	// If nil, the current process environment is used.
	Env []string

	// Dir is the working directory for the process.
	// If empty, the current directory is used.
	Dir string

	// Rows and Cols are the initial terminal size.
	Rows uint16
	Cols uint16
}

// Observer receives the asynchronous events of a process. OnOutput is
// called from a single reader goroutine in emission order; OnExit is
// called exactly once, after the last OnOutput.
type Observer interface {
	OnOutput(data []byte)
	OnExit(exitCode int, err error)
}

// Handle is a running PTY-backed process.
type Handle interface {
	PID() int
	Write(p []byte) (int, error)
	Resize(rows, cols uint16) error
	Kill() error
}

// Spawner starts PTY-backed processes.
type Spawner interface {
	Spawn(opts StartOptions, obs Observer) (Handle, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(opts StartOptions, obs Observer) (Handle, error)

// Spawn calls f(opts, obs).
func (f SpawnerFunc) Spawn(opts StartOptions, obs Observer) (Handle, error) {
	return f(opts, obs)
}

// ShellSpawner spawns real processes on a native PTY.
type ShellSpawner struct{}

// Spawn starts a process with Start.
func (ShellSpawner) Spawn(opts StartOptions, obs Observer) (Handle, error) {
	return Start(opts, obs)
}
