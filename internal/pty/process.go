package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// drainTimeout bounds how long exit handling waits for buffered output
// after the child has exited. Grandchildren holding the tty open would
// otherwise keep the reader alive forever.
const drainTimeout = 200 * time.Millisecond

// Process is a child process attached to a native PTY.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pid  int
	obs  Observer

	mu       sync.RWMutex
	exited   bool
	exitCode int

	readDone chan struct{}
	done     chan struct{}
}

// Start starts a new PTY process with the given options. Output and exit
// are reported to obs.
func Start(opts StartOptions, obs Observer) (*Process, error) {
	if obs == nil {
		return nil, fmt.Errorf("observer is required")
	}

	shell := opts.Shell
	if shell == "" {
		shell = DefaultShell
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}

	dir, err := resolveDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env[:len(env):len(env)], "TERM="+TermName)

	cmd := exec.Command(shell, opts.Args...)
	cmd.Env = env
	cmd.Dir = dir

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", shell, err)
	}

	p := &Process{
		cmd:      cmd,
		ptmx:     ptmx,
		pid:      cmd.Process.Pid,
		obs:      obs,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

// resolveDir expands a leading ~ and checks that dir is a directory.
func resolveDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", dir)
	}
	return dir, nil
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// Write writes data to the PTY input.
func (p *Process) Write(data []byte) (int, error) {
	if p.isExited() {
		return 0, ErrProcessClosed
	}
	n, err := p.ptmx.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write to PTY: %w", err)
	}
	return n, nil
}

// Resize changes the PTY window size.
func (p *Process) Resize(rows, cols uint16) error {
	if p.isExited() {
		return ErrProcessClosed
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill terminates the process and everything in its process group.
// It returns os.ErrProcessDone if the process has already exited.
func (p *Process) Kill() error {
	if p.isExited() {
		return os.ErrProcessDone
	}

	// The child is a session leader, so its pgid equals its pid.
	if err := SignalGroup(p.pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *Process) isExited() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited
}

// Done returns a channel that is closed once the process has exited and
// OnExit has been delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 if the process was killed by a
// signal. Only meaningful after Done is closed.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

func (p *Process) readLoop() {
	defer close(p.readDone)

	var runes RuneAssembler
	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if data = runes.Feed(data); len(data) > 0 {
				p.obs.OnOutput(data)
			}
		}
		if err != nil {
			if rest := runes.Flush(); len(rest) > 0 {
				p.obs.OnOutput(rest)
			}
			return
		}
	}
}

func (p *Process) waitLoop() {
	exitCode, waitErr := 0, p.cmd.Wait()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			waitErr = nil
		} else {
			exitCode = -1
		}
	}

	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = exitCode
	p.mu.Unlock()
	p.ptmx.Close()

	<-p.readDone
	p.obs.OnExit(exitCode, waitErr)
	close(p.done)
}
