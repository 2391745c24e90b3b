// Package recorder writes terminal session I/O as asciicast v2 recordings.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header is the first line of an asciicast v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one recorded chunk, encoded as [offset, type, data].
type Event struct {
	Offset float64
	Kind   string // "o" for output, "i" for input
	Data   string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Offset, e.Kind, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &e.Offset); err != nil {
		return fmt.Errorf("invalid event offset: %w", err)
	}
	if err := json.Unmarshal(arr[1], &e.Kind); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	if err := json.Unmarshal(arr[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder appends session events to a writer. Writes after Close are
// ignored.
type Recorder struct {
	w      io.Writer
	file   *os.File // only set if we own the file
	start  time.Time
	mu     sync.Mutex
	closed bool
}

// Path returns the recording path for a session inside dir.
func Path(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".cast")
}

// Create opens a recording file for sessionID in dir and writes the header.
func Create(dir, sessionID string, cols, rows int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.Create(Path(dir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := New(f, cols, rows)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// New returns a Recorder writing to w and writes the header.
func New(w io.Writer, cols, rows int) (*Recorder, error) {
	r := &Recorder{w: w, start: time.Now()}
	if err := r.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader(cols, rows int) error {
	data, err := json.Marshal(Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	})
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Output records process output.
func (r *Recorder) Output(data []byte) error {
	return r.write("o", data)
}

// Input records client input.
func (r *Recorder) Input(data []byte) error {
	return r.write("i", data)
}

func (r *Recorder) write(kind string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Offset: time.Since(r.start).Seconds(),
		Kind:   kind,
		Data:   string(data),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the underlying file if the Recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
