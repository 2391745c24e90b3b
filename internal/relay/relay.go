// Package relay forwards a session's terminal output to the connection
// currently bound to it.
//
// While no connection is bound, output is held in a bounded buffer and
// flushed, in order, to the next connection that attaches.
//
// Successive chunks pass through Dedup, which drops the part of a chunk
// up to and including a repeat of the previous chunk. This suppresses the
// terminal echo duplication seen on some PTYs. It is a heuristic: output
// that legitimately repeats the previous chunk verbatim is shortened too.
package relay

import (
	"bytes"
	"sync"

	"github.com/hfstack/ai-web-studio/internal/buffer"
	"github.com/hfstack/ai-web-studio/internal/metrics"
)

// DefaultBufferSize is the pending-output capacity (64KB).
const DefaultBufferSize = 64 * 1024

// Sink receives a session's output. Both methods are called with the
// relay's lock held and must not block.
type Sink interface {
	// SendOutput delivers one chunk. An error detaches the sink and the
	// chunk is buffered for the next one.
	SendOutput(data []byte) error

	// SendExit reports that the session's process has exited.
	SendExit(code int)
}

// Relay is the per-session output path.
type Relay struct {
	mu       sync.Mutex
	last     []byte
	sinkID   string
	sink     Sink
	pending  *buffer.ChunkBuffer
	ended    bool
	exitCode int
	metrics  *metrics.Metrics
}

// New creates a Relay buffering up to capacity bytes while unbound.
func New(capacity int, m *metrics.Metrics) *Relay {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Relay{
		pending: buffer.NewChunkBuffer(capacity),
		metrics: m,
	}
}

// Dedup returns the part of next that should be forwarded given the
// previously seen chunk prev: the suffix after the first occurrence of
// prev inside next, or all of next when it does not contain prev.
func Dedup(prev, next []byte) []byte {
	if len(prev) == 0 {
		return next
	}
	i := bytes.Index(next, prev)
	if i < 0 {
		return next
	}
	return next[i+len(prev):]
}

// Publish accepts the next chunk of process output. Chunks must be
// published in emission order.
func (r *Relay) Publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended {
		return
	}

	out := Dedup(r.last, chunk)
	r.last = append(r.last[:0], chunk...)
	r.metrics.Output(len(out), len(chunk)-len(out))
	if len(out) == 0 {
		return
	}

	// out aliases chunk, which the caller owns.
	out = append([]byte(nil), out...)

	if r.sink != nil {
		if err := r.sink.SendOutput(out); err == nil {
			return
		}
		r.dropSinkLocked()
	}
	r.bufferLocked(out)
	r.metrics.Buffered(len(out))
}

// Attach binds sink under id, replacing any previous sink, and flushes
// buffered output to it. If the process already exited, the exit is
// reported after the flush.
func (r *Relay) Attach(id string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sinkID = id
	r.sink = sink

	chunks := r.pending.Drain()
	for i, chunk := range chunks {
		if err := sink.SendOutput(chunk); err != nil {
			for _, rest := range chunks[i:] {
				r.bufferLocked(rest)
			}
			r.dropSinkLocked()
			return
		}
	}

	if r.ended {
		sink.SendExit(r.exitCode)
	}
}

// Detach unbinds the sink registered under id. It reports false, and
// leaves the relay untouched, if another sink has since attached.
func (r *Relay) Detach(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == nil || r.sinkID != id {
		return false
	}
	r.dropSinkLocked()
	return true
}

// End marks the process as exited and notifies the bound sink. Later
// output is discarded.
func (r *Relay) End(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended {
		return
	}
	r.ended = true
	r.exitCode = code
	if r.sink != nil {
		r.sink.SendExit(code)
	}
}

// BoundTo returns the id of the attached sink, if any.
func (r *Relay) BoundTo() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinkID, r.sink != nil
}

// Pending returns the number of buffered bytes.
func (r *Relay) Pending() int {
	return r.pending.Len()
}

// bufferLocked holds chunk for the next sink and reports bytes the full
// buffer discarded to make room.
func (r *Relay) bufferLocked(chunk []byte) {
	before := r.pending.Dropped()
	r.pending.Push(chunk)
	if n := r.pending.Dropped() - before; n > 0 {
		r.metrics.Overflowed(n)
	}
}

func (r *Relay) dropSinkLocked() {
	r.sink = nil
	r.sinkID = ""
}
