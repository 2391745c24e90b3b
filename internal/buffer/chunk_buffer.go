// Package buffer provides a bounded buffer for pending terminal output.
package buffer

import (
	"sync"
)

// ChunkBuffer is a thread-safe FIFO of output chunks holding at most
// capacity bytes. When full, the oldest bytes are discarded to make room
// for new ones. Chunk boundaries are preserved so that buffered output can
// be replayed in the order it was produced.
type ChunkBuffer struct {
	chunks   [][]byte
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewChunkBuffer creates a new ChunkBuffer with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChunkBuffer{capacity: capacity}
}

// Push appends a copy of p. If the buffered total exceeds capacity, bytes
// are discarded from the front of the oldest chunks.
func (b *ChunkBuffer) Push(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A chunk at least as large as the buffer replaces everything.
	if len(p) >= b.capacity {
		b.dropped += int64(b.size + len(p) - b.capacity)
		chunk := make([]byte, b.capacity)
		copy(chunk, p[len(p)-b.capacity:])
		b.chunks = [][]byte{chunk}
		b.size = b.capacity
		return
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	for b.size > b.capacity {
		excess := b.size - b.capacity
		oldest := b.chunks[0]
		if len(oldest) <= excess {
			b.chunks[0] = nil
			b.chunks = b.chunks[1:]
			b.size -= len(oldest)
			b.dropped += int64(len(oldest))
			continue
		}
		b.chunks[0] = oldest[excess:]
		b.size -= excess
		b.dropped += int64(excess)
	}
}

// Drain returns the buffered chunks, oldest first, and empties the buffer.
func (b *ChunkBuffer) Drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil
	}
	chunks := b.chunks
	b.chunks = nil
	b.size = 0
	return chunks
}

// Len returns the current number of buffered bytes.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the total number of bytes discarded because of overflow.
func (b *ChunkBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
