package detached

import (
	"sync"
	"time"

	"github.com/hfstack/ai-web-studio/internal/model"
)

// DefaultMessageLimit is the number of output chunks kept per port.
const DefaultMessageLimit = 1000

// MessageLog keeps the most recent output chunks of each detached port.
// Every Reset starts a new generation; appends from an older generation
// are dropped so a replaced process cannot write into its successor's log.
// Generations are unique across ports and survive Drop.
type MessageLog struct {
	limit int

	mu   sync.Mutex
	next uint64
	logs map[int]*portLog
}

type portLog struct {
	generation uint64
	messages   []model.OutputMessage
}

// NewMessageLog creates a MessageLog keeping limit messages per port.
func NewMessageLog(limit int) *MessageLog {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &MessageLog{
		limit: limit,
		logs:  make(map[int]*portLog),
	}
}

// Reset clears the port's log and returns the new generation.
func (l *MessageLog) Reset(port int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.logs[port]
	if !ok {
		pl = &portLog{}
		l.logs[port] = pl
	}
	l.next++
	pl.generation = l.next
	pl.messages = nil
	return pl.generation
}

// Drop forgets the port's log. Later appends for any earlier generation
// are rejected.
func (l *MessageLog) Drop(port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, port)
}

// Ports returns the ports that currently hold a log.
func (l *MessageLog) Ports() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	ports := make([]int, 0, len(l.logs))
	for port := range l.logs {
		ports = append(ports, port)
	}
	return ports
}

// Append records data for port if generation is still current.
func (l *MessageLog) Append(port int, generation uint64, data []byte, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.logs[port]
	if !ok || pl.generation != generation {
		return false
	}
	pl.messages = append(pl.messages, model.OutputMessage{
		Data:      string(data),
		Timestamp: at,
	})
	if over := len(pl.messages) - l.limit; over > 0 {
		pl.messages = append(pl.messages[:0:0], pl.messages[over:]...)
	}
	return true
}

// Since returns the port's messages strictly newer than after. A zero
// after returns everything.
func (l *MessageLog) Since(port int, after time.Time) []model.OutputMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.logs[port]
	if !ok {
		return []model.OutputMessage{}
	}
	out := make([]model.OutputMessage, 0, len(pl.messages))
	for _, m := range pl.messages {
		if after.IsZero() || m.Timestamp.After(after) {
			out = append(out, m)
		}
	}
	return out
}
