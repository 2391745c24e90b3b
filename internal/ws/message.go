package ws

// EventType is the "type" field of a socket event.
type EventType string

const (
	// Client -> Server events
	EventCreateSession  EventType = "create-session"
	EventRestoreSession EventType = "restore-session"
	EventTerminalInput  EventType = "terminal-input"
	EventResize         EventType = "resize"
	EventHeartbeat      EventType = "heartbeat"
	EventCleanupSession EventType = "cleanup-session"

	// Server -> Client events
	EventSessionCreated  EventType = "session-created"
	EventSessionRestored EventType = "session-restored"
	EventTerminalOutput  EventType = "terminal-output"
	EventSessionError    EventType = "session-error"
	EventHeartbeatAck    EventType = "heartbeat-ack"
	EventSessionExited   EventType = "session-exited"
)

// Message is the envelope of every socket event in both directions.
type Message struct {
	Type EventType `json:"type"`

	ProjectID  string `json:"projectId,omitempty"`
	Path       string `json:"path,omitempty"`
	Persistent *bool  `json:"persistent,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`

	Data string `json:"data,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`

	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Code      *int   `json:"code,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
