package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/pty/ptytest"
	"github.com/hfstack/ai-web-studio/internal/session"
	"github.com/hfstack/ai-web-studio/internal/terminal"
)

type testServer struct {
	server   *httptest.Server
	spawner  *ptytest.Spawner
	registry *session.Registry
	hub      *Hub
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	spawner := ptytest.NewSpawner()
	registry := session.NewRegistry(spawner, session.Config{}, zap.NewNop(), nil)
	binder := session.NewBinder(registry, zap.NewNop(), nil)
	hub := NewHub()
	handler := NewHandler(terminal.NewService(registry, binder, zap.NewNop()), hub, zap.NewNop())

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		registry.Close()
	})
	return &testServer{server: server, spawner: spawner, registry: registry, hub: hub}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads events until one of type want arrives and returns it
// together with everything read before it.
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) (Message, []Message) {
	t.Helper()
	var before []Message
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", want)
		if msg.Type == want {
			return msg, before
		}
		before = append(before, msg)
	}
}

func createSession(t *testing.T, conn *websocket.Conn, persistent bool) string {
	t.Helper()
	send(t, conn, Message{Type: EventCreateSession, ProjectID: "p1", Path: "/tmp/proj", Persistent: boolPtr(persistent)})
	msg, _ := readUntil(t, conn, EventSessionCreated)
	require.NotNil(t, msg.Success)
	require.True(t, *msg.Success, msg.Error)
	require.NotEmpty(t, msg.SessionID)
	return msg.SessionID
}

func TestHandler_SessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)

	sessionID := createSession(t, conn, true)
	h := ts.spawner.Last()
	assert.Equal(t, "/tmp/proj", h.Options.Dir)

	send(t, conn, Message{Type: EventTerminalInput, Data: "echo hi\n"})
	assert.Eventually(t, func() bool { return h.Written() == "echo hi\n" }, 5*time.Second, 10*time.Millisecond)

	h.Emit("hi\r\n")
	out, _ := readUntil(t, conn, EventTerminalOutput)
	assert.Equal(t, "hi\r\n", out.Data)

	send(t, conn, Message{Type: EventHeartbeat})
	ack, _ := readUntil(t, conn, EventHeartbeatAck)
	assert.InDelta(t, time.Now().UnixMilli(), ack.Timestamp, 5000)

	send(t, conn, Message{Type: EventResize, Rows: 40, Cols: 120})
	assert.Eventually(t, func() bool { return len(h.Resizes()) == 1 }, 5*time.Second, 10*time.Millisecond)

	send(t, conn, Message{Type: EventCleanupSession, SessionID: sessionID})
	assert.Eventually(t, func() bool {
		_, ok := ts.registry.Get(sessionID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_RestoreAfterReconnect(t *testing.T) {
	ts := setupTestServer(t)

	first := ts.dial(t)
	sessionID := createSession(t, first, true)
	h := ts.spawner.Last()

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return ts.hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, alive := ts.registry.Get(sessionID)
	require.True(t, alive, "persistent session survives disconnect")

	h.Emit("output while away")

	second := ts.dial(t)
	send(t, second, Message{Type: EventRestoreSession, ProjectID: "p1", SessionID: sessionID})
	restored, before := readUntil(t, second, EventSessionRestored)
	require.True(t, *restored.Success)
	assert.Equal(t, sessionID, restored.SessionID)
	require.Len(t, before, 1)
	assert.Equal(t, EventTerminalOutput, before[0].Type)
	assert.Equal(t, "output while away", before[0].Data)

	send(t, second, Message{Type: EventTerminalInput, Data: "ls\n"})
	assert.Eventually(t, func() bool { return h.Written() == "ls\n" }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_RestoreUnknownSession(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)

	send(t, conn, Message{Type: EventRestoreSession, ProjectID: "p1", SessionID: "missing"})
	msg, _ := readUntil(t, conn, EventSessionRestored)
	require.NotNil(t, msg.Success)
	assert.False(t, *msg.Success)
	assert.Contains(t, msg.Error, "session not found")
}

func TestHandler_NonPersistentDisconnect(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)
	createSession(t, conn, false)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return ts.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_InputWithoutSession(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)

	send(t, conn, Message{Type: EventTerminalInput, Data: "ls\n"})
	msg, _ := readUntil(t, conn, EventSessionError)
	assert.Contains(t, msg.Message, "please create a new session")
}

func TestHandler_SessionExit(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)
	createSession(t, conn, true)

	ts.spawner.Last().Exit(3)
	msg, _ := readUntil(t, conn, EventSessionExited)
	require.NotNil(t, msg.Code)
	assert.Equal(t, 3, *msg.Code)

	send(t, conn, Message{Type: EventTerminalInput, Data: "ls\n"})
	errMsg, _ := readUntil(t, conn, EventSessionError)
	assert.Contains(t, errMsg.Message, "please create a new session")
}

func TestHandler_BadEvents(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)

	send(t, conn, Message{Type: "bogus"})
	msg, _ := readUntil(t, conn, EventSessionError)
	assert.Contains(t, msg.Message, "unknown event")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg, _ = readUntil(t, conn, EventSessionError)
	assert.Equal(t, "malformed event", msg.Message)
}

func TestHandler_SpawnFailure(t *testing.T) {
	ts := setupTestServer(t)
	ts.spawner.Err = assert.AnError
	conn := ts.dial(t)

	send(t, conn, Message{Type: EventCreateSession, ProjectID: "p1", Path: "/nope"})
	msg, _ := readUntil(t, conn, EventSessionCreated)
	require.NotNil(t, msg.Success)
	assert.False(t, *msg.Success)
	assert.Contains(t, msg.Error, "failed to spawn process")
}

func TestHandler_SplitCharacterArrivesWhole(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)
	createSession(t, conn, true)

	h := ts.spawner.Last()
	h.Emit("\xe4\xbd")
	h.Emit("\xa0ok")

	out, before := readUntil(t, conn, EventTerminalOutput)
	assert.Empty(t, before)
	assert.Equal(t, "你ok", out.Data)
}

func TestHandler_FailedCreateReleasesPreviousSession(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t)
	sessionID := createSession(t, conn, false)
	old := ts.spawner.Last()

	ts.spawner.Err = assert.AnError
	send(t, conn, Message{Type: EventCreateSession, ProjectID: "p1"})
	msg, _ := readUntil(t, conn, EventSessionCreated)
	require.NotNil(t, msg.Success)
	assert.False(t, *msg.Success)

	_, alive := ts.registry.Get(sessionID)
	assert.False(t, alive)
	assert.Eventually(t, old.Exited, 5*time.Second, 10*time.Millisecond)

	send(t, conn, Message{Type: EventTerminalInput, Data: "ls\n"})
	errMsg, _ := readUntil(t, conn, EventSessionError)
	assert.Contains(t, errMsg.Message, "no active terminal session")
	assert.Empty(t, old.Written())
}

func TestAllowOrigins(t *testing.T) {
	check := AllowOrigins([]string{"https://Studio.example.com/", " http://localhost:5173"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://studio.example.com", true},
		{"http://localhost:5173", true},
		{"http://localhost:3000", false},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/socket", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, check(r), tt.origin)
	}
}
