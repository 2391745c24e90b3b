package terminal

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/pty"
	"github.com/hfstack/ai-web-studio/internal/pty/ptytest"
	"github.com/hfstack/ai-web-studio/internal/session"
)

type connSink struct {
	mu    sync.Mutex
	out   strings.Builder
	exits []int
}

func (c *connSink) SendOutput(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(data)
	return nil
}

func (c *connSink) SendExit(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits = append(c.exits, code)
}

func (c *connSink) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func setupTestService(t *testing.T, spawner pty.Spawner, config session.Config) (*Service, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(spawner, config, zap.NewNop(), nil)
	binder := session.NewBinder(registry, zap.NewNop(), nil)
	t.Cleanup(registry.Close)
	return NewService(registry, binder, zap.NewNop()), registry
}

func TestService_CreateWriteRestore(t *testing.T) {
	spawner := ptytest.NewSpawner()
	svc, registry := setupTestService(t, spawner, session.Config{})

	first := &connSink{}
	sess, err := svc.CreateSession("conn-1", first, CreateRequest{
		ProjectID:        "p1",
		WorkingDirectory: "/tmp/proj",
		Persistent:       true,
	})
	require.NoError(t, err)
	h := spawner.Last()

	require.NoError(t, svc.WriteInput("conn-1", []byte("echo hi\n")))
	assert.Equal(t, "echo hi\n", h.Written())
	h.Emit("hi\r\n")
	assert.Equal(t, "hi\r\n", first.Output())

	svc.Disconnect("conn-1")
	_, alive := registry.Get(sess.ID())
	require.True(t, alive)

	h.Emit("while away\r\n")

	time.Sleep(2 * time.Millisecond)
	before := time.Now()
	second := &connSink{}
	restored, err := svc.RestoreSession("conn-2", second, "p1", sess.ID())
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), restored.ID())
	assert.False(t, restored.LastActivityAt().Before(before))
	assert.Equal(t, "while away\r\n", second.Output())
}

func TestService_RestoreRequiresMatchingProject(t *testing.T) {
	svc, _ := setupTestService(t, ptytest.NewSpawner(), session.Config{})
	sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
	require.NoError(t, err)

	_, err = svc.RestoreSession("conn-2", &connSink{}, "p2", sess.ID())
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	_, err = svc.RestoreSession("conn-2", &connSink{}, "p1", "missing")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestService_WriteInput(t *testing.T) {
	t.Run("no bound session", func(t *testing.T) {
		svc, _ := setupTestService(t, ptytest.NewSpawner(), session.Config{})
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrNoActiveSession)
	})

	t.Run("session gone after exit", func(t *testing.T) {
		spawner := ptytest.NewSpawner()
		svc, _ := setupTestService(t, spawner, session.Config{})
		sink := &connSink{}
		_, err := svc.CreateSession("conn-1", sink, CreateRequest{ProjectID: "p1", Persistent: true})
		require.NoError(t, err)

		spawner.Last().Exit(0)
		assert.Equal(t, []int{0}, sink.exits)
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrNoActiveSession)
	})

	t.Run("session gone after write failure", func(t *testing.T) {
		spawner := ptytest.NewSpawner()
		svc, registry := setupTestService(t, spawner, session.Config{})
		sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
		require.NoError(t, err)

		spawner.Last().FailWrites()
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrSessionGone)
		_, alive := registry.Get(sess.ID())
		assert.False(t, alive)
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrNoActiveSession)
	})
}

func TestService_Heartbeat(t *testing.T) {
	svc, _ := setupTestService(t, ptytest.NewSpawner(), session.Config{})

	_, touched := svc.Heartbeat("conn-1")
	assert.False(t, touched)

	sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
	require.NoError(t, err)
	created := sess.LastActivityAt()

	time.Sleep(2 * time.Millisecond)
	ts, touched := svc.Heartbeat("conn-1")
	assert.True(t, touched)
	assert.True(t, sess.LastActivityAt().After(created))
	assert.WithinDuration(t, time.Now(), ts, time.Second)
}

func TestService_Resize(t *testing.T) {
	spawner := ptytest.NewSpawner()
	svc, _ := setupTestService(t, spawner, session.Config{})

	assert.ErrorIs(t, svc.Resize("conn-1", 40, 100), model.ErrNoActiveSession)

	_, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
	require.NoError(t, err)
	require.NoError(t, svc.Resize("conn-1", 40, 100))
	assert.Equal(t, [][2]uint16{{40, 100}}, spawner.Last().Resizes())
}

func TestService_CleanupSession(t *testing.T) {
	svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
	sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
	require.NoError(t, err)

	assert.True(t, svc.CleanupSession("conn-1", sess.ID()))
	_, alive := registry.Get(sess.ID())
	assert.False(t, alive)
	assert.False(t, svc.CleanupSession("conn-1", sess.ID()))
	assert.False(t, svc.CleanupSession("conn-1", ""))
	assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("x")), model.ErrNoActiveSession)
}

func TestService_NonPersistentDisconnect(t *testing.T) {
	svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
	sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
	require.NoError(t, err)

	svc.Disconnect("conn-1")
	_, alive := registry.Get(sess.ID())
	assert.False(t, alive)
}

func TestService_CreateReplacesLegacySession(t *testing.T) {
	svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
	old, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
	require.NoError(t, err)

	_, err = svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
	require.NoError(t, err)

	_, alive := registry.Get(old.ID())
	assert.False(t, alive)
	assert.Equal(t, 1, registry.Len())
}

func TestService_FailedCreateReleasesPriorSession(t *testing.T) {
	spawner := ptytest.NewSpawner()
	svc, registry := setupTestService(t, spawner, session.Config{})
	old, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
	require.NoError(t, err)
	oldHandle := spawner.Last()

	spawner.Err = assert.AnError
	_, err = svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
	require.ErrorIs(t, err, model.ErrSpawnFailed)

	_, alive := registry.Get(old.ID())
	assert.False(t, alive)
	assert.Eventually(t, oldHandle.Exited, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("rm -rf build\n")), model.ErrNoActiveSession)
	assert.Empty(t, oldHandle.Written())
}

func TestService_FailedRestoreReleasesPriorSession(t *testing.T) {
	t.Run("non-persistent session is destroyed", func(t *testing.T) {
		svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
		old, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
		require.NoError(t, err)

		_, err = svc.RestoreSession("conn-1", &connSink{}, "p1", "missing")
		require.ErrorIs(t, err, model.ErrSessionNotFound)

		_, alive := registry.Get(old.ID())
		assert.False(t, alive)
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrNoActiveSession)
	})

	t.Run("persistent session is unbound but kept", func(t *testing.T) {
		svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
		old, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: true})
		require.NoError(t, err)

		_, err = svc.RestoreSession("conn-1", &connSink{}, "p2", old.ID()+"x")
		require.ErrorIs(t, err, model.ErrSessionNotFound)

		_, alive := registry.Get(old.ID())
		assert.True(t, alive)
		assert.ErrorIs(t, svc.WriteInput("conn-1", []byte("ls\n")), model.ErrNoActiveSession)
	})

	t.Run("restoring the bound session keeps it", func(t *testing.T) {
		svc, registry := setupTestService(t, ptytest.NewSpawner(), session.Config{})
		sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", Persistent: false})
		require.NoError(t, err)

		_, err = svc.RestoreSession("conn-1", &connSink{}, "p1", sess.ID())
		require.NoError(t, err)
		_, alive := registry.Get(sess.ID())
		assert.True(t, alive)
		assert.NoError(t, svc.WriteInput("conn-1", []byte("ls\n")))
	})
}

func TestService_SplitCharacterReachesSinkWhole(t *testing.T) {
	spawner := ptytest.NewSpawner()
	svc, _ := setupTestService(t, spawner, session.Config{})
	sink := &connSink{}
	_, err := svc.CreateSession("conn-1", sink, CreateRequest{ProjectID: "p1", Persistent: true})
	require.NoError(t, err)

	h := spawner.Last()
	h.Emit("\xe4\xbd")
	assert.Empty(t, sink.Output())
	h.Emit("\xa0ok")
	assert.Equal(t, "你ok", sink.Output())
}

func TestService_Sessions(t *testing.T) {
	svc, _ := setupTestService(t, ptytest.NewSpawner(), session.Config{})
	sess, err := svc.CreateSession("conn-1", &connSink{}, CreateRequest{ProjectID: "p1", WorkingDirectory: "/srv", Persistent: true})
	require.NoError(t, err)

	list := svc.Sessions("p1")
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID(), list[0].ID)
	assert.Equal(t, "/srv", list[0].WorkingDirectory)
	assert.Empty(t, svc.Sessions("p2"))
}

func TestService_RealShell(t *testing.T) {
	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	svc, _ := setupTestService(t, pty.ShellSpawner{}, session.Config{Shell: shell})
	dir := t.TempDir()

	first := &connSink{}
	sess, err := svc.CreateSession("conn-1", first, CreateRequest{
		ProjectID:        "p1",
		WorkingDirectory: dir,
		Persistent:       true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.WriteInput("conn-1", []byte("echo hi\n")))
	assert.Eventually(t, func() bool {
		return strings.Contains(first.Output(), "hi")
	}, 5*time.Second, 20*time.Millisecond)

	svc.Disconnect("conn-1")
	createdActivity := sess.LastActivityAt()
	time.Sleep(2 * time.Millisecond)

	second := &connSink{}
	restored, err := svc.RestoreSession("conn-2", second, "p1", sess.ID())
	require.NoError(t, err)
	assert.True(t, restored.LastActivityAt().After(createdActivity))

	require.NoError(t, svc.WriteInput("conn-2", []byte("echo again\n")))
	assert.Eventually(t, func() bool {
		return strings.Contains(second.Output(), "again")
	}, 5*time.Second, 20*time.Millisecond)
}
