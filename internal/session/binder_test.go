package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBinder_BindResolveUnbind(t *testing.T) {
	registry, _, _, m := setupTestRegistry(t, Config{})
	binder := NewBinder(registry, zap.NewNop(), m)
	s := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})

	_, ok := binder.Resolve("conn-1")
	assert.False(t, ok)

	binder.Bind("conn-1", s.ID())
	got, ok := binder.Resolve("conn-1")
	require.True(t, ok)
	assert.Equal(t, s.ID(), got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BindingsActive))

	got, ok = binder.Unbind("conn-1")
	require.True(t, ok)
	assert.Equal(t, s.ID(), got)
	_, ok = binder.Unbind("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 0, binder.Len())

	_, alive := registry.Get(s.ID())
	assert.True(t, alive, "unbind never destroys")
}

func TestBinder_Rebind(t *testing.T) {
	t.Run("prior non-persistent session is destroyed", func(t *testing.T) {
		registry, _, _, m := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), m)
		old := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false})
		next := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false})

		binder.Bind("conn-1", old.ID())
		binder.Bind("conn-1", next.ID())

		_, alive := registry.Get(old.ID())
		assert.False(t, alive)
		got, _ := binder.Resolve("conn-1")
		assert.Equal(t, next.ID(), got)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsDestroyed.WithLabelValues(ReasonRebind)))
	})

	t.Run("prior persistent session survives", func(t *testing.T) {
		registry, _, _, _ := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), nil)
		old := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
		next := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})

		sink := &outputSink{}
		old.Relay().Attach("conn-1", sink)
		binder.Bind("conn-1", old.ID())
		binder.Bind("conn-1", next.ID())

		_, alive := registry.Get(old.ID())
		assert.True(t, alive)
		_, bound := old.Relay().BoundTo()
		assert.False(t, bound, "old relay is detached from the connection")
	})

	t.Run("binding the same session again is a no-op", func(t *testing.T) {
		registry, _, _, _ := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), nil)
		s := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false})

		binder.Bind("conn-1", s.ID())
		binder.Bind("conn-1", s.ID())

		_, alive := registry.Get(s.ID())
		assert.True(t, alive)
	})
}

func TestBinder_Disconnect(t *testing.T) {
	registry, _, _, _ := setupTestRegistry(t, Config{})
	binder := NewBinder(registry, zap.NewNop(), nil)
	persistent := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
	legacy := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false})

	binder.Bind("conn-a", persistent.ID())
	binder.Bind("conn-b", legacy.ID())

	got, ok := binder.Disconnect("conn-a")
	require.True(t, ok)
	assert.Equal(t, persistent.ID(), got)
	_, alive := registry.Get(persistent.ID())
	assert.True(t, alive, "persistent session survives disconnect")

	_, ok = binder.Disconnect("conn-b")
	require.True(t, ok)
	_, alive = registry.Get(legacy.ID())
	assert.False(t, alive, "non-persistent session is destroyed on disconnect")

	_, ok = binder.Disconnect("conn-unknown")
	assert.False(t, ok)
}

func TestBinder_UnbindSession(t *testing.T) {
	registry, _, _, _ := setupTestRegistry(t, Config{})
	binder := NewBinder(registry, zap.NewNop(), nil)
	s := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
	other := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})

	binder.Bind("conn-1", s.ID())
	binder.Bind("conn-2", s.ID())
	binder.Bind("conn-3", other.ID())

	assert.Equal(t, 2, binder.UnbindSession(s.ID()))
	assert.Equal(t, 1, binder.Len())
	_, ok := binder.Resolve("conn-1")
	assert.False(t, ok)
}

func TestBinder_Release(t *testing.T) {
	registry, _, _, m := setupTestRegistry(t, Config{})
	binder := NewBinder(registry, zap.NewNop(), m)
	persistent := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
	legacy := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false})

	binder.Bind("conn-a", persistent.ID())
	binder.Bind("conn-b", legacy.ID())

	got, ok := binder.Release("conn-a")
	require.True(t, ok)
	assert.Equal(t, persistent.ID(), got)
	_, alive := registry.Get(persistent.ID())
	assert.True(t, alive)

	_, ok = binder.Release("conn-b")
	require.True(t, ok)
	_, alive = registry.Get(legacy.ID())
	assert.False(t, alive)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsDestroyed.WithLabelValues(ReasonRebind)))

	_, ok = binder.Release("conn-a")
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BindingsActive))
}

func TestBinder_TornDownSessionsDropBindings(t *testing.T) {
	t.Run("process exit", func(t *testing.T) {
		registry, spawner, _, m := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), m)
		s := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
		binder.Bind("conn-1", s.ID())
		require.Equal(t, 1.0, testutil.ToFloat64(m.BindingsActive))

		spawner.Last().Exit(0)

		_, ok := binder.Resolve("conn-1")
		assert.False(t, ok)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.BindingsActive))
	})

	t.Run("reaper", func(t *testing.T) {
		registry, _, clock, m := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), m)
		s := mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true})
		binder.Bind("conn-1", s.ID())

		clock.Advance(time.Hour)
		require.Equal(t, 1, NewReaper(registry, time.Minute, zap.NewNop()).Scan(clock.Now()))

		assert.Equal(t, 0, binder.Len())
		assert.Equal(t, 0.0, testutil.ToFloat64(m.BindingsActive))
	})

	t.Run("registry close", func(t *testing.T) {
		registry, _, _, _ := setupTestRegistry(t, Config{})
		binder := NewBinder(registry, zap.NewNop(), nil)
		binder.Bind("conn-1", mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: true}).ID())
		binder.Bind("conn-2", mustCreate(t, registry, CreateOptions{ProjectID: "p1", Persistent: false}).ID())

		registry.Close()
		assert.Equal(t, 0, binder.Len())
	})
}
