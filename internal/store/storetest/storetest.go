// Package storetest holds the behaviour checks every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/store"
)

// Run exercises st, which must have an empty schema already ensured.
func Run(t *testing.T, st store.Store) {
	t.Helper()
	t.Run("Servers", func(t *testing.T) { servers(t, st) })
	t.Run("Events", func(t *testing.T) { events(t, st) })
	t.Run("Schedules", func(t *testing.T) { schedules(t, st) })
}

func servers(t *testing.T, st store.Store) {
	ctx := context.Background()

	id, err := st.UpsertServer(ctx, manager.LaunchConfig{
		Name:        "survival",
		ServerDir:   "/srv/mc/survival",
		MemoryMax:   "4G",
		JVMArgs:     []string{"-XX:+UseG1GC"},
		AutoStart:   true,
		AutoRestart: true,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := st.GetServer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "survival", got.Name)
	assert.Equal(t, "4G", got.MemoryMax)
	assert.Equal(t, []string{"-XX:+UseG1GC"}, got.JVMArgs)
	assert.True(t, got.AutoStart)
	assert.False(t, got.CreatedAt.IsZero())

	// explicit id creates, then replaces
	_, err = st.UpsertServer(ctx, manager.LaunchConfig{ID: 500, Name: "lobby", ServerDir: "/srv/mc/lobby"})
	require.NoError(t, err)
	_, err = st.UpsertServer(ctx, manager.LaunchConfig{ID: 500, Name: "hub", ServerDir: "/srv/mc/lobby", JarFile: "paper.jar"})
	require.NoError(t, err)

	lc, err := st.LaunchConfig(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, "hub", lc.Name)
	assert.Equal(t, "paper.jar", lc.JarFile)
	assert.Equal(t, int64(500), lc.ID)
	assert.Empty(t, lc.JVMArgs)

	// ids handed out after an explicit insert do not collide
	next, err := st.UpsertServer(ctx, manager.LaunchConfig{Name: "creative", ServerDir: "/srv/mc/creative"})
	require.NoError(t, err)
	assert.Greater(t, next, int64(500))

	ids, err := st.ServerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{id, 500, next}, ids)

	auto, err := st.AutoStartConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, id, auto[0].ID)

	all, err := st.ListServers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = st.UpsertServer(ctx, manager.LaunchConfig{Name: "nodir"})
	assert.Error(t, err)

	require.NoError(t, st.DeleteServer(ctx, 500))
	_, err = st.LaunchConfig(ctx, 500)
	assert.ErrorIs(t, err, manager.ErrServerNotFound)
	assert.ErrorIs(t, st.DeleteServer(ctx, 500), manager.ErrServerNotFound)
}

func events(t *testing.T, st store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	seq := []history.Event{
		{Type: history.EventStart, OccurredAt: base, ServerID: 7, Name: "survival", PID: 4242},
		{Type: history.EventReady, OccurredAt: base.Add(time.Second), ServerID: 7, Name: "survival", PID: 4242},
		{Type: history.EventCrash, OccurredAt: base.Add(2 * time.Second), ServerID: 7, Name: "survival", PID: 4242, ExitCode: 137},
		{Type: history.EventStart, OccurredAt: base, ServerID: 8, Name: "other"},
	}
	for _, e := range seq {
		require.NoError(t, st.Send(ctx, e))
	}

	got, err := st.Events(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, history.EventCrash, got[0].Type)
	assert.Equal(t, 137, got[0].ExitCode)
	assert.True(t, got[0].OccurredAt.Equal(base.Add(2*time.Second)))
	assert.Equal(t, history.EventReady, got[1].Type)

	all, err := st.Events(ctx, 7, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func schedules(t *testing.T, st store.Store) {
	ctx := context.Background()

	id, err := st.UpsertSchedule(ctx, store.Schedule{
		ServerID: 1, Name: "nightly", Type: "restart", Cron: "0 4 * * *", Enabled: true,
	})
	require.NoError(t, err)
	_, err = st.UpsertSchedule(ctx, store.Schedule{
		ServerID: 1, Name: "hello", Type: "message", Cron: "*/30 * * * *", Message: "hi", Enabled: false,
	})
	require.NoError(t, err)

	_, err = st.UpsertSchedule(ctx, store.Schedule{ServerID: 1, Type: "restart"})
	assert.Error(t, err)

	list, err := st.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "nightly", list[0].Name)
	assert.True(t, list[0].Enabled)
	assert.Nil(t, list[0].LastRun)
	assert.False(t, list[1].Enabled)
	assert.Equal(t, "hi", list[1].Message)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.MarkScheduleRun(ctx, id, at))
	list, err = st.ListSchedules(ctx)
	require.NoError(t, err)
	require.NotNil(t, list[0].LastRun)
	assert.True(t, list[0].LastRun.Equal(at))

	list[1].Enabled = true
	_, err = st.UpsertSchedule(ctx, list[1])
	require.NoError(t, err)
	list, err = st.ListSchedules(ctx)
	require.NoError(t, err)
	assert.True(t, list[1].Enabled)

	// config schedules carry their own ids
	fixed, err := st.UpsertSchedule(ctx, store.Schedule{ID: 900, ServerID: 2, Type: "command", Cron: "0 * * * *", Command: "save-all"})
	require.NoError(t, err)
	assert.Equal(t, int64(900), fixed)
	after, err := st.UpsertSchedule(ctx, store.Schedule{ServerID: 2, Type: "command", Cron: "0 * * * *"})
	require.NoError(t, err)
	assert.Greater(t, after, int64(900))

	got, err := st.GetSchedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	require.NotNil(t, got.LastRun)

	require.NoError(t, st.DeleteSchedule(ctx, id))
	_, err = st.GetSchedule(ctx, id)
	assert.ErrorIs(t, err, store.ErrScheduleNotFound)
	assert.ErrorIs(t, st.DeleteSchedule(ctx, id), store.ErrScheduleNotFound)
	list, err = st.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
