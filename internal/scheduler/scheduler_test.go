package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/store"
)

type fakeRunner struct {
	mu       sync.Mutex
	restarts []string
	commands []string
	err      error
}

func (f *fakeRunner) Restart(_ context.Context, id int64, reason string) (manager.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, reason)
	return manager.State{ID: id, Status: manager.StatusRunning}, f.err
}

func (f *fakeRunner) SendCommand(_ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, text)
	return f.err
}

func (f *fakeRunner) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarts...), append([]string(nil), f.commands...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs map[int64]time.Time
}

func (r *fakeRecorder) MarkScheduleRun(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[int64]time.Time{}
	}
	r.runs[id] = at
	return nil
}

func (r *fakeRecorder) has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

func TestValidate(t *testing.T) {
	ok := store.Schedule{ServerID: 1, Type: TypeRestart, Cron: "0 4 * * *"}
	require.NoError(t, Validate(ok))

	daily := ok
	daily.Cron = "@daily"
	assert.NoError(t, Validate(daily))

	cases := map[string]store.Schedule{
		"no server":    {Type: TypeRestart, Cron: "0 4 * * *"},
		"seconds":      {ServerID: 1, Type: TypeRestart, Cron: "0 0 4 * * *"},
		"garbage cron": {ServerID: 1, Type: TypeCommand, Cron: "every day"},
		"unknown type": {ServerID: 1, Type: "reboot", Cron: "0 4 * * *"},
	}
	for name, sc := range cases {
		assert.Error(t, Validate(sc), name)
	}

	err := Validate(store.Schedule{ServerID: 1, Type: TypeBackup, Cron: "0 4 * * *"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), "backups")
	assert.ErrorIs(t, Validate(cases["garbage cron"]), ErrInvalidCron)
}

func TestRunNowExecutesEachType(t *testing.T) {
	r := &fakeRunner{}
	rec := &fakeRecorder{}
	s := New(r, WithRecorder(rec))

	list := []store.Schedule{
		{ID: 1, ServerID: 7, Name: "nightly", Type: TypeRestart, Cron: "0 4 * * *", Enabled: true},
		{ID: 2, ServerID: 7, Name: "save", Type: TypeCommand, Cron: "*/5 * * * *", Command: " save-all ", Enabled: true},
		{ID: 3, ServerID: 7, Name: "motd", Type: TypeMessage, Cron: "0 * * * *", Message: "Restart at 4am", Enabled: true},
		{ID: 4, ServerID: 7, Name: "blank", Type: TypeMessage, Cron: "0 * * * *", Enabled: true},
		{ID: 5, ServerID: 7, Name: "default", Type: TypeCommand, Cron: "0 * * * *", Enabled: true},
	}
	assert.Equal(t, 5, s.Load(list))
	for _, sc := range list {
		require.NoError(t, s.RunNow(sc.ID))
	}

	restarts, commands := r.snapshot()
	assert.Equal(t, []string{RestartReason}, restarts)
	assert.Equal(t, []string{"save-all", "say Restart at 4am", "say Scheduled message", "say Scheduled command"}, commands)
	for _, sc := range list {
		assert.True(t, rec.has(sc.ID), "last run of %d", sc.ID)
	}
}

func TestFailedRunIsNotRecorded(t *testing.T) {
	r := &fakeRunner{err: errors.New("server is not running")}
	rec := &fakeRecorder{}
	s := New(r, WithRecorder(rec))
	require.NoError(t, s.Add(store.Schedule{ID: 9, ServerID: 1, Type: TypeCommand, Cron: "0 * * * *", Command: "list", Enabled: true}))

	assert.Error(t, s.RunNow(9))
	assert.False(t, rec.has(9))
}

func TestAddReplacesAndDisabledRemoves(t *testing.T) {
	s := New(&fakeRunner{})
	sc := store.Schedule{ID: 1, ServerID: 1, Type: TypeRestart, Cron: "0 4 * * *", Enabled: true}
	require.NoError(t, s.Add(sc))
	sc.Cron = "30 5 * * *"
	require.NoError(t, s.Add(sc))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "30 5 * * *", entries[0].Schedule.Cron)
	assert.Equal(t, 5, entries[0].Next.Hour())
	assert.Equal(t, 30, entries[0].Next.Minute())

	sc.Enabled = false
	require.NoError(t, s.Add(sc))
	assert.Empty(t, s.Entries())
	assert.Error(t, s.RunNow(1))

	require.Error(t, s.Add(store.Schedule{ServerID: 1, Type: TypeRestart, Cron: "0 4 * * *", Enabled: true}))
}

func TestLoadSkipsInvalid(t *testing.T) {
	s := New(&fakeRunner{})
	n := s.Load([]store.Schedule{
		{ID: 1, ServerID: 1, Type: TypeBackup, Cron: "0 4 * * *", Enabled: true},
		{ID: 2, ServerID: 1, Type: TypeRestart, Cron: "nope", Enabled: true},
		{ID: 3, ServerID: 1, Type: TypeRestart, Cron: "0 4 * * *", Enabled: false},
		{ID: 4, ServerID: 1, Type: TypeRestart, Cron: "0 4 * * *", Enabled: true},
	})
	assert.Equal(t, 1, n)
	require.Len(t, s.Entries(), 1)
	assert.Equal(t, int64(4), s.Entries()[0].Schedule.ID)

	s.Remove(4)
	s.Remove(4)
	assert.Empty(t, s.Entries())
}

func TestScheduleFires(t *testing.T) {
	r := &fakeRunner{}
	rec := &fakeRecorder{}
	s := New(r, WithRecorder(rec), WithLocation(time.UTC))
	require.NoError(t, s.Add(store.Schedule{ID: 1, ServerID: 3, Type: TypeMessage, Cron: "@every 1s", Message: "tick", Enabled: true}))

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return rec.has(1) }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	_, commands := r.snapshot()
	require.NotEmpty(t, commands)
	assert.Equal(t, "say tick", commands[0])
}
