package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/mcpanel/internal/history"
	mng "github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/sampler"
	"github.com/loykin/mcpanel/internal/scheduler"
	"github.com/loykin/mcpanel/internal/store"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	configs  map[int64]mng.LaunchConfig
	states   map[int64]mng.State
	console  []string
	subs     []func(string)
	err      error
	stops    []bool
	commands []string
	reasons  []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		configs: map[int64]mng.LaunchConfig{
			1: {ID: 1, Name: "survival", ServerDir: "/srv/survival"},
			2: {ID: 2, ServerDir: "/srv/creative"},
		},
		states: map[int64]mng.State{
			1: {ID: 1, Status: mng.StatusRunning, PID: 4242},
		},
	}
}

func (f *fakeSupervisor) Config(_ context.Context, id int64) (mng.LaunchConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[id]
	if !ok {
		return mng.LaunchConfig{}, mng.ErrServerNotFound
	}
	return c, nil
}

func (f *fakeSupervisor) Start(_ context.Context, id int64) (mng.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return mng.State{}, f.err
	}
	st := mng.State{ID: id, Status: mng.StatusStarting, PID: 99}
	f.states[id] = st
	return st, nil
}

func (f *fakeSupervisor) Stop(_ context.Context, _ int64, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, force)
	return f.err
}

func (f *fakeSupervisor) Restart(_ context.Context, id int64, reason string) (mng.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return mng.State{ID: id, Status: mng.StatusStarting, Restarts: 1}, f.err
}

func (f *fakeSupervisor) SendCommand(_ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, text)
	return nil
}

func (f *fakeSupervisor) State(id int64) mng.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		return st
	}
	return mng.State{ID: id, Status: mng.StatusStopped}
}

func (f *fakeSupervisor) States(context.Context) map[int64]mng.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]mng.Status{}
	for id := range f.configs {
		out[id] = mng.StatusStopped
	}
	for id, st := range f.states {
		out[id] = st.Status
	}
	return out
}

func (f *fakeSupervisor) ResourceUsage(int64) sampler.Usage {
	return sampler.Usage{CPUPercent: 12.5, MemoryMB: 2048, UptimeSeconds: 60}
}

func (f *fakeSupervisor) Console(int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.console...)
}

func (f *fakeSupervisor) Subscribe(_ int64, fn func(string)) ([]string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return append([]string(nil), f.console...), func() {}
}

func (f *fakeSupervisor) emit(line string) {
	f.mu.Lock()
	subs := append([]func(string){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(line)
	}
}

func (f *fakeSupervisor) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSupervisor) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSupervisor) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fakeEvents struct{ limit int }

func (e *fakeEvents) Events(_ context.Context, id int64, limit int) ([]history.Event, error) {
	e.limit = limit
	return []history.Event{{Type: history.EventCrash, ServerID: id, ExitCode: 137}}, nil
}

type fakeSchedules []scheduler.Entry

func (s fakeSchedules) Entries() []scheduler.Entry { return s }

func setupRouter(t *testing.T, sup Supervisor, base string, opts ...Option) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(sup, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListServers(t *testing.T) {
	h := setupRouter(t, newFakeSupervisor(), "/api")
	rec := doReq(t, h, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"1": "running", "2": "stopped"}, decode[map[string]string](t, rec))
}

func TestServerStateAndName(t *testing.T) {
	h := setupRouter(t, newFakeSupervisor(), "/api")

	rec := doReq(t, h, http.MethodGet, "/api/servers/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[map[string]any](t, rec)
	assert.Equal(t, "running", v["status"])
	assert.Equal(t, "survival", v["name"])
	assert.EqualValues(t, 4242, v["pid"])

	rec = doReq(t, h, http.MethodGet, "/api/servers/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "server-2", decode[map[string]any](t, rec)["name"])
}

func TestServerIDValidation(t *testing.T) {
	h := setupRouter(t, newFakeSupervisor(), "/api")
	for _, p := range []string{"abc", "0", "-1", "1.5", "99999999999999999999"} {
		rec := doReq(t, h, http.MethodGet, "/api/servers/"+p, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
	}
	rec := doReq(t, h, http.MethodPost, "/api/servers/77/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "server not found", decode[errorResp](t, rec).Error)
}

func TestStartMapsErrors(t *testing.T) {
	sup := newFakeSupervisor()
	h := setupRouter(t, sup, "/api")

	rec := doReq(t, h, http.MethodPost, "/api/servers/2/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "starting", decode[map[string]any](t, rec)["status"])

	cases := []struct {
		err  error
		code int
	}{
		{mng.ErrAlreadyRunning, http.StatusConflict},
		{mng.ErrStopping, http.StatusConflict},
		{fmt.Errorf("paper.jar: %w", mng.ErrJarNotFound), http.StatusUnprocessableEntity},
		{mng.ErrExitedDuringStartup, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		sup.setErr(tc.err)
		rec := doReq(t, h, http.MethodPost, "/api/servers/2/start", nil)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Equal(t, tc.err.Error(), decode[errorResp](t, rec).Error)
	}
}

func TestStopForceFlag(t *testing.T) {
	sup := newFakeSupervisor()
	h := setupRouter(t, sup, "/api")

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/servers/1/stop", nil).Code)
	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/servers/1/stop", stopReq{Force: true}).Code)
	assert.Equal(t, []bool{false, true}, sup.stops)

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/api/servers/1/stop", "{nope").Code)

	sup.setErr(mng.ErrNotRunning)
	rec := doReq(t, h, http.MethodPost, "/api/servers/1/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "server is not running", decode[errorResp](t, rec).Error)
}

func TestRestartIsManual(t *testing.T) {
	sup := newFakeSupervisor()
	h := setupRouter(t, sup, "/api")
	rec := doReq(t, h, http.MethodPost, "/api/servers/1/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"manual"}, sup.reasons)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["restarts"])
}

func TestSendCommand(t *testing.T) {
	sup := newFakeSupervisor()
	h := setupRouter(t, sup, "/api")

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/servers/1/command", commandReq{Command: "say hi"}).Code)
	assert.Equal(t, []string{"say hi"}, sup.sentCommands())

	for _, bad := range []any{commandReq{}, commandReq{Command: "   "}, commandReq{Command: "op me\nstop"}, "[]"} {
		assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/api/servers/1/command", bad).Code)
	}

	sup.setErr(mng.ErrNotRunning)
	assert.Equal(t, http.StatusConflict, doReq(t, h, http.MethodPost, "/api/servers/1/command", commandReq{Command: "list"}).Code)
}

func TestResourcesAndConsole(t *testing.T) {
	sup := newFakeSupervisor()
	sup.console = []string{"[12:00:00 INFO]: Done (3.1s)!"}
	h := setupRouter(t, sup, "/api")

	rec := doReq(t, h, http.MethodGet, "/api/servers/1/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]float64{"cpu": 12.5, "memory": 2048, "uptime": 60}, decode[map[string]float64](t, rec))

	rec = doReq(t, h, http.MethodGet, "/api/servers/1/console", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lines":["[12:00:00 INFO]: Done (3.1s)!"]}`, rec.Body.String())
}

func TestEvents(t *testing.T) {
	sup := newFakeSupervisor()
	rec := doReq(t, setupRouter(t, sup, "/api"), http.MethodGet, "/api/servers/1/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ev := &fakeEvents{}
	h := setupRouter(t, sup, "/api", WithEvents(ev))
	rec = doReq(t, h, http.MethodGet, "/api/servers/1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultEventLimit, ev.limit)
	got := decode[[]history.Event](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 137, got[0].ExitCode)

	doReq(t, h, http.MethodGet, "/api/servers/1/events?limit=10000", nil)
	assert.Equal(t, maxEventLimit, ev.limit)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/api/servers/1/events?limit=x", nil).Code)
}

func TestSchedules(t *testing.T) {
	sup := newFakeSupervisor()
	rec := doReq(t, setupRouter(t, sup, "/api"), http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	next := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	h := setupRouter(t, sup, "/api", WithSchedules(fakeSchedules{{
		Schedule: store.Schedule{ID: 3, ServerID: 1, Name: "nightly", Type: "restart", Cron: "0 4 * * *", Enabled: true},
		Next:     next,
	}}))
	got := decode[[]scheduler.Entry](t, doReq(t, h, http.MethodGet, "/api/schedules", nil))
	require.Len(t, got, 1)
	assert.Equal(t, "nightly", got[0].Schedule.Name)
	assert.True(t, got[0].Next.Equal(next))
}

func TestTokenAuth(t *testing.T) {
	h := setupRouter(t, newFakeSupervisor(), "/api", WithToken("s3cret"))

	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodGet, "/healthz", nil).Code)

	rec := doReq(t, h, http.MethodGet, "/api/servers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, http.StatusUnauthorized, doReq(t, h, http.MethodGet, "/api/servers", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodGet, "/api/servers", nil, "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodGet, "/api/servers?token=s3cret", nil).Code)
	// unauthenticated callers cannot test which ids exist
	assert.Equal(t, http.StatusUnauthorized, doReq(t, h, http.MethodGet, "/api/servers/77", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	sup := newFakeSupervisor()
	assert.Equal(t, http.StatusNotFound, doReq(t, setupRouter(t, sup, ""), http.MethodGet, "/metrics", nil).Code)

	h := setupRouter(t, sup, "", WithMetrics(true), WithToken("x"))
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m wsMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestWebSocketConsole(t *testing.T) {
	sup := newFakeSupervisor()
	sup.console = []string{"Starting minecraft server", "Done (1.0s)!"}
	srv := httptest.NewServer(setupRouter(t, sup, "/api", WithStatusInterval(50*time.Millisecond)))
	defer srv.Close()

	conn := dialWS(t, srv, "/api/servers/1/ws")

	m := readWS(t, conn)
	assert.Equal(t, "buffer", m.Type)
	assert.Equal(t, sup.console, m.Lines)
	m = readWS(t, conn)
	assert.Equal(t, "status", m.Type)
	assert.Equal(t, mng.StatusRunning, m.Status)

	require.Eventually(t, func() bool { return sup.subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	sup.emit("[Server] hello")
	for {
		m = readWS(t, conn)
		if m.Type == "console" {
			break
		}
		assert.Equal(t, "status", m.Type)
	}
	assert.Equal(t, "[Server] hello", m.Line)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "command", Command: "list"}))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"list"}, sup.sentCommands())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "command", Command: "a\nb"}))
	for {
		m = readWS(t, conn)
		if m.Type == "error" {
			break
		}
	}
	assert.Contains(t, m.Error, "single non-empty line")
}

func TestWebSocketEmptyConsoleSkipsBuffer(t *testing.T) {
	sup := newFakeSupervisor()
	srv := httptest.NewServer(setupRouter(t, sup, "/api", WithToken("tok")))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/servers/2/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	conn := dialWS(t, srv, "/api/servers/2/ws?token=tok")
	m := readWS(t, conn)
	assert.Equal(t, "status", m.Type)
	assert.Equal(t, mng.StatusStopped, m.Status)
}

type memSchedules struct {
	mu      sync.Mutex
	next    int64
	rows    map[int64]store.Schedule
	deleted []int64
}

func newMemSchedules(rows ...store.Schedule) *memSchedules {
	m := &memSchedules{rows: map[int64]store.Schedule{}}
	for _, r := range rows {
		m.rows[r.ID] = r
		m.next = max(m.next, r.ID)
	}
	return m
}

func (m *memSchedules) UpsertSchedule(_ context.Context, s store.Schedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.next++
		s.ID = m.next
	}
	m.rows[s.ID] = s
	return s.ID, nil
}

func (m *memSchedules) GetSchedule(_ context.Context, id int64) (store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return store.Schedule{}, store.ErrScheduleNotFound
	}
	return s, nil
}

func (m *memSchedules) ListSchedules(context.Context) ([]store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Schedule
	for id := int64(1); id <= m.next; id++ {
		if s, ok := m.rows[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) DeleteSchedule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return store.ErrScheduleNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memSchedules) DeleteServer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

// fakeControl mirrors the enabled schedules like the scheduler does.
type fakeControl struct {
	mu     sync.Mutex
	active map[int64]store.Schedule
	ran    []int64
}

func newFakeControl() *fakeControl { return &fakeControl{active: map[int64]store.Schedule{}} }

func (f *fakeControl) Add(s store.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, s.ID)
	if s.Enabled {
		f.active[s.ID] = s
	}
	return nil
}

func (f *fakeControl) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
}

func (f *fakeControl) RunNow(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[id]; !ok {
		return fmt.Errorf("schedule %d: %w", id, scheduler.ErrNotActive)
	}
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeControl) Entries() []scheduler.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduler.Entry
	for _, s := range f.active {
		out = append(out, scheduler.Entry{Schedule: s, Next: time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)})
	}
	return out
}

func (f *fakeControl) isActive(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[id]
	return ok
}

func TestScheduleCRUD(t *testing.T) {
	st := newMemSchedules(store.Schedule{ID: 7, ServerID: 2, Name: "other", Type: "restart", Cron: "@daily", Enabled: true})
	ctl := newFakeControl()
	h := setupRouter(t, newFakeSupervisor(), "/api", WithScheduleStore(st, ctl))

	rec := doReq(t, h, http.MethodPost, "/api/servers/1/schedules", map[string]any{
		"name": "nightly", "type": "restart", "cron": "0 4 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Schedule](t, rec)
	assert.Equal(t, int64(8), created.ID)
	assert.Equal(t, int64(1), created.ServerID)
	assert.True(t, created.Enabled)
	assert.True(t, ctl.isActive(8))

	rec = doReq(t, h, http.MethodGet, "/api/servers/1/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]scheduler.Entry](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "nightly", list[0].Schedule.Name)
	assert.False(t, list[0].Next.IsZero())

	// partial update keeps the other fields
	rec = doReq(t, h, http.MethodPut, "/api/servers/1/schedules/8", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[store.Schedule](t, rec)
	assert.Equal(t, "0 4 * * *", updated.Cron)
	assert.False(t, updated.Enabled)
	assert.False(t, ctl.isActive(8))
	list = decode[[]scheduler.Entry](t, doReq(t, h, http.MethodGet, "/api/servers/1/schedules", nil))
	require.Len(t, list, 1)
	assert.True(t, list[0].Next.IsZero())

	rec = doReq(t, h, http.MethodPost, "/api/servers/1/schedules/8/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPut, "/api/servers/1/schedules/8", map[string]any{"enabled": true}).Code)
	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/servers/1/schedules/8/run", nil).Code)
	assert.Equal(t, []int64{8}, ctl.ran)

	// schedules of other servers are not reachable through this one
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPut, "/api/servers/1/schedules/7", map[string]any{"enabled": false}).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodDelete, "/api/servers/1/schedules/7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodDelete, "/api/servers/1/schedules/x", nil).Code)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/servers/1/schedules/8", nil).Code)
	assert.False(t, ctl.isActive(8))
	_, err := st.GetSchedule(context.Background(), 8)
	assert.ErrorIs(t, err, store.ErrScheduleNotFound)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPost, "/api/servers/1/schedules/8/run", nil).Code)
}

func TestScheduleValidation(t *testing.T) {
	h := setupRouter(t, newFakeSupervisor(), "/api", WithScheduleStore(newMemSchedules(), newFakeControl()))
	for _, body := range []any{
		map[string]any{"type": "restart", "cron": "every day"},
		map[string]any{"type": "backup", "cron": "@daily"},
		map[string]any{"type": "dance", "cron": "@daily"},
		map[string]any{"cron": "@daily"},
		"{nope",
	} {
		rec := doReq(t, h, http.MethodPost, "/api/servers/1/schedules", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPost, "/api/servers/77/schedules", map[string]any{"type": "restart", "cron": "@daily"}).Code)

	plain := setupRouter(t, newFakeSupervisor(), "/api")
	assert.Equal(t, http.StatusNotFound, doReq(t, plain, http.MethodGet, "/api/servers/1/schedules", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, plain, http.MethodDelete, "/api/servers/1/schedules/1", nil).Code)
}

func TestDeleteServer(t *testing.T) {
	sup := newFakeSupervisor()
	st := newMemSchedules()
	ctl := newFakeControl()
	require.NoError(t, ctl.Add(store.Schedule{ID: 3, ServerID: 1, Type: "restart", Cron: "@daily", Enabled: true}))
	require.NoError(t, ctl.Add(store.Schedule{ID: 4, ServerID: 2, Type: "restart", Cron: "@daily", Enabled: true}))

	assert.Equal(t, http.StatusNotFound, doReq(t, setupRouter(t, sup, "/api"), http.MethodDelete, "/api/servers/1", nil).Code)

	h := setupRouter(t, sup, "/api", WithScheduleStore(st, ctl), WithServerDeleter(st))
	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/servers/1", nil).Code)
	assert.Equal(t, []bool{false}, sup.stops)
	assert.Equal(t, []int64{1}, st.deleted)
	assert.False(t, ctl.isActive(3))
	assert.True(t, ctl.isActive(4))

	// a stopped server is deleted all the same
	sup.setErr(mng.ErrNotRunning)
	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/servers/2", nil).Code)
	assert.Equal(t, []int64{1, 2}, st.deleted)

	sup.setErr(mng.ErrStopping)
	assert.Equal(t, http.StatusConflict, doReq(t, h, http.MethodDelete, "/api/servers/2", nil).Code)
	assert.Equal(t, []int64{1, 2}, st.deleted)
}
