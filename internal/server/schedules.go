package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/scheduler"
	"github.com/loykin/mcpanel/internal/store"
)

// ScheduleStore persists the schedules behind the per-server endpoints.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, s store.Schedule) (int64, error)
	GetSchedule(ctx context.Context, id int64) (store.Schedule, error)
	ListSchedules(ctx context.Context) ([]store.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
}

// ScheduleControl is the live scheduler the stored schedules are mirrored
// into.
type ScheduleControl interface {
	ScheduleLister
	Add(s store.Schedule) error
	Remove(id int64)
	RunNow(id int64) error
}

// ServerDeleter removes a server and its schedules from storage.
type ServerDeleter interface {
	DeleteServer(ctx context.Context, id int64) error
}

// scheduleReq is the body of a schedule create or update. Absent fields
// keep their current value; a new schedule is enabled unless told otherwise.
type scheduleReq struct {
	Name    *string `json:"name"`
	Type    *string `json:"type"`
	Cron    *string `json:"cron"`
	Command *string `json:"command"`
	Message *string `json:"message"`
	Enabled *bool   `json:"enabled"`
}

func (q scheduleReq) apply(sc *store.Schedule) {
	if q.Name != nil {
		sc.Name = *q.Name
	}
	if q.Type != nil {
		sc.Type = *q.Type
	}
	if q.Cron != nil {
		sc.Cron = *q.Cron
	}
	if q.Command != nil {
		sc.Command = *q.Command
	}
	if q.Message != nil {
		sc.Message = *q.Message
	}
	if q.Enabled != nil {
		sc.Enabled = *q.Enabled
	}
}

const ctxSchedule = "schedule"

func (r *Router) schedulesStored(c *gin.Context) bool {
	if r.opts.scheduleStore == nil || r.opts.control == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "schedules are not stored"})
		c.Abort()
		return false
	}
	return true
}

// resolveSchedule loads :schedId and 404s schedules of other servers.
func (r *Router) resolveSchedule(c *gin.Context) {
	if !r.schedulesStored(c) {
		return
	}
	id, ok := parseID(c.Param("schedId"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid schedule id"})
		c.Abort()
		return
	}
	sc, err := r.opts.scheduleStore.GetSchedule(c.Request.Context(), id)
	if err == nil && sc.ServerID != serverID(c) {
		err = store.ErrScheduleNotFound
	}
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Set(ctxSchedule, sc)
	c.Next()
}

func currentSchedule(c *gin.Context) store.Schedule {
	v, _ := c.Get(ctxSchedule)
	sc, _ := v.(store.Schedule)
	return sc
}

// handleServerSchedules lists every stored schedule of the server with its
// next run; disabled schedules have no next run.
func (r *Router) handleServerSchedules(c *gin.Context) {
	if !r.schedulesStored(c) {
		return
	}
	list, err := r.opts.scheduleStore.ListSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	next := map[int64]scheduler.Entry{}
	for _, e := range r.opts.control.Entries() {
		next[e.Schedule.ID] = e
	}
	out := []scheduler.Entry{}
	for _, sc := range list {
		if sc.ServerID != serverID(c) {
			continue
		}
		out = append(out, scheduler.Entry{Schedule: sc, Next: next[sc.ID].Next})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCreateSchedule(c *gin.Context) {
	if !r.schedulesStored(c) {
		return
	}
	sc := store.Schedule{ServerID: serverID(c), Enabled: true}
	if !bindSchedule(c, &sc) {
		return
	}
	r.saveSchedule(c, sc, http.StatusCreated)
}

func (r *Router) handleUpdateSchedule(c *gin.Context) {
	sc := currentSchedule(c)
	if !bindSchedule(c, &sc) {
		return
	}
	r.saveSchedule(c, sc, http.StatusOK)
}

func bindSchedule(c *gin.Context, sc *store.Schedule) bool {
	var req scheduleReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return false
	}
	req.apply(sc)
	if err := scheduler.Validate(*sc); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return false
	}
	return true
}

// saveSchedule stores sc, then registers it with the scheduler.
func (r *Router) saveSchedule(c *gin.Context, sc store.Schedule, code int) {
	id, err := r.opts.scheduleStore.UpsertSchedule(c.Request.Context(), sc)
	if err != nil {
		writeError(c, err)
		return
	}
	sc.ID = id
	if err := r.opts.control.Add(sc); err != nil {
		writeError(c, err)
		return
	}
	r.opts.log.Info("schedule saved", "schedule", sc.ID, "server", sc.ServerID, "type", sc.Type, "enabled", sc.Enabled)
	writeJSON(c, code, sc)
}

func (r *Router) handleDeleteSchedule(c *gin.Context) {
	sc := currentSchedule(c)
	r.opts.control.Remove(sc.ID)
	if err := r.opts.scheduleStore.DeleteSchedule(c.Request.Context(), sc.ID); err != nil {
		writeError(c, err)
		return
	}
	r.opts.log.Info("schedule deleted", "schedule", sc.ID, "server", sc.ServerID)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRunSchedule(c *gin.Context) {
	if err := r.opts.control.RunNow(currentSchedule(c).ID); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleDeleteServer stops the server, drops its schedules from the
// scheduler and removes it from storage. Lifecycle events are kept.
func (r *Router) handleDeleteServer(c *gin.Context) {
	if r.opts.deleter == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "servers are not stored"})
		return
	}
	ctx := c.Request.Context()
	id := serverID(c)
	if err := r.sup.Stop(ctx, id, false); err != nil && !errors.Is(err, mng.ErrNotRunning) {
		writeError(c, err)
		return
	}
	if r.opts.control != nil {
		for _, e := range r.opts.control.Entries() {
			if e.Schedule.ServerID == id {
				r.opts.control.Remove(e.Schedule.ID)
			}
		}
	}
	if err := r.opts.deleter.DeleteServer(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	r.opts.log.Info("server deleted", "server", id)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
